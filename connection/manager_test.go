package connection

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veriteos/tokenflow/provider"
	"github.com/veriteos/tokenflow/types"
)

var (
	tokenAddr = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	accountA  = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	accountB  = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")

	testNetwork = types.NetworkDescriptor{
		ChainID:   80002,
		ChainName: "polygon-amoy",
		NativeCurrency: types.NativeCurrency{
			Name: "POL", Symbol: "POL", Decimals: 18,
		},
		RPCURLs: []string{"https://rpc-amoy.polygon.technology"},
	}
)

// fakeProvider is a scriptable wallet capability. It also satisfies
// contract.Backend so minted handles run against the same fake.
type fakeProvider struct {
	mu sync.Mutex

	available    bool
	silent       []common.Address // eth_accounts
	silentErr    error
	prompted     []common.Address // eth_requestAccounts
	promptErr    error
	promptCalls  int
	promptHook   func() // runs while the authorization prompt is open
	chainID      *big.Int
	switchErrs   []error
	switchCalls  int
	addErr       error
	addCalls     int
	accountSubs  []func([]common.Address)
	chainSubs    []func(*big.Int)
	unsubscribed int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		available: true,
		chainID:   big.NewInt(80002),
	}
}

func (f *fakeProvider) Available(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.available
}

func (f *fakeProvider) RequestAccounts(context.Context) ([]common.Address, error) {
	f.mu.Lock()
	f.promptCalls++
	hook := f.promptHook
	accounts, err := f.prompted, f.promptErr
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

func (f *fakeProvider) Accounts(context.Context) ([]common.Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.silent, f.silentErr
}

func (f *fakeProvider) ChainID(context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chainID, nil
}

func (f *fakeProvider) SwitchChain(_ context.Context, chainID uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.switchCalls++
	if len(f.switchErrs) > 0 {
		err := f.switchErrs[0]
		f.switchErrs = f.switchErrs[1:]
		return err
	}
	f.chainID = new(big.Int).SetUint64(chainID)
	return nil
}

func (f *fakeProvider) AddChain(_ context.Context, _ types.NetworkDescriptor) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addCalls++
	return f.addErr
}

func (f *fakeProvider) SendTransaction(context.Context, common.Address, common.Address, []byte) (common.Hash, error) {
	return common.HexToHash("0x01"), nil
}

func (f *fakeProvider) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	return nil, nil
}

func (f *fakeProvider) TransactionReceipt(context.Context, common.Hash) (*ethtypes.Receipt, error) {
	return nil, ethereum.NotFound
}

type fakeSub struct{ f *fakeProvider }

func (s fakeSub) Unsubscribe() {
	s.f.mu.Lock()
	s.f.unsubscribed++
	s.f.mu.Unlock()
}

func (f *fakeProvider) OnAccountsChanged(fn func([]common.Address)) provider.Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accountSubs = append(f.accountSubs, fn)
	return fakeSub{f: f}
}

func (f *fakeProvider) OnChainChanged(fn func(*big.Int)) provider.Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chainSubs = append(f.chainSubs, fn)
	return fakeSub{f: f}
}

func (f *fakeProvider) fireAccountsChanged(accounts []common.Address) {
	f.mu.Lock()
	subs := append([]func([]common.Address){}, f.accountSubs...)
	f.mu.Unlock()
	for _, fn := range subs {
		fn(accounts)
	}
}

func (f *fakeProvider) fireChainChanged(chainID *big.Int) {
	f.mu.Lock()
	subs := append([]func(*big.Int){}, f.chainSubs...)
	f.mu.Unlock()
	for _, fn := range subs {
		fn(chainID)
	}
}

func (f *fakeProvider) prompts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.promptCalls
}

func newTestManager(f *fakeProvider, opts ...Option) *Manager {
	return NewManager(f, f, testNetwork, tokenAddr, opts...)
}

func attachConnected(t *testing.T, f *fakeProvider) *Manager {
	t.Helper()
	m := newTestManager(f)
	require.NoError(t, m.AttachProvider(context.Background()))
	_, err := m.Connect(context.Background())
	require.NoError(t, err)
	return m
}

func TestAttachFailsWithoutProvider(t *testing.T) {
	f := newFakeProvider()
	f.available = false
	m := newTestManager(f)

	err := m.AttachProvider(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.ErrNoProvider, types.CodeOf(err))
	assert.Equal(t, types.StateUnattached, m.Session().State())
}

func TestConnectRequiresAttach(t *testing.T) {
	m := newTestManager(newFakeProvider())

	_, err := m.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.ErrNoProvider, types.CodeOf(err))
}

func TestConnectRequiresContractAddress(t *testing.T) {
	f := newFakeProvider()
	m := NewManager(f, f, testNetwork, common.Address{})
	require.NoError(t, m.AttachProvider(context.Background()))

	_, err := m.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.ErrConfig, types.CodeOf(err))
}

func TestConnectPromptsAndMintsHandle(t *testing.T) {
	f := newFakeProvider()
	f.chainID = big.NewInt(1) // wrong network, needs a switch
	f.prompted = []common.Address{accountA}
	m := newTestManager(f)
	require.NoError(t, m.AttachProvider(context.Background()))

	handle, err := m.Connect(context.Background())
	require.NoError(t, err)
	require.NotNil(t, handle)
	assert.Equal(t, accountA, handle.Account())
	assert.False(t, handle.Stale())
	assert.Equal(t, 1, f.switchCalls)
	assert.Equal(t, 1, f.prompts())

	session := m.Session()
	assert.Equal(t, types.StateConnected, session.State())
	assert.Equal(t, accountA, *session.Account)
}

func TestConnectRegistersUnknownNetwork(t *testing.T) {
	f := newFakeProvider()
	f.chainID = big.NewInt(1)
	f.switchErrs = []error{fmt.Errorf("%w: code 4902", provider.ErrUnknownChain)}
	f.prompted = []common.Address{accountA}
	m := newTestManager(f)
	require.NoError(t, m.AttachProvider(context.Background()))

	_, err := m.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, f.addCalls, "descriptor registered after unknown-chain error")
	assert.Equal(t, 2, f.switchCalls, "switch retried after registration")
	assert.Equal(t, 1, f.prompts(), "accounts requested only after network is ensured")
}

func TestConnectAbortsWhenSwitchRejected(t *testing.T) {
	rejection := types.NewError(types.ErrUserRejected, "user rejected the wallet request", nil)
	f := newFakeProvider()
	f.chainID = big.NewInt(1)
	f.switchErrs = []error{rejection}
	m := newTestManager(f)
	require.NoError(t, m.AttachProvider(context.Background()))

	_, err := m.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.ErrNetworkSwitch, types.CodeOf(err))
	assert.True(t, errors.Is(err, rejection))

	// no partial connection state is retained
	session := m.Session()
	assert.Nil(t, session.Account)
	assert.Nil(t, m.Handle())
	assert.Zero(t, f.prompts())
}

func TestConnectAbortsWhenRegistrationFails(t *testing.T) {
	f := newFakeProvider()
	f.chainID = big.NewInt(1)
	f.switchErrs = []error{fmt.Errorf("%w", provider.ErrUnknownChain)}
	f.addErr = types.NewError(types.ErrUserRejected, "user rejected the wallet request", nil)
	m := newTestManager(f)
	require.NoError(t, m.AttachProvider(context.Background()))

	_, err := m.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.ErrNetworkSwitch, types.CodeOf(err))
	assert.Nil(t, m.Handle())
}

func TestConnectUserRejectsAuthorization(t *testing.T) {
	f := newFakeProvider()
	f.promptErr = types.NewError(types.ErrUserRejected, "user rejected the wallet request", nil)
	m := newTestManager(f)
	require.NoError(t, m.AttachProvider(context.Background()))

	_, err := m.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.ErrUserRejected, types.CodeOf(err))
	assert.Equal(t, types.StateAttached, m.Session().State())
}

func TestConnectAbortsWhenChainChangesMidPrompt(t *testing.T) {
	f := newFakeProvider()
	f.prompted = []common.Address{accountA}
	m := newTestManager(f)
	require.NoError(t, m.AttachProvider(context.Background()))
	f.promptHook = func() { f.fireChainChanged(big.NewInt(1)) }

	_, err := m.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.ErrNoProvider, types.CodeOf(err))

	// the teardown must survive the in-flight connect
	session := m.Session()
	assert.Equal(t, types.StateUnattached, session.State())
	assert.Nil(t, session.Account)
	assert.Nil(t, m.Handle())
}

func TestConnectAbortsWhenAccountChangesMidPrompt(t *testing.T) {
	f := newFakeProvider()
	f.prompted = []common.Address{accountA}
	m := newTestManager(f)
	require.NoError(t, m.AttachProvider(context.Background()))
	f.promptHook = func() { f.fireAccountsChanged([]common.Address{accountB}) }

	_, err := m.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.ErrUserRejected, types.CodeOf(err))
	assert.Nil(t, m.Handle(), "no handle minted for the superseded account")

	session := m.Session()
	require.NotNil(t, session.Account)
	assert.Equal(t, accountB, *session.Account, "session follows the wallet's latest account")
}

func TestConnectIsIdempotent(t *testing.T) {
	f := newFakeProvider()
	f.prompted = []common.Address{accountA}
	m := attachConnected(t, f)
	require.Equal(t, 1, f.prompts())

	// account now silently authorized, as after a wallet approval
	f.mu.Lock()
	f.silent = []common.Address{accountA}
	f.mu.Unlock()

	first := m.Handle()
	again, err := m.Connect(context.Background())
	require.NoError(t, err)
	assert.Same(t, first, again, "same handle while the account set is unchanged")
	assert.Equal(t, 1, f.prompts(), "no re-prompt while already connected")
}

func TestRestoreSessionSilently(t *testing.T) {
	f := newFakeProvider()
	f.silent = []common.Address{accountA}
	m := newTestManager(f)
	require.NoError(t, m.AttachProvider(context.Background()))

	m.RestoreSession(context.Background())

	assert.Equal(t, types.StateConnected, m.Session().State())
	assert.Zero(t, f.prompts(), "restore must never prompt")
}

func TestRestoreSessionSwallowsFailures(t *testing.T) {
	f := newFakeProvider()
	f.silentErr = errors.New("wallet locked")
	m := newTestManager(f)
	require.NoError(t, m.AttachProvider(context.Background()))

	m.RestoreSession(context.Background()) // must not panic or surface anything

	assert.Equal(t, types.StateAttached, m.Session().State())
}

func TestRestoreSessionLeavesEmptyWhenUnauthorized(t *testing.T) {
	f := newFakeProvider()
	m := newTestManager(f)
	require.NoError(t, m.AttachProvider(context.Background()))

	m.RestoreSession(context.Background())

	assert.Equal(t, types.StateAttached, m.Session().State())
	assert.Zero(t, f.prompts())
}

func TestAccountChangeMarksHandleStale(t *testing.T) {
	f := newFakeProvider()
	f.prompted = []common.Address{accountA}
	m := attachConnected(t, f)

	inFlight := m.Handle()
	require.NotNil(t, inFlight)

	f.fireAccountsChanged([]common.Address{accountB})

	// the handle held by an in-flight operation still signs as A, but is
	// stale and must not be reused
	assert.Equal(t, accountA, inFlight.Account())
	assert.True(t, inFlight.Stale())
	assert.Nil(t, m.Handle())

	session := m.Session()
	require.NotNil(t, session.Account)
	assert.Equal(t, accountB, *session.Account)
}

func TestAccountChangeRebuildBindsNewAccount(t *testing.T) {
	f := newFakeProvider()
	f.prompted = []common.Address{accountA}
	m := attachConnected(t, f)

	f.fireAccountsChanged([]common.Address{accountB})
	f.mu.Lock()
	f.silent = []common.Address{accountB}
	f.mu.Unlock()

	handle, err := m.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, accountB, handle.Account())
	assert.Equal(t, 1, f.prompts(), "rebuild uses the silently authorized set")
}

func TestZeroAccountsDisconnects(t *testing.T) {
	f := newFakeProvider()
	f.prompted = []common.Address{accountA}
	m := attachConnected(t, f)

	f.fireAccountsChanged(nil)

	assert.Equal(t, types.StateUnattached, m.Session().State())
	assert.Nil(t, m.Handle())
}

func TestChainChangeTearsDown(t *testing.T) {
	f := newFakeProvider()
	f.prompted = []common.Address{accountA}

	resets := 0
	m := NewManager(f, f, testNetwork, tokenAddr, WithResetHook(func() { resets++ }))
	require.NoError(t, m.AttachProvider(context.Background()))
	handle, err := m.Connect(context.Background())
	require.NoError(t, err)

	f.fireChainChanged(big.NewInt(1))

	assert.Equal(t, 1, resets)
	assert.True(t, handle.Stale())
	assert.Equal(t, types.StateUnattached, m.Session().State())
}

func TestDisconnectIsLocal(t *testing.T) {
	f := newFakeProvider()
	f.prompted = []common.Address{accountA}
	m := attachConnected(t, f)

	m.Disconnect()

	assert.Equal(t, types.StateUnattached, m.Session().State())
	assert.Nil(t, m.Handle())
}

func TestCloseUnsubscribes(t *testing.T) {
	f := newFakeProvider()
	m := newTestManager(f)
	require.NoError(t, m.AttachProvider(context.Background()))

	m.Close()

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, 2, f.unsubscribed)
}

func TestEnsureTargetNetworkNoopWhenAlreadyThere(t *testing.T) {
	f := newFakeProvider() // chain id already matches
	m := newTestManager(f)

	require.NoError(t, m.EnsureTargetNetwork(context.Background()))
	assert.Zero(t, f.switchCalls)
}
