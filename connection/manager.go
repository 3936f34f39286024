// Package connection owns the relationship with the wallet provider:
// account discovery, account and chain change reactions, forced network
// switch, and minting of the authenticated contract handle.
package connection

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/veriteos/tokenflow/contract"
	"github.com/veriteos/tokenflow/logger"
	"github.com/veriteos/tokenflow/metrics"
	"github.com/veriteos/tokenflow/provider"
	"github.com/veriteos/tokenflow/types"
)

// Manager maintains a usable (account, network, contract handle) triple.
// All state transitions happen under one mutex; provider notifications may
// arrive from the watcher goroutine at any suspension point.
type Manager struct {
	provider provider.WalletProvider
	backend  contract.Backend
	network  types.NetworkDescriptor
	token    common.Address
	log      logger.Logger
	met      metrics.Recorder
	onReset  func()

	mu      sync.Mutex
	session types.WalletSession
	handle  *contract.Handle
	subs    []provider.Subscription
}

// Option customises a Manager.
type Option func(*Manager)

func WithLogger(l logger.Logger) Option {
	return func(m *Manager) { m.log = l }
}

func WithMetrics(r metrics.Recorder) Option {
	return func(m *Manager) { m.met = r }
}

// WithResetHook installs the full-teardown callback invoked after a chain
// change. The host is expected to rebuild the manager and everything that
// depends on it; nothing chain-specific survives in place.
func WithResetHook(fn func()) Option {
	return func(m *Manager) { m.onReset = fn }
}

// NewManager wires a manager to the wallet provider and the chain backend
// used for minted handles. token is the deployed contract address; the zero
// address means unconfigured and fails Connect with CONFIG_ERROR.
func NewManager(p provider.WalletProvider, backend contract.Backend, network types.NetworkDescriptor, token common.Address, opts ...Option) *Manager {
	m := &Manager{
		provider: p,
		backend:  backend,
		network:  network,
		token:    token,
		log:      logger.NoopLogger{},
		met:      metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AttachProvider detects the wallet and registers for account and chain
// change notifications. Fails with NO_PROVIDER when no wallet is reachable;
// that is reported to the caller and never retried here, because the remedy
// is the user installing a wallet.
func (m *Manager) AttachProvider(ctx context.Context) error {
	if m.provider == nil || !m.provider.Available(ctx) {
		return types.NewError(types.ErrNoProvider, "no wallet provider available", nil)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.session.ProviderAttached = true
	if m.subs == nil {
		m.subs = []provider.Subscription{
			m.provider.OnAccountsChanged(m.handleAccountsChanged),
			m.provider.OnChainChanged(m.handleChainChanged),
		}
	}
	m.log.Info("wallet provider attached", map[string]any{"network": m.network.ChainName})
	return nil
}

// RestoreSession silently resumes a previously authorized session. It never
// surfaces an error: failures are logged and counted, since this is a
// best-effort auto-reconnect on startup. An empty authorized set simply
// leaves the session as it is.
func (m *Manager) RestoreSession(ctx context.Context) {
	accounts, err := m.provider.Accounts(ctx)
	if err != nil {
		m.log.Warn("session restore failed", map[string]any{"error": err.Error()})
		m.met.IncCounter("restore_failed", m.labels())
		return
	}
	if len(accounts) == 0 {
		m.log.Debug("no authorized accounts to restore", nil)
		return
	}

	if _, err := m.Connect(ctx); err != nil {
		m.log.Warn("session restore connect failed", map[string]any{"error": err.Error()})
		m.met.IncCounter("restore_failed", m.labels())
	}
}

// EnsureTargetNetwork asks the wallet to move to the configured network.
// When the wallet does not know the chain it registers the descriptor and
// retries the switch once. Any rejection aborts with NETWORK_SWITCH_FAILED.
func (m *Manager) EnsureTargetNetwork(ctx context.Context) error {
	if chainID, err := m.provider.ChainID(ctx); err == nil && m.network.Matches(chainID) {
		return nil
	}

	err := m.provider.SwitchChain(ctx, m.network.ChainID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, provider.ErrUnknownChain) {
		return types.NewError(types.ErrNetworkSwitch, "network switch failed", err)
	}

	m.log.Info("registering target network with wallet", map[string]any{
		"chain_id": m.network.ChainID, "chain": m.network.ChainName,
	})
	if err := m.provider.AddChain(ctx, m.network); err != nil {
		return types.NewError(types.ErrNetworkSwitch, "failed to register target network", err)
	}
	if err := m.provider.SwitchChain(ctx, m.network.ChainID); err != nil {
		return types.NewError(types.ErrNetworkSwitch, "network switch failed after registration", err)
	}
	return nil
}

// Connect orchestrates the full connection: provider attached, contract
// address configured, target network ensured, accounts authorized, handle
// minted for the first account. Partial success is never observable: any
// failure resets the account and handle.
//
// Connect is idempotent while already connected to the same account; the
// silent accounts query short-circuits the authorization prompt. The result
// is committed only if no change notification invalidated the session while
// the prompt was open.
func (m *Manager) Connect(ctx context.Context) (*contract.Handle, error) {
	start := time.Now()

	m.mu.Lock()
	attached := m.session.ProviderAttached
	m.mu.Unlock()
	if !attached {
		return nil, types.NewError(types.ErrNoProvider, "wallet provider not attached", nil)
	}
	if m.token == (common.Address{}) {
		return nil, types.NewError(types.ErrConfig, "token contract address is not configured", nil)
	}

	if h := m.currentHandleFor(ctx); h != nil {
		return h, nil
	}

	if err := m.EnsureTargetNetwork(ctx); err != nil {
		m.resetSession()
		m.met.IncCounter("connect_failed", m.labels())
		return nil, err
	}

	accounts, err := m.provider.Accounts(ctx)
	if err != nil || len(accounts) == 0 {
		accounts, err = m.provider.RequestAccounts(ctx)
	}
	if err != nil {
		m.resetSession()
		m.met.IncCounter("connect_failed", m.labels())
		if code := types.CodeOf(err); code != "" {
			return nil, err
		}
		return nil, types.NewError(types.ErrUserRejected, "account authorization failed", err)
	}
	if len(accounts) == 0 {
		m.resetSession()
		m.met.IncCounter("connect_failed", m.labels())
		return nil, types.NewError(types.ErrUserRejected, "wallet returned no authorized accounts", nil)
	}

	handle, err := contract.NewHandle(m.token, accounts[0], m.backend)
	if err != nil {
		m.resetSession()
		m.met.IncCounter("connect_failed", m.labels())
		return nil, types.NewError(types.ErrConfig, "failed to build contract handle", err)
	}

	account := accounts[0]
	m.mu.Lock()
	// The watcher may have torn the session down or moved to another
	// account while the authorization prompt was open. Committing the
	// pre-change result would resurrect stale state, so re-check before
	// installing anything.
	if !m.session.ProviderAttached {
		m.mu.Unlock()
		handle.MarkStale()
		m.met.IncCounter("connect_failed", m.labels())
		return nil, types.NewError(types.ErrNoProvider, "wallet provider detached while connecting", nil)
	}
	if m.session.Account != nil && *m.session.Account != account {
		m.mu.Unlock()
		handle.MarkStale()
		m.met.IncCounter("connect_failed", m.labels())
		return nil, types.NewError(types.ErrUserRejected, "wallet switched accounts while connecting", nil)
	}
	m.session.Account = &account
	m.session.ChainID = m.network.ChainIDBig()
	if m.handle != nil {
		m.handle.MarkStale()
	}
	m.handle = handle
	m.mu.Unlock()

	m.met.IncCounter("connected", m.labels())
	m.met.ObserveLatency("connect", time.Since(start), m.labels())
	m.log.Info("wallet connected", map[string]any{
		"account": account.Hex(), "network": m.network.ChainName,
	})
	return handle, nil
}

// currentHandleFor returns the live handle when the authorized account set
// is unchanged, so repeated Connect calls never re-prompt the user.
func (m *Manager) currentHandleFor(ctx context.Context) *contract.Handle {
	m.mu.Lock()
	session := m.session
	handle := m.handle
	m.mu.Unlock()

	if !session.Connected() || handle == nil || handle.Stale() {
		return nil
	}
	accounts, err := m.provider.Accounts(ctx)
	if err != nil || len(accounts) == 0 {
		return nil
	}
	if accounts[0] != handle.Account() {
		return nil
	}
	return handle
}

// Disconnect clears the session and invalidates the handle. Purely local:
// wallet providers expose no programmatic disconnect.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.resetLocked()
	m.session.ProviderAttached = false
	m.mu.Unlock()
	m.met.IncCounter("disconnected", m.labels())
	m.log.Info("wallet disconnected", nil)
}

// Session returns a copy of the current wallet session.
func (m *Manager) Session() types.WalletSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// Handle returns the current contract handle, or nil when not connected.
// Callers must check Stale before use and re-Connect when it is.
func (m *Manager) Handle() *contract.Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handle
}

// Close tears the manager down and releases the change subscriptions.
func (m *Manager) Close() {
	m.mu.Lock()
	subs := m.subs
	m.subs = nil
	m.resetLocked()
	m.session.ProviderAttached = false
	m.mu.Unlock()
	for _, s := range subs {
		s.Unsubscribe()
	}
}

// handleAccountsChanged reacts to account-set notifications. An empty set is
// a disconnect; otherwise the session follows the new first account and the
// existing handle becomes stale. The handle is not rebuilt silently so a
// later action must re-Connect and sign with an explicitly chosen account.
func (m *Manager) handleAccountsChanged(accounts []common.Address) {
	if len(accounts) == 0 {
		m.Disconnect()
		return
	}

	account := accounts[0]
	m.mu.Lock()
	if m.session.Account != nil && *m.session.Account == account {
		m.mu.Unlock()
		return
	}
	m.session.Account = &account
	if m.handle != nil {
		m.handle.MarkStale()
		m.handle = nil
	}
	m.mu.Unlock()

	m.met.IncCounter("account_changed", m.labels())
	m.log.Info("active account changed", map[string]any{"account": account.Hex()})
}

// handleChainChanged treats a chain change as a full teardown: cached
// handles and chain-bound state cannot be mutated in place, so everything is
// dropped and the host rebuilds through the reset hook.
func (m *Manager) handleChainChanged(chainID *big.Int) {
	m.mu.Lock()
	m.resetLocked()
	m.session.ProviderAttached = false
	m.mu.Unlock()

	m.met.IncCounter("chain_changed", m.labels())
	m.log.Warn("wallet chain changed, tearing down", map[string]any{"chain_id": chainID})
	if m.onReset != nil {
		m.onReset()
	}
}

func (m *Manager) resetSession() {
	m.mu.Lock()
	m.resetLocked()
	m.mu.Unlock()
}

// resetLocked clears account-bound state. Caller holds mu.
func (m *Manager) resetLocked() {
	m.session.Account = nil
	m.session.ChainID = nil
	if m.handle != nil {
		m.handle.MarkStale()
		m.handle = nil
	}
}

func (m *Manager) labels() map[string]string {
	return map[string]string{"network": m.network.ChainName}
}
