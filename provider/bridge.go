package provider

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/veriteos/tokenflow/logger"
	"github.com/veriteos/tokenflow/types"
)

// EIP-1193 provider error codes.
const (
	codeUserRejected = 4001
	codeUnknownChain = 4902
	codeBusy         = -32002
)

// Bridge talks to a wallet that exposes the EIP-1193 request surface over
// JSON-RPC (Frame, a browser wallet behind a relay, a test double). It
// implements WalletProvider and the read/receipt surface the contract
// package needs.
type Bridge struct {
	rpc   *rpc.Client
	eth   *ethclient.Client
	log   logger.Logger
	watch *watcher
}

var _ WalletProvider = (*Bridge)(nil)

// BridgeOption customises a Bridge.
type BridgeOption func(*Bridge)

// WithLogger sets the bridge logger. Defaults to NoopLogger.
func WithLogger(l logger.Logger) BridgeOption {
	return func(b *Bridge) { b.log = l }
}

// WithWatchInterval sets the polling interval for change notifications.
// Non-positive values keep the default.
func WithWatchInterval(d time.Duration) BridgeOption {
	return func(b *Bridge) {
		if d > 0 {
			b.watch.interval = d
		}
	}
}

// Dial connects to the wallet RPC endpoint.
func Dial(rawurl string, opts ...BridgeOption) (*Bridge, error) {
	client, err := rpc.Dial(rawurl)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to wallet RPC: %w", err)
	}
	return NewBridge(client, opts...), nil
}

// NewBridge wraps an existing RPC client.
func NewBridge(client *rpc.Client, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		rpc: client,
		eth: ethclient.NewClient(client),
		log: logger.NoopLogger{},
	}
	b.watch = newWatcher(b)
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Available probes the wallet with a cheap chain-id query.
func (b *Bridge) Available(ctx context.Context) bool {
	if b == nil || b.rpc == nil {
		return false
	}
	probe, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err := b.ChainID(probe)
	return err == nil
}

func (b *Bridge) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	var accounts []common.Address
	if err := b.rpc.CallContext(ctx, &accounts, "eth_requestAccounts"); err != nil {
		return nil, classifyWalletError(err)
	}
	return accounts, nil
}

func (b *Bridge) Accounts(ctx context.Context) ([]common.Address, error) {
	var accounts []common.Address
	if err := b.rpc.CallContext(ctx, &accounts, "eth_accounts"); err != nil {
		return nil, classifyWalletError(err)
	}
	return accounts, nil
}

func (b *Bridge) ChainID(ctx context.Context) (*big.Int, error) {
	var id hexutil.Big
	if err := b.rpc.CallContext(ctx, &id, "eth_chainId"); err != nil {
		return nil, err
	}
	return (*big.Int)(&id), nil
}

func (b *Bridge) SwitchChain(ctx context.Context, chainID uint64) error {
	param := struct {
		ChainID string `json:"chainId"`
	}{ChainID: fmt.Sprintf("0x%x", chainID)}

	err := b.rpc.CallContext(ctx, nil, "wallet_switchEthereumChain", param)
	if err != nil {
		return classifyWalletError(err)
	}
	return nil
}

func (b *Bridge) AddChain(ctx context.Context, network types.NetworkDescriptor) error {
	param := struct {
		ChainID           string               `json:"chainId"`
		ChainName         string               `json:"chainName"`
		NativeCurrency    types.NativeCurrency `json:"nativeCurrency"`
		RPCURLs           []string             `json:"rpcUrls"`
		BlockExplorerURLs []string             `json:"blockExplorerUrls,omitempty"`
	}{
		ChainID:           network.ChainIDHex(),
		ChainName:         network.ChainName,
		NativeCurrency:    network.NativeCurrency,
		RPCURLs:           network.RPCURLs,
		BlockExplorerURLs: network.ExplorerURLs,
	}

	if err := b.rpc.CallContext(ctx, nil, "wallet_addEthereumChain", param); err != nil {
		return classifyWalletError(err)
	}
	return nil
}

// SendTransaction submits through the wallet, which signs with the key for
// `from`. The returned hash is the transaction reference to poll.
func (b *Bridge) SendTransaction(ctx context.Context, from, to common.Address, data []byte) (common.Hash, error) {
	param := struct {
		From common.Address `json:"from"`
		To   common.Address `json:"to"`
		Data hexutil.Bytes  `json:"data"`
	}{From: from, To: to, Data: data}

	var txHash common.Hash
	if err := b.rpc.CallContext(ctx, &txHash, "eth_sendTransaction", param); err != nil {
		return common.Hash{}, classifyWalletError(err)
	}
	return txHash, nil
}

// CallContract performs a read-only eth_call at the given block.
func (b *Bridge) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return b.eth.CallContract(ctx, msg, blockNumber)
}

// TransactionReceipt fetches the receipt for a broadcast transaction, or
// ethereum.NotFound while it is still pending.
func (b *Bridge) TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error) {
	return b.eth.TransactionReceipt(ctx, txHash)
}

func (b *Bridge) OnAccountsChanged(fn func([]common.Address)) Subscription {
	return b.watch.subscribeAccounts(fn)
}

func (b *Bridge) OnChainChanged(fn func(*big.Int)) Subscription {
	return b.watch.subscribeChain(fn)
}

// Close stops change polling and releases the RPC client.
func (b *Bridge) Close() {
	b.watch.stop()
	b.rpc.Close()
}

// classifyWalletError maps EIP-1193 error codes onto the tokenflow error
// taxonomy so callers never switch on raw provider codes.
func classifyWalletError(err error) error {
	var rpcErr rpc.Error
	if !errors.As(err, &rpcErr) {
		return err
	}
	switch rpcErr.ErrorCode() {
	case codeUserRejected:
		return types.NewError(types.ErrUserRejected, "user rejected the wallet request", err)
	case codeUnknownChain:
		return fmt.Errorf("%w: %v", ErrUnknownChain, err)
	case codeBusy:
		return types.NewError(types.ErrProviderBusy, "wallet is busy with a pending request", err)
	default:
		return err
	}
}
