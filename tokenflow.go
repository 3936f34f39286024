// Package tokenflow is a client for connecting an external wallet, keeping
// it on one configured EVM network, and submitting a single ERC-20 token
// transfer observed through its lifecycle (submitted, pending, confirmed or
// failed). The wallet provider and the token contract are external
// collaborators reached through narrow capability interfaces; tokenflow
// never holds keys.
package tokenflow

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/veriteos/tokenflow/config"
	"github.com/veriteos/tokenflow/connection"
	"github.com/veriteos/tokenflow/contract"
	"github.com/veriteos/tokenflow/logger"
	"github.com/veriteos/tokenflow/metrics"
	"github.com/veriteos/tokenflow/provider"
	"github.com/veriteos/tokenflow/transfer"
	"github.com/veriteos/tokenflow/types"
)

// Wallet combines the provider capability with the chain access minted
// contract handles need. *provider.Bridge satisfies it.
type Wallet interface {
	provider.WalletProvider
	contract.Backend
}

// Flow wires the connection manager and the transfer lifecycle together
// behind one façade. The manager produces the authenticated contract handle;
// the lifecycle consumes it along with user-entered recipient and amount.
type Flow struct {
	conn      *connection.Manager
	lifecycle *transfer.Lifecycle
	network   types.NetworkDescriptor

	log            logger.Logger
	met            metrics.Recorder
	confirmTimeout time.Duration
	onStatus       func(types.TransferStatus)
	onReset        func()
}

// New builds a Flow from configuration and a wallet. Use options for
// logging, metrics, confirmation bounds and the chain-change reset hook.
func New(cfg *config.Config, wallet Wallet, opts ...Option) *Flow {
	f := &Flow{
		network:        cfg.Network(),
		log:            logger.NoopLogger{},
		met:            metrics.NoopRecorder{},
		confirmTimeout: cfg.ConfirmTimeout,
	}
	for _, opt := range opts {
		opt(f)
	}

	f.conn = connection.NewManager(
		wallet, wallet, f.network, cfg.Contract(),
		connection.WithLogger(f.log),
		connection.WithMetrics(f.met),
		connection.WithResetHook(f.handleReset),
	)
	f.lifecycle = transfer.NewLifecycle(
		transfer.WithLogger(f.log),
		transfer.WithMetrics(f.met),
		transfer.WithNetworkLabel(f.network.ChainName),
		transfer.WithConfirmTimeout(f.confirmTimeout),
		transfer.WithStatusObserver(f.observe),
	)
	return f
}

// Dial connects to the wallet RPC endpoint from the configuration and builds
// a Flow around it. Logging defaults to a zap logger at the configured level;
// WithLogger overrides it.
func Dial(cfg *config.Config, opts ...Option) (*Flow, error) {
	log := logger.NewZapLogger(cfg.LogLevel)
	bridge, err := provider.Dial(cfg.WalletRPCURL,
		provider.WithLogger(log),
		provider.WithWatchInterval(cfg.WatchInterval),
	)
	if err != nil {
		return nil, err
	}
	opts = append([]Option{WithLogger(log)}, opts...)
	return New(cfg, bridge, opts...), nil
}

// Attach detects the wallet and registers for change notifications.
func (f *Flow) Attach(ctx context.Context) error {
	return f.conn.AttachProvider(ctx)
}

// RestoreSession silently resumes a previously authorized session; failures
// are swallowed and logged.
func (f *Flow) RestoreSession(ctx context.Context) {
	f.conn.RestoreSession(ctx)
}

// Connect establishes the full (account, network, handle) triple, prompting
// the user only when no account is already authorized.
func (f *Flow) Connect(ctx context.Context) error {
	_, err := f.conn.Connect(ctx)
	return err
}

// Disconnect clears the session locally.
func (f *Flow) Disconnect() {
	f.conn.Disconnect()
}

// Session returns the current wallet session.
func (f *Flow) Session() types.WalletSession {
	return f.conn.Session()
}

// Transfer submits one token transfer against the current handle. A stale or
// missing handle fails with NO_CONTRACT; the caller re-Connects explicitly,
// which is the deliberate guard against signing with an unintended account.
func (f *Flow) Transfer(ctx context.Context, recipient, amount string) types.TransferStatus {
	if s := f.lifecycle.Status(); s.Terminal() && !f.lifecycle.InFlight() {
		f.lifecycle.Reset()
	}
	req := types.TransferRequest{Recipient: recipient, Amount: amount}
	return f.lifecycle.Submit(ctx, req, f.conn.Handle())
}

// TransferStatus returns the current transfer status.
func (f *Flow) TransferStatus() types.TransferStatus {
	return f.lifecycle.Status()
}

// Token exposes the read-only contract accessors bound to the current
// handle. Returns NO_CONTRACT when not connected.
func (f *Flow) Token() (*contract.Handle, error) {
	h := f.conn.Handle()
	if h == nil || h.Stale() {
		return nil, types.NewError(types.ErrNoContract, "not connected to the token contract", nil)
	}
	return h, nil
}

// Balance is a convenience read of the connected account's token balance.
func (f *Flow) Balance(ctx context.Context) (*big.Int, error) {
	h, err := f.Token()
	if err != nil {
		return nil, err
	}
	return h.BalanceOf(ctx, h.Account())
}

// TokenAddress returns the configured contract address rendered for display,
// or "" when unconfigured.
func (f *Flow) TokenAddress() string {
	h := f.conn.Handle()
	if h == nil {
		return ""
	}
	return h.Token().Hex()
}

// ExplorerURL renders an explorer link for a transaction reference, or ""
// when the network has no explorer configured.
func (f *Flow) ExplorerURL(txRef common.Hash) string {
	if len(f.network.ExplorerURLs) == 0 {
		return ""
	}
	return f.network.ExplorerURLs[0] + "/tx/" + txRef.Hex()
}

// Close tears down the connection manager and its subscriptions.
func (f *Flow) Close() {
	f.conn.Close()
}

func (f *Flow) observe(status types.TransferStatus) {
	if f.onStatus != nil {
		f.onStatus(status)
	}
}

// handleReset runs after a wallet chain change: everything handle-shaped is
// already torn down by the manager, the hook tells the host to reconstruct.
func (f *Flow) handleReset() {
	if f.onReset != nil {
		f.onReset()
	}
}
