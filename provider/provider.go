// Package provider defines the wallet-provider capability consumed by the
// connection manager, plus a JSON-RPC bridge implementation for wallets that
// expose the EIP-1193 request surface over RPC.
package provider

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/veriteos/tokenflow/types"
)

// ErrUnknownChain is returned by SwitchChain when the wallet does not know
// the requested chain (EIP-1193 code 4902). Callers react by registering the
// chain and retrying; it is deliberately distinct from a user rejection.
var ErrUnknownChain = errors.New("chain not registered with wallet")

// Subscription is the disposer returned by change notifications. Unsubscribe
// is idempotent and must be called on teardown to avoid leaked callbacks.
type Subscription interface {
	Unsubscribe()
}

// WalletProvider is the narrow capability the connection manager needs from
// a wallet. Implementations hold the keys; nothing in this module ever sees
// them. A fake implementation is enough to exercise the whole core.
type WalletProvider interface {
	// Available reports whether a wallet is reachable at all.
	Available(ctx context.Context) bool

	// RequestAccounts asks for account authorization and may prompt the
	// user. A decline surfaces as a USER_REJECTED typed error.
	RequestAccounts(ctx context.Context) ([]common.Address, error)

	// Accounts returns the already-authorized accounts without prompting.
	Accounts(ctx context.Context) ([]common.Address, error)

	// ChainID reports the chain the wallet is currently attached to.
	ChainID(ctx context.Context) (*big.Int, error)

	// SwitchChain asks the wallet to move to the given chain. Returns
	// ErrUnknownChain when the wallet has never seen it.
	SwitchChain(ctx context.Context, chainID uint64) error

	// AddChain registers a network descriptor with the wallet.
	AddChain(ctx context.Context, network types.NetworkDescriptor) error

	// SendTransaction submits a wallet-signed transaction from the given
	// account and returns the broadcast transaction hash.
	SendTransaction(ctx context.Context, from, to common.Address, data []byte) (common.Hash, error)

	// OnAccountsChanged registers for account-set change notifications.
	OnAccountsChanged(fn func([]common.Address)) Subscription

	// OnChainChanged registers for chain change notifications.
	OnChainChanged(fn func(*big.Int)) Subscription
}
