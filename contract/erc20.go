// Package contract provides the token-contract capability: a handle bound to
// one deployed ERC-20 contract and one signing account, with the transfer
// call and the read-only accessors the display layer consumes.
package contract

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
)

const erc20ABI = `
[
  {"name":"name","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
  {"name":"symbol","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
  {"name":"decimals","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
  {"name":"totalSupply","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"name":"owner","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
  {"name":"transfer","type":"function","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]
`

var parseABI = sync.OnceValues(func() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(erc20ABI))
})

// Backend is the chain access a handle needs: wallet-signed sends plus
// read calls and receipts. *provider.Bridge satisfies it; tests inject a
// fake.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SendTransaction(ctx context.Context, from, to common.Address, data []byte) (common.Hash, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
}

// Handle is an authenticated capability bound to (contract address, ERC-20
// ABI, signing account). It is valid only while the account that produced it
// is still the wallet's active account; the connection manager marks it
// stale the moment that changes, and a stale handle must not be reused.
type Handle struct {
	token   common.Address
	account common.Address
	abi     abi.ABI
	backend Backend
	stale   atomic.Bool

	// call data of the in-flight transfer, kept for revert-reason replay
	mu       sync.Mutex
	lastCall *ethereum.CallMsg
}

// NewHandle binds a handle to the deployed token and the signing account.
func NewHandle(token, account common.Address, backend Backend) (*Handle, error) {
	parsed, err := parseABI()
	if err != nil {
		return nil, fmt.Errorf("failed to parse ERC-20 ABI: %w", err)
	}
	return &Handle{
		token:   token,
		account: account,
		abi:     parsed,
		backend: backend,
	}, nil
}

// Account returns the signing account this handle was minted for.
func (h *Handle) Account() common.Address {
	return h.account
}

// Token returns the bound contract address.
func (h *Handle) Token() common.Address {
	return h.token
}

// MarkStale invalidates the handle. One-way; a fresh handle must be minted
// by the connection manager.
func (h *Handle) MarkStale() {
	h.stale.Store(true)
}

// Stale reports whether the minting account is no longer the active one.
func (h *Handle) Stale() bool {
	return h.stale.Load()
}

// Transfer submits transfer(to, amount) signed by the wallet and returns the
// transaction reference immediately on broadcast acknowledgement, before any
// confirmation.
func (h *Handle) Transfer(ctx context.Context, to common.Address, amount *big.Int) (common.Hash, error) {
	data, err := h.abi.Pack("transfer", to, amount)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to pack transfer call: %w", err)
	}

	txHash, err := h.backend.SendTransaction(ctx, h.account, h.token, data)
	if err != nil {
		return common.Hash{}, err
	}

	token := h.token
	h.mu.Lock()
	h.lastCall = &ethereum.CallMsg{From: h.account, To: &token, Data: data}
	h.mu.Unlock()

	return txHash, nil
}

// Name returns the token name.
func (h *Handle) Name(ctx context.Context) (string, error) {
	var out string
	err := h.view(ctx, "name", &out)
	return out, err
}

// Symbol returns the token symbol.
func (h *Handle) Symbol(ctx context.Context) (string, error) {
	var out string
	err := h.view(ctx, "symbol", &out)
	return out, err
}

// Decimals returns the token's fixed decimal precision.
func (h *Handle) Decimals(ctx context.Context) (uint8, error) {
	var out uint8
	err := h.view(ctx, "decimals", &out)
	return out, err
}

// TotalSupply returns the total supply in base units.
func (h *Handle) TotalSupply(ctx context.Context) (*big.Int, error) {
	var out *big.Int
	err := h.view(ctx, "totalSupply", &out)
	return out, err
}

// Owner returns the contract owner.
func (h *Handle) Owner(ctx context.Context) (common.Address, error) {
	var out common.Address
	err := h.view(ctx, "owner", &out)
	return out, err
}

// BalanceOf returns the token balance of the given account in base units.
func (h *Handle) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	data, err := h.abi.Pack("balanceOf", account)
	if err != nil {
		return nil, err
	}
	token := h.token
	raw, err := h.backend.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	var out *big.Int
	if err := h.abi.UnpackIntoInterface(&out, "balanceOf", raw); err != nil {
		return nil, err
	}
	return out, nil
}

func (h *Handle) view(ctx context.Context, method string, out any) error {
	data, err := h.abi.Pack(method)
	if err != nil {
		return err
	}
	token := h.token
	raw, err := h.backend.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return err
	}
	return h.abi.UnpackIntoInterface(out, method, raw)
}
