package types

import (
	"fmt"
	"math/big"
)

// NativeCurrency describes the gas currency of a network, as wallets expect
// it when registering a chain.
type NativeCurrency struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
}

// NetworkDescriptor is the immutable description of the single target
// network this client supports. The field names and hex chain-id rendering
// follow the wallet_addEthereumChain parameter shape.
type NetworkDescriptor struct {
	ChainID        uint64         `json:"-"`
	ChainName      string         `json:"chainName"`
	NativeCurrency NativeCurrency `json:"nativeCurrency"`
	RPCURLs        []string       `json:"rpcUrls"`
	ExplorerURLs   []string       `json:"blockExplorerUrls,omitempty"`
}

// ChainIDHex renders the chain id the way wallet RPC methods want it.
func (n NetworkDescriptor) ChainIDHex() string {
	return fmt.Sprintf("0x%x", n.ChainID)
}

// ChainIDBig returns the chain id as a big.Int for comparison against
// eth_chainId responses.
func (n NetworkDescriptor) ChainIDBig() *big.Int {
	return new(big.Int).SetUint64(n.ChainID)
}

// Matches reports whether the provider-reported chain id is this network.
func (n NetworkDescriptor) Matches(chainID *big.Int) bool {
	return chainID != nil && chainID.IsUint64() && chainID.Uint64() == n.ChainID
}
