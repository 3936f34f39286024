// Package config loads the client configuration from the environment: the
// single target network descriptor and the deployed token contract address.
package config

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/veriteos/tokenflow/types"
)

var validate = validator.New()

// Config contains all configuration parameters for the client. The contract
// address may be left empty; Connect then fails with CONFIG_ERROR, which is
// the operator-facing signal that deployment wiring is incomplete.
type Config struct {
	ContractAddress string `envconfig:"CONTRACT_ADDRESS" validate:"omitempty,eth_addr"`

	WalletRPCURL string `envconfig:"WALLET_RPC_URL" default:"http://127.0.0.1:1248" validate:"required,url"`

	ChainID          uint64   `envconfig:"CHAIN_ID" required:"true" validate:"required"`
	ChainName        string   `envconfig:"CHAIN_NAME" required:"true" validate:"required"`
	CurrencyName     string   `envconfig:"CURRENCY_NAME" default:"Ether"`
	CurrencySymbol   string   `envconfig:"CURRENCY_SYMBOL" default:"ETH"`
	CurrencyDecimals int      `envconfig:"CURRENCY_DECIMALS" default:"18" validate:"gt=0"`
	RPCURLs          []string `envconfig:"RPC_URLS" required:"true" validate:"min=1,dive,url"`
	ExplorerURLs     []string `envconfig:"EXPLORER_URLS" validate:"dive,url"`

	ConfirmTimeout time.Duration `envconfig:"CONFIRM_TIMEOUT" default:"0"`
	WatchInterval  time.Duration `envconfig:"WATCH_INTERVAL" default:"2s"`
	LogLevel       string        `envconfig:"LOG_LEVEL" default:"info"`
}

// Load reads TOKENFLOW_* environment variables, after best-effort loading a
// local .env file, and validates the result.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := envconfig.Process("tokenflow", cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Network builds the immutable target-network descriptor.
func (c *Config) Network() types.NetworkDescriptor {
	return types.NetworkDescriptor{
		ChainID:   c.ChainID,
		ChainName: c.ChainName,
		NativeCurrency: types.NativeCurrency{
			Name:     c.CurrencyName,
			Symbol:   c.CurrencySymbol,
			Decimals: c.CurrencyDecimals,
		},
		RPCURLs:      c.RPCURLs,
		ExplorerURLs: c.ExplorerURLs,
	}
}

// Contract returns the deployed token address, or the zero address when
// unconfigured.
func (c *Config) Contract() common.Address {
	if c.ContractAddress == "" {
		return common.Address{}
	}
	return common.HexToAddress(c.ContractAddress)
}
