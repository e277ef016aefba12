package mockpaymaster

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	permissionless "github.com/lifenetwork-ai/permissionless-go"
	"github.com/spf13/viper"
)

var (
	ErrMissingSigner    = errors.New("PAYMASTER_SIGNER_KEY is required")
	ErrMissingPaymaster = errors.New("PAYMASTER_ADDRESS is required")
)

// Config holds everything the mock paymaster needs to sponsor operations.
type Config struct {
	ListenAddr           string
	ChainId              *big.Int
	Paymaster            common.Address
	Signer               *ecdsa.PrivateKey
	ValidFor             time.Duration
	VerificationGasLimit *big.Int
	PostOpGasLimit       *big.Int
	SponsorName          string
	ERC20Paymaster       common.Address
	TokenQuotes          []permissionless.TokenQuote
	Policies             map[string]SponsorshipPolicy
}

// SetDefaults registers the default value of every setting read by LoadConfig.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("LISTEN_ADDR", ":3000")
	v.SetDefault("CHAIN_ID", 31337)
	v.SetDefault("PAYMASTER_VALID_FOR", time.Hour)
	v.SetDefault("PAYMASTER_VERIFICATION_GAS", permissionless.DefaultPaymasterVerificationGasLimit)
	v.SetDefault("PAYMASTER_POSTOP_GAS", permissionless.DefaultPaymasterPostOpGasLimit)
	v.SetDefault("PAYMASTER_SPONSOR_NAME", "permissionless mock paymaster")
	v.SetDefault("ERC20_POSTOP_GAS", 50000)
	v.SetDefault("ERC20_EXCHANGE_RATE", "1000000000000000000")
	v.SetDefault("ERC20_EXCHANGE_RATE_USD", "3000000000")
}

// LoadConfig reads the mock paymaster configuration from v.
//
// ERC20_TOKENS is a comma separated list of token addresses quoted at
// ERC20_EXCHANGE_RATE (token units per 1e18 wei) and ERC20_EXCHANGE_RATE_USD
// (USD with 6 decimals per 1e18 wei).
func LoadConfig(v *viper.Viper) (Config, error) {
	keyHex := strings.TrimPrefix(v.GetString("PAYMASTER_SIGNER_KEY"), "0x")
	if keyHex == "" {
		return Config{}, ErrMissingSigner
	}
	signer, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return Config{}, fmt.Errorf("invalid PAYMASTER_SIGNER_KEY: %w", err)
	}

	cfg := Config{
		ListenAddr:           v.GetString("LISTEN_ADDR"),
		ChainId:              big.NewInt(v.GetInt64("CHAIN_ID")),
		Signer:               signer,
		ValidFor:             v.GetDuration("PAYMASTER_VALID_FOR"),
		VerificationGasLimit: big.NewInt(v.GetInt64("PAYMASTER_VERIFICATION_GAS")),
		PostOpGasLimit:       big.NewInt(v.GetInt64("PAYMASTER_POSTOP_GAS")),
		SponsorName:          v.GetString("PAYMASTER_SPONSOR_NAME"),
		Policies:             map[string]SponsorshipPolicy{},
	}
	if cfg.Paymaster, err = addressSetting(v, "PAYMASTER_ADDRESS"); err != nil {
		return Config{}, err
	}
	if cfg.Paymaster == (common.Address{}) {
		return Config{}, ErrMissingPaymaster
	}
	if cfg.ERC20Paymaster, err = addressSetting(v, "ERC20_PAYMASTER_ADDRESS"); err != nil {
		return Config{}, err
	}

	rate, ok := new(big.Int).SetString(v.GetString("ERC20_EXCHANGE_RATE"), 10)
	if !ok {
		return Config{}, fmt.Errorf("invalid ERC20_EXCHANGE_RATE %q", v.GetString("ERC20_EXCHANGE_RATE"))
	}
	usdRate, ok := new(big.Int).SetString(v.GetString("ERC20_EXCHANGE_RATE_USD"), 10)
	if !ok {
		return Config{}, fmt.Errorf("invalid ERC20_EXCHANGE_RATE_USD %q", v.GetString("ERC20_EXCHANGE_RATE_USD"))
	}
	for _, token := range listSetting(v, "ERC20_TOKENS") {
		if !common.IsHexAddress(token) {
			return Config{}, fmt.Errorf("invalid ERC20_TOKENS entry %q", token)
		}
		cfg.TokenQuotes = append(cfg.TokenQuotes, permissionless.TokenQuote{
			Paymaster:               cfg.ERC20Paymaster,
			Token:                   common.HexToAddress(token),
			PostOpGas:               big.NewInt(v.GetInt64("ERC20_POSTOP_GAS")),
			ExchangeRate:            rate,
			ExchangeRateNativeToUsd: usdRate,
			BalanceSlot:             new(big.Int),
			AllowanceSlot:           big.NewInt(1),
		})
	}
	for _, id := range listSetting(v, "SPONSORSHIP_POLICIES") {
		cfg.Policies[id] = SponsorshipPolicy{
			Name:        id,
			Author:      cfg.SponsorName,
			Description: "mock sponsorship policy " + id,
		}
	}
	return cfg, nil
}

func addressSetting(v *viper.Viper, key string) (common.Address, error) {
	value := v.GetString(key)
	if value == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("invalid %s %q", key, value)
	}
	return common.HexToAddress(value), nil
}

// listSetting splits a comma separated setting, dropping blank entries.
func listSetting(v *viper.Viper, key string) []string {
	var out []string
	for _, item := range strings.Split(v.GetString(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
