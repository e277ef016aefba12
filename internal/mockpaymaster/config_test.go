package mockpaymaster

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	permissionless "github.com/lifenetwork-ai/permissionless-go"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

func TestLoadConfigDefaults(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	v := newViper()
	v.Set("PAYMASTER_SIGNER_KEY", hexutil.Encode(crypto.FromECDSA(key)))
	v.Set("PAYMASTER_ADDRESS", testPaymaster.Hex())

	cfg, err := LoadConfig(v)
	require.NoError(t, err)
	assert.Equal(t, ":3000", cfg.ListenAddr)
	assert.Equal(t, int64(31337), cfg.ChainId.Int64())
	assert.Equal(t, testPaymaster, cfg.Paymaster)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), crypto.PubkeyToAddress(cfg.Signer.PublicKey))
	assert.Equal(t, time.Hour, cfg.ValidFor)
	assert.Equal(t, permissionless.DefaultPaymasterVerificationGasLimit, cfg.VerificationGasLimit.Int64())
	assert.Equal(t, permissionless.DefaultPaymasterPostOpGasLimit, cfg.PostOpGasLimit.Int64())
	assert.Empty(t, cfg.TokenQuotes)
	assert.Empty(t, cfg.Policies)
}

func TestLoadConfigFromEnv(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	t.Setenv("PAYMASTER_SIGNER_KEY", common.Bytes2Hex(crypto.FromECDSA(key)))
	t.Setenv("PAYMASTER_ADDRESS", testPaymaster.Hex())
	t.Setenv("CHAIN_ID", "84532")
	t.Setenv("PAYMASTER_VALID_FOR", "10m")
	t.Setenv("ERC20_PAYMASTER_ADDRESS", testERC20Paymaster.Hex())
	t.Setenv("ERC20_TOKENS", testToken.Hex()+", "+testSender.Hex()+",")
	t.Setenv("ERC20_EXCHANGE_RATE", "2000000000000000000")
	t.Setenv("SPONSORSHIP_POLICIES", "sp_one,sp_two")

	cfg, err := LoadConfig(newViper())
	require.NoError(t, err)
	assert.Equal(t, int64(84532), cfg.ChainId.Int64())
	assert.Equal(t, 10*time.Minute, cfg.ValidFor)
	require.Len(t, cfg.TokenQuotes, 2)
	assert.Equal(t, testToken, cfg.TokenQuotes[0].Token)
	assert.Equal(t, testSender, cfg.TokenQuotes[1].Token)
	assert.Equal(t, testERC20Paymaster, cfg.TokenQuotes[0].Paymaster)
	assert.Equal(t, "2000000000000000000", cfg.TokenQuotes[0].ExchangeRate.String())
	assert.Equal(t, int64(3000000000), cfg.TokenQuotes[0].ExchangeRateNativeToUsd.Int64())
	assert.Equal(t, int64(50000), cfg.TokenQuotes[0].PostOpGas.Int64())
	assert.Len(t, cfg.Policies, 2)
	assert.Contains(t, cfg.Policies, "sp_two")
}

func TestLoadConfigErrors(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	keyHex := hexutil.Encode(crypto.FromECDSA(key))

	tests := []struct {
		name     string
		settings map[string]string
		wantErr  error
		wantMsg  string
	}{
		{name: "missing signer", settings: map[string]string{"PAYMASTER_ADDRESS": testPaymaster.Hex()}, wantErr: ErrMissingSigner},
		{name: "missing paymaster", settings: map[string]string{"PAYMASTER_SIGNER_KEY": keyHex}, wantErr: ErrMissingPaymaster},
		{name: "bad signer", settings: map[string]string{"PAYMASTER_SIGNER_KEY": "0xzz"}, wantMsg: "invalid PAYMASTER_SIGNER_KEY"},
		{
			name:     "bad paymaster",
			settings: map[string]string{"PAYMASTER_SIGNER_KEY": keyHex, "PAYMASTER_ADDRESS": "0x1234"},
			wantMsg:  "invalid PAYMASTER_ADDRESS",
		},
		{
			name:     "bad token",
			settings: map[string]string{"PAYMASTER_SIGNER_KEY": keyHex, "PAYMASTER_ADDRESS": testPaymaster.Hex(), "ERC20_TOKENS": "usdc"},
			wantMsg:  "invalid ERC20_TOKENS entry",
		},
		{
			name:     "bad rate",
			settings: map[string]string{"PAYMASTER_SIGNER_KEY": keyHex, "PAYMASTER_ADDRESS": testPaymaster.Hex(), "ERC20_EXCHANGE_RATE": "1e18"},
			wantMsg:  "invalid ERC20_EXCHANGE_RATE",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			SetDefaults(v)
			for key, value := range tt.settings {
				v.Set(key, value)
			}
			_, err := LoadConfig(v)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			if tt.wantMsg != "" {
				assert.Contains(t, err.Error(), tt.wantMsg)
			}
		})
	}
}
