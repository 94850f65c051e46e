package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vantage.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	yaml := `
general:
  instance_id: "test-node"
  environment: "development"
  quote_asset: "USDC"
  log_level: "debug"

rpc:
  endpoint: "http://localhost:8899"

pipeline:
  buy_amount: 0.1
  max_concurrent_trades: 2

trader:
  wallet: "wallet-pubkey"
  quote_token_account: "quote-account"
  dry_run: false

session:
  max_daily_trades: 10
`
	cfg, err := Load(writeConfig(t, yaml))
	require.NoError(t, err)

	assert.Equal(t, "test-node", cfg.General.InstanceID)
	assert.Equal(t, "USDC", cfg.General.QuoteAsset)
	assert.Equal(t, "http://localhost:8899", cfg.RPC.Endpoint)
	assert.Equal(t, 0.1, cfg.Pipeline.BuyAmount)
	assert.Equal(t, 2, cfg.Pipeline.MaxConcurrentTrades)
	assert.False(t, cfg.Trader.DryRun)
	assert.Equal(t, 10, cfg.Session.MaxDailyTrades)
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "general:\n  instance_id: minimal\n"))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.General.LogLevel)
	assert.Equal(t, "WSOL", cfg.General.QuoteAsset)
	assert.True(t, cfg.Trader.DryRun, "dry run defaults on")
	assert.Equal(t, 3, cfg.Pipeline.MaxConcurrentTrades)
	assert.Equal(t, 1.0, cfg.Pipeline.MaxSlippagePercent)
	assert.Equal(t, 20, cfg.Session.MaxDailyTrades)
	assert.Equal(t, "./totalProfit.json", cfg.General.ProfitLedgerPath)
}

func TestLoadConfigEnvExpansion(t *testing.T) {
	t.Setenv("TEST_VANTAGE_WALLET", "env-wallet")

	cfg, err := Load(writeConfig(t, "trader:\n  wallet: \"${TEST_VANTAGE_WALLET}\"\n"))
	require.NoError(t, err)

	assert.Equal(t, "env-wallet", string(cfg.Trader.Wallet))
}

func validConfig() *Config {
	cfg := defaultConfig()
	cfg.Trader.Wallet = "wallet"
	cfg.Trader.QuoteTokenAccount = "quote-account"
	cfg.Pipeline.BuyAmount = 0.1
	return cfg
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidate_MissingRequired(t *testing.T) {
	cfg := validConfig()
	cfg.Trader.Wallet = ""
	cfg.Pipeline.BuyAmount = 0

	err := cfg.Validate()

	require.ErrorIs(t, err, ErrMissingOption)
	assert.Contains(t, err.Error(), "trader.wallet")
	assert.Contains(t, err.Error(), "pipeline.buy_amount")
}

func TestValidate_QuoteAsset(t *testing.T) {
	cfg := validConfig()
	cfg.General.QuoteAsset = "BONK"

	assert.Error(t, cfg.Validate())
}

func TestValidate_ExitBounds(t *testing.T) {
	cfg := validConfig()
	cfg.Trader.StopLoss = 0.1

	assert.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.Trader.TakeProfit = -0.2
	assert.Error(t, cfg.Validate())
}

func TestQuoteMint(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, "So11111111111111111111111111111111111111112", string(cfg.QuoteMint()))

	cfg.General.QuoteAsset = "USDC"
	assert.Equal(t, "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", string(cfg.QuoteMint()))
}
