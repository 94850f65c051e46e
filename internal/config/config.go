package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/vantage-trading/vantage/internal/analysis"
	"github.com/vantage-trading/vantage/internal/market"
	"github.com/vantage-trading/vantage/internal/pipeline"
	"github.com/vantage-trading/vantage/internal/session"
	"github.com/vantage-trading/vantage/internal/solana"
	"github.com/vantage-trading/vantage/internal/trader"
)

// ErrMissingOption marks a required option absent from the loaded
// configuration. Fatal at startup.
var ErrMissingOption = errors.New("missing required configuration")

// Config is the root configuration structure for the sniper.
type Config struct {
	General   GeneralConfig            `yaml:"general"`
	RPC       solana.RPCConfig         `yaml:"rpc"`
	Monitor   solana.MonitorConfig     `yaml:"monitor"`
	Market    market.Config            `yaml:"market"`
	Security  analysis.SecurityConfig  `yaml:"security"`
	Sentiment analysis.SentimentConfig `yaml:"sentiment"`
	Pipeline  pipeline.Config          `yaml:"pipeline"`
	Session   session.Config           `yaml:"session"`
	SnipeList session.SnipeListConfig  `yaml:"snipe_list"`
	Trader    trader.Config            `yaml:"trader"`
	Runtime   RuntimeConfig            `yaml:"runtime"`
}

type GeneralConfig struct {
	InstanceID  string `yaml:"instance_id"`
	Environment string `yaml:"environment"` // production|staging|development
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"` // json|text

	// QuoteAsset selects the pool side the sniper spends: WSOL or USDC.
	QuoteAsset       string  `yaml:"quote_asset"`
	MinPoolSizeQuote float64 `yaml:"min_pool_size_quote"`
	ProfitLedgerPath string  `yaml:"profit_ledger_path"`
	BirdeyeAPIKey    string  `yaml:"birdeye_api_key"`
}

// RuntimeConfig holds the main-loop timer intervals, in seconds.
type RuntimeConfig struct {
	AutoSellEnabled   bool `yaml:"auto_sell_enabled"`
	AutoSellIntervalS int  `yaml:"auto_sell_interval_s"`
	AccountRefreshS   int  `yaml:"account_refresh_s"`
	DayBoundaryCheckS int  `yaml:"day_boundary_check_s"`
	StatusLogS        int  `yaml:"status_log_s"`
	SnipeListRefreshS int  `yaml:"snipe_list_refresh_s"`
}

func defaultConfig() *Config {
	return &Config{
		General: GeneralConfig{
			InstanceID:       "vantage-1",
			Environment:      "development",
			LogLevel:         "info",
			LogFormat:        "json",
			QuoteAsset:       "WSOL",
			ProfitLedgerPath: "./totalProfit.json",
		},
		RPC:       solana.DefaultRPCConfig(),
		Monitor:   solana.DefaultMonitorConfig(),
		Market:    market.DefaultConfig(),
		Security:  analysis.DefaultSecurityConfig(),
		Sentiment: analysis.DefaultSentimentConfig(),
		Pipeline:  pipeline.DefaultConfig(),
		Session:   session.DefaultConfig(),
		SnipeList: session.DefaultSnipeListConfig(),
		Trader:    trader.DefaultConfig(),
		Runtime: RuntimeConfig{
			AutoSellEnabled:   true,
			AutoSellIntervalS: 5,
			AccountRefreshS:   60,
			DayBoundaryCheckS: 60,
			StatusLogS:        300,
			SnipeListRefreshS: 1,
		},
	}
}

// Load reads and parses a YAML configuration file. Values absent from
// the file keep their defaults; dry run in particular stays on unless
// the file turns it off.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := defaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}

// Validate checks the options that have no workable default. A failure
// here is fatal at startup.
func (c *Config) Validate() error {
	var missing []string
	if c.Trader.Wallet == "" {
		missing = append(missing, "trader.wallet")
	}
	if c.Trader.QuoteTokenAccount == "" {
		missing = append(missing, "trader.quote_token_account")
	}
	if c.Pipeline.BuyAmount <= 0 {
		missing = append(missing, "pipeline.buy_amount")
	}
	if c.RPC.Endpoint == "" {
		missing = append(missing, "rpc.endpoint")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %v", ErrMissingOption, missing)
	}

	switch c.General.QuoteAsset {
	case "WSOL", "USDC":
	default:
		return fmt.Errorf("general.quote_asset must be WSOL or USDC, got %q", c.General.QuoteAsset)
	}

	if c.Pipeline.MaxSlippagePercent <= 0 {
		return fmt.Errorf("pipeline.max_slippage_percent must be positive")
	}
	if c.Trader.StopLoss >= 0 {
		return fmt.Errorf("trader.stop_loss must be negative")
	}
	if c.Trader.TakeProfit <= 0 {
		return fmt.Errorf("trader.take_profit must be positive")
	}
	if c.Session.TradingHoursEnabled {
		if c.Session.TradingStartHour < 0 || c.Session.TradingStartHour > 23 ||
			c.Session.TradingEndHour < 0 || c.Session.TradingEndHour > 24 {
			return fmt.Errorf("session trading hours out of range")
		}
	}
	return nil
}

// QuoteMint returns the mint of the configured quote asset.
func (c *Config) QuoteMint() solana.Pubkey {
	if c.General.QuoteAsset == "USDC" {
		return solana.USDCMint
	}
	return solana.WSOLMint
}
