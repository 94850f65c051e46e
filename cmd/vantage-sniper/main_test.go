package main

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vantage-trading/vantage/internal/analysis"
	"github.com/vantage-trading/vantage/internal/config"
	"github.com/vantage-trading/vantage/internal/market"
	"github.com/vantage-trading/vantage/internal/pipeline"
	"github.com/vantage-trading/vantage/internal/session"
	"github.com/vantage-trading/vantage/internal/solana"
	"github.com/vantage-trading/vantage/internal/trader"
)

type staticPriceSource struct{ price decimal.Decimal }

func (s staticPriceSource) Name() string { return "static" }

func (s staticPriceSource) TokenPrice(context.Context, solana.Pubkey) (decimal.Decimal, bool, error) {
	return s.price, s.price.IsPositive(), nil
}

type staticResolver struct{ keys market.PoolKeys }

func (r staticResolver) PoolKeys(context.Context, *solana.PoolState) (market.PoolKeys, error) {
	return r.keys, nil
}

type flatFees struct{}

func (flatFees) ComputeUnitPrice() uint64 { return 100_000 }

type recordingLedger struct{ adds []float64 }

func (l *recordingLedger) Add(profit float64) (float64, error) {
	l.adds = append(l.adds, profit)
	return profit, nil
}

type allowAll struct{}

func (allowAll) Allows(string) bool { return true }

type safeMints struct{}

func (safeMints) CheckMint(context.Context, solana.Pubkey) analysis.SafetyVerdict {
	return analysis.SafetyVerdict{Safe: true}
}

type neutralSentiment struct{}

func (neutralSentiment) Analyze(context.Context, solana.Pubkey, analysis.HorizonMetrics,
	analysis.HorizonMetrics, float64, float64) analysis.Sentiment {
	return analysis.Sentiment{}
}

type poolFixture struct {
	cfg      *config.Config
	gateway  *market.Gateway
	decider  *pipeline.Pipeline
	executor *trader.Trader
	builder  *trader.StubSwapBuilder
}

// newPoolFixture wires the processPool collaborators against a stub
// chain with a deep 1M/5M pool.
func newPoolFixture(t *testing.T, traderConfig trader.Config, mintPrice decimal.Decimal) *poolFixture {
	t.Helper()

	client := solana.NewStubChainClient()
	client.SetBalance("base-vault", decimal.NewFromInt(1_000_000))
	client.SetBalance("quote-vault", decimal.NewFromInt(5_000_000))

	cfg := &config.Config{}
	cfg.Trader = traderConfig
	cfg.Pipeline = pipeline.DefaultConfig()
	cfg.Pipeline.BuyAmount = 100

	gateway := market.NewGateway(market.Config{}, client,
		staticPriceSource{price: mintPrice}, staticPriceSource{})
	sessionState := session.New(session.DefaultConfig())
	builder := trader.NewStubSwapBuilder()
	executor := trader.New(cfg.Trader, client, staticResolver{}, builder,
		flatFees{}, sessionState, &recordingLedger{})
	decider := pipeline.New(cfg.Pipeline, executor, sessionState,
		allowAll{}, safeMints{}, neutralSentiment{})

	return &poolFixture{cfg: cfg, gateway: gateway, decider: decider, executor: executor, builder: builder}
}

func freshPool() *solana.PoolState {
	return &solana.PoolState{
		ID:         "pool",
		BaseMint:   "mint",
		QuoteMint:  "wsol",
		BaseVault:  "base-vault",
		QuoteVault: "quote-vault",
	}
}

func TestProcessPool_DynamicSizingScalesBuy(t *testing.T) {
	traderConfig := trader.DefaultConfig()
	traderConfig.Wallet = "wallet"
	traderConfig.QuoteTokenAccount = "quote-account"
	traderConfig.DynamicSizing = true
	traderConfig.RiskLevel = analysis.RiskHigh
	f := newPoolFixture(t, traderConfig, decimal.NewFromFloat(0.000005))

	processPool(context.Background(), f.cfg, f.gateway, f.decider, f.executor, freshPool())

	built := f.builder.Built()
	require.Len(t, built, 1)
	// 100 budget * 0.2 confidence (volume pace + buy pressure) * 1.5 risk
	assert.Equal(t, "30", built[0].AmountIn.String())
}

func TestProcessPool_UnpricedMintBuysFullBudget(t *testing.T) {
	traderConfig := trader.DefaultConfig()
	traderConfig.Wallet = "wallet"
	traderConfig.QuoteTokenAccount = "quote-account"
	traderConfig.DynamicSizing = true
	f := newPoolFixture(t, traderConfig, decimal.Zero)

	processPool(context.Background(), f.cfg, f.gateway, f.decider, f.executor, freshPool())

	built := f.builder.Built()
	require.Len(t, built, 1)
	assert.Equal(t, "100", built[0].AmountIn.String())
}

func TestProcessPool_StaticSizingIgnoresConditions(t *testing.T) {
	traderConfig := trader.DefaultConfig()
	traderConfig.Wallet = "wallet"
	traderConfig.QuoteTokenAccount = "quote-account"
	f := newPoolFixture(t, traderConfig, decimal.NewFromFloat(0.000005))

	processPool(context.Background(), f.cfg, f.gateway, f.decider, f.executor, freshPool())

	built := f.builder.Built()
	require.Len(t, built, 1)
	assert.Equal(t, "100", built[0].AmountIn.String())
}
