package pipeline

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/vantage-trading/vantage/internal/analysis"
	"github.com/vantage-trading/vantage/internal/solana"
)

type fakeAttempts struct{ inFlight int }

func (f *fakeAttempts) InFlight() int { return f.inFlight }

type fakeSession struct {
	tradingAllowed bool
	riskAllowed    bool
	riskReason     string
}

func (f *fakeSession) TradingAllowed() bool        { return f.tradingAllowed }
func (f *fakeSession) RiskAllowed() (bool, string) { return f.riskAllowed, f.riskReason }

type fakeAllowList struct{ allowed bool }

func (f *fakeAllowList) Allows(string) bool { return f.allowed }

type fakeSecurity struct {
	verdict analysis.SafetyVerdict
	calls   int
}

func (f *fakeSecurity) CheckMint(context.Context, solana.Pubkey) analysis.SafetyVerdict {
	f.calls++
	return f.verdict
}

type fakeSentiment struct {
	sentiment analysis.Sentiment
	calls     int
}

func (f *fakeSentiment) Analyze(_ context.Context, _ solana.Pubkey, _, _ analysis.HorizonMetrics, _, _ float64) analysis.Sentiment {
	f.calls++
	return f.sentiment
}

type fixture struct {
	attempts  *fakeAttempts
	session   *fakeSession
	allowList *fakeAllowList
	security  *fakeSecurity
	sentiment *fakeSentiment
	pipeline  *Pipeline
}

func newFixture(config Config) *fixture {
	f := &fixture{
		attempts:  &fakeAttempts{},
		session:   &fakeSession{tradingAllowed: true, riskAllowed: true},
		allowList: &fakeAllowList{allowed: true},
		security:  &fakeSecurity{verdict: analysis.SafetyVerdict{Safe: true}},
		sentiment: &fakeSentiment{sentiment: analysis.Sentiment{Level: analysis.Bullish, Confidence: 90}},
	}
	f.pipeline = New(config, f.attempts, f.session, f.allowList, f.security, f.sentiment)
	return f
}

// deepPool scores well above the buy threshold.
func deepPool() *solana.PoolState {
	return &solana.PoolState{
		ID:           solana.Pubkey("pool"),
		BaseMint:     solana.Pubkey("mint"),
		BaseReserve:  decimal.NewFromInt(1_000_000),
		QuoteReserve: decimal.NewFromInt(5_000_000),
	}
}

func buyConfig() Config {
	config := DefaultConfig()
	config.BuyAmount = 100
	return config
}

func request() Request {
	return Request{
		Mint:          solana.Pubkey("mint"),
		Pool:          deepPool(),
		BasePrice:  1,
		QuotePrice: 1,
	}
}

func TestEvaluate_Approved(t *testing.T) {
	f := newFixture(buyConfig())

	d := f.pipeline.Evaluate(context.Background(), request())

	assert.True(t, d.Approved)
	assert.Empty(t, d.RejectedBy)
	assert.Equal(t, 100.0, d.SwapAmount, "buy amount below the slippage clamp passes through")
	assert.Equal(t, analysis.RecommendBuy, d.Liquidity.Recommendation)
	assert.Equal(t, int64(1), f.pipeline.Stats().Approved)
}

func TestEvaluate_ConcurrencyShortCircuits(t *testing.T) {
	f := newFixture(buyConfig())
	f.attempts.inFlight = 3

	d := f.pipeline.Evaluate(context.Background(), request())

	assert.False(t, d.Approved)
	assert.Equal(t, GateConcurrency, d.RejectedBy)
	assert.Zero(t, f.security.calls, "later gates must not run")
	assert.Zero(t, f.sentiment.calls)
}

func TestEvaluate_TradingWindow(t *testing.T) {
	f := newFixture(buyConfig())
	f.session.tradingAllowed = false

	d := f.pipeline.Evaluate(context.Background(), request())

	assert.Equal(t, GateWindow, d.RejectedBy)
	assert.Zero(t, f.security.calls)
}

func TestEvaluate_Risk(t *testing.T) {
	f := newFixture(buyConfig())
	f.session.riskAllowed = false
	f.session.riskReason = "daily trade limit reached (20/20)"

	d := f.pipeline.Evaluate(context.Background(), request())

	assert.Equal(t, GateRisk, d.RejectedBy)
	assert.Contains(t, d.Reason, "trade limit")
}

func TestEvaluate_AllowList(t *testing.T) {
	f := newFixture(buyConfig())
	f.allowList.allowed = false

	d := f.pipeline.Evaluate(context.Background(), request())

	assert.Equal(t, GateAllowList, d.RejectedBy)
	assert.Zero(t, f.security.calls, "allow-list runs before security")
}

func TestEvaluate_Security(t *testing.T) {
	f := newFixture(buyConfig())
	f.security.verdict = analysis.SafetyVerdict{Safe: false, Reason: "token is mintable (has mint authority)"}

	d := f.pipeline.Evaluate(context.Background(), request())

	assert.Equal(t, GateSecurity, d.RejectedBy)
	assert.Contains(t, d.Reason, "mintable")
	assert.Zero(t, f.sentiment.calls)
}

func TestEvaluate_LiquidityNotBuy(t *testing.T) {
	f := newFixture(buyConfig())

	req := request()
	req.Pool.BaseReserve = decimal.NewFromInt(100)
	req.Pool.QuoteReserve = decimal.NewFromInt(500)

	d := f.pipeline.Evaluate(context.Background(), req)

	assert.Equal(t, GateLiquidity, d.RejectedBy)
	assert.NotEqual(t, analysis.RecommendBuy, d.Liquidity.Recommendation)
}

func TestEvaluate_PriceImpact(t *testing.T) {
	config := buyConfig()
	config.PriceImpactEnabled = true
	config.MaxPriceImpactPercent = 0.000001
	f := newFixture(config)

	d := f.pipeline.Evaluate(context.Background(), request())

	assert.Equal(t, GatePriceImpact, d.RejectedBy)
}

func TestEvaluate_PriceImpactDisabledSkips(t *testing.T) {
	config := buyConfig()
	config.PriceImpactEnabled = false
	config.MaxPriceImpactPercent = 0.000001
	f := newFixture(config)

	d := f.pipeline.Evaluate(context.Background(), request())
	assert.True(t, d.Approved)
}

func TestEvaluate_SwapAmountClampedBySlippage(t *testing.T) {
	config := buyConfig()
	config.BuyAmount = 1e9 // far above the clamp
	f := newFixture(config)

	d := f.pipeline.Evaluate(context.Background(), request())

	optimal := analysis.OptimalSwapAmount(config.MaxSlippagePercent, 5_000_000)
	assert.True(t, d.Approved)
	assert.InDelta(t, optimal, d.SwapAmount, 1e-9)
}

func TestEvaluate_Sentiment(t *testing.T) {
	config := buyConfig()
	config.SentimentEnabled = true
	f := newFixture(config)
	f.sentiment.sentiment = analysis.Sentiment{Level: analysis.Bearish, Confidence: 95}

	d := f.pipeline.Evaluate(context.Background(), request())

	assert.Equal(t, GateSentiment, d.RejectedBy)
	assert.Equal(t, 1, f.sentiment.calls)
}

func TestEvaluate_SentimentDisabledSkips(t *testing.T) {
	f := newFixture(buyConfig())

	d := f.pipeline.Evaluate(context.Background(), request())

	assert.True(t, d.Approved)
	assert.Zero(t, f.sentiment.calls)
}

func TestEvaluate_SentimentApproves(t *testing.T) {
	config := buyConfig()
	config.SentimentEnabled = true
	f := newFixture(config)

	d := f.pipeline.Evaluate(context.Background(), request())

	assert.True(t, d.Approved)
	assert.Equal(t, 1, f.sentiment.calls)
}
