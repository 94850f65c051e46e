package analysis

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAnalyzeLiquidity_SmallPool(t *testing.T) {
	report := AnalyzeLiquidity(1000, 5000, 0.5, 1)

	assert.InDelta(t, 5500.0, report.TotalLiquidity, 1e-9)
	assert.InDelta(t, 0.55, report.LiquidityScore, 1e-9)
	assert.Greater(t, report.SlippagePercent, 0.0)
	assert.Equal(t, RecommendHold, report.Recommendation)
}

func TestAnalyzeLiquidity_DeepPool(t *testing.T) {
	report := AnalyzeLiquidity(1_000_000, 5_000_000, 1, 1)

	assert.InDelta(t, 50.0, report.LiquidityScore, 1e-9)
	// Probe trade is 1% of total; slippage = tradeSize/quoteReserve.
	assert.InDelta(t, 1.2, report.SlippagePercent, 1e-9)
	assert.InDelta(t, 88.0, report.TradingScore, 1e-9)
	assert.Equal(t, RecommendBuy, report.Recommendation)
}

func TestAnalyzeLiquidity_NonPositiveReserves(t *testing.T) {
	for _, pair := range [][2]float64{{0, 5000}, {1000, 0}, {-1, -1}} {
		report := AnalyzeLiquidity(pair[0], pair[1], 1, 1)
		assert.Equal(t, RecommendSell, report.Recommendation)
		assert.Zero(t, report.TradingScore)
	}
}

func TestAnalyzeLiquidity_SlippageScaleInvariant(t *testing.T) {
	base := AnalyzeLiquidity(1000, 5000, 0.5, 1)
	for _, factor := range []float64{0.25, 10, 1e6} {
		scaled := AnalyzeLiquidity(1000*factor, 5000*factor, 0.5, 1)
		assert.InDelta(t, base.SlippagePercent, scaled.SlippagePercent, 1e-9,
			"factor %v", factor)
	}
}

func TestOptimalSwapAmount(t *testing.T) {
	amount := OptimalSwapAmount(1.0, 5000)

	// 5000 * (sqrt(1.01) - 1)
	assert.InDelta(t, 24.9378, amount, 0.001)
	assert.Less(t, amount, 5000.0)
}

func TestOptimalSwapAmount_Degenerate(t *testing.T) {
	assert.Zero(t, OptimalSwapAmount(0, 5000))
	assert.Zero(t, OptimalSwapAmount(-1, 5000))
	assert.Zero(t, OptimalSwapAmount(1, 0))
}

func TestOptimalSwapAmount_ImpactStaysWithinBound(t *testing.T) {
	const baseReserve, quoteReserve = 1000.0, 5000.0

	for _, maxSlippage := range []float64{0.1, 0.5, 1, 2, 5, 10} {
		amount := OptimalSwapAmount(maxSlippage, quoteReserve)
		impact := PriceImpact(amount, baseReserve, quoteReserve, QuoteToBase)
		assert.LessOrEqual(t, impact, maxSlippage+1e-9, "maxSlippage %v", maxSlippage)
	}
}

func TestOptimalSwapAmount_StrictlyIncreasing(t *testing.T) {
	prev := math.Inf(-1)
	for _, maxSlippage := range []float64{0.1, 0.5, 1, 2, 5, 10, 25} {
		amount := OptimalSwapAmount(maxSlippage, 5000)
		assert.Greater(t, amount, prev)
		prev = amount
	}
}
