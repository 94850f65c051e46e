package analysis

import "math"

// ---------------------------------------------------------------------------
// Pool Liquidity Analysis — constant-product scoring
// ---------------------------------------------------------------------------

// Recommendation is the liquidity analyzer's verdict on a pool.
type Recommendation string

const (
	RecommendBuy  Recommendation = "buy"
	RecommendSell Recommendation = "sell"
	RecommendHold Recommendation = "hold"
)

// LiquidityReport is the scored analysis of one pool's reserves.
// TotalLiquidity is denominated in whatever unit the input prices
// carry, quote units by convention.
type LiquidityReport struct {
	TotalLiquidity  float64        `json:"total_liquidity"`
	SlippagePercent float64        `json:"slippage_percent"`
	LiquidityScore  float64        `json:"liquidity_score"`
	SlippageScore   float64        `json:"slippage_score"`
	TradingScore    float64        `json:"trading_score"`
	Recommendation  Recommendation `json:"recommendation"`
}

// AnalyzeLiquidity scores a pool from its reserves and unit prices,
// both prices in quote units so quotePrice is 1 for the pool's own
// quote asset. Slippage is probed with a hypothetical trade worth 1% of
// total liquidity pushed into the quote side of the constant product.
//
// Scores: liquidity contributes min(total/10000, 50), slippage
// contributes max(0, 50 - slippage*10); the sum maps to a recommendation
// (>70 buy, <30 sell, otherwise hold). Non-positive reserves score zero.
func AnalyzeLiquidity(baseReserve, quoteReserve, basePrice, quotePrice float64) LiquidityReport {
	if baseReserve <= 0 || quoteReserve <= 0 {
		return LiquidityReport{SlippagePercent: 100, Recommendation: RecommendSell}
	}

	total := baseReserve*basePrice + quoteReserve*quotePrice
	tradeSize := total * 0.01

	k := baseReserve * quoteReserve
	newQuote := quoteReserve + tradeSize
	newBase := k / newQuote
	baseReceived := baseReserve - newBase

	currentPrice := quoteReserve / baseReserve
	effectivePrice := tradeSize / baseReceived
	slippage := (effectivePrice/currentPrice - 1) * 100

	liquidityScore := math.Min(total/10_000, 50)
	slippageScore := math.Max(0, 50-slippage*10)
	tradingScore := liquidityScore + slippageScore

	rec := RecommendHold
	switch {
	case tradingScore > 70:
		rec = RecommendBuy
	case tradingScore < 30:
		rec = RecommendSell
	}

	return LiquidityReport{
		TotalLiquidity:  total,
		SlippagePercent: slippage,
		LiquidityScore:  liquidityScore,
		SlippageScore:   slippageScore,
		TradingScore:    tradingScore,
		Recommendation:  rec,
	}
}

// OptimalSwapAmount returns the largest quote-side input whose slippage
// stays within maxSlippagePercent, derived from the constant-product
// invariant: quoteReserve * (sqrt(1 + maxSlippage/100) - 1).
func OptimalSwapAmount(maxSlippagePercent, quoteReserve float64) float64 {
	if maxSlippagePercent <= 0 || quoteReserve <= 0 {
		return 0
	}
	return quoteReserve * (math.Sqrt(1+maxSlippagePercent/100) - 1)
}
