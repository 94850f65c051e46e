package analysis

import "math"

// ---------------------------------------------------------------------------
// Price Impact Estimation
// ---------------------------------------------------------------------------

// SwapDirection selects which reserve the input amount is added to.
type SwapDirection int

const (
	BaseToQuote SwapDirection = iota
	QuoteToBase
)

func (d SwapDirection) String() string {
	if d == QuoteToBase {
		return "quote_to_base"
	}
	return "base_to_quote"
}

// maxImpact is the saturating result for any input the formula cannot
// price. Treating unknown as maximum impact means unknown never trades.
const maxImpact = 100.0

// PriceImpact estimates the percentage price movement a trade of
// inputAmount would cause, recomputing post-trade reserves under the
// constant product. Non-positive reserves or a degenerate result return
// the maximum of 100.
func PriceImpact(inputAmount, baseReserve, quoteReserve float64, direction SwapDirection) float64 {
	if baseReserve <= 0 || quoteReserve <= 0 || inputAmount < 0 {
		return maxImpact
	}

	k := baseReserve * quoteReserve
	currentPrice := quoteReserve / baseReserve

	var newBase, newQuote float64
	if direction == BaseToQuote {
		newBase = baseReserve + inputAmount
		newQuote = k / newBase
	} else {
		newQuote = quoteReserve + inputAmount
		newBase = k / newQuote
	}

	newPrice := newQuote / newBase

	var impact float64
	if direction == BaseToQuote {
		impact = (currentPrice - newPrice) / currentPrice * 100
	} else {
		impact = (newPrice - currentPrice) / currentPrice * 100
	}

	impact = math.Abs(impact)
	if math.IsNaN(impact) || math.IsInf(impact, 0) {
		return maxImpact
	}
	return impact
}

// CheckPriceImpact reports whether a trade stays within the allowed
// impact, returning the estimate alongside the verdict.
func CheckPriceImpact(inputAmount, baseReserve, quoteReserve float64, direction SwapDirection, maxPercent float64) (float64, bool) {
	impact := PriceImpact(inputAmount, baseReserve, quoteReserve, direction)
	return impact, impact <= maxPercent
}
