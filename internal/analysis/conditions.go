package analysis

import (
	"math"
	"strings"
)

// ---------------------------------------------------------------------------
// Market Condition Scoring — bullish/confidence heuristics
// ---------------------------------------------------------------------------

// HorizonMetrics carries one metric sampled at the four standard horizons.
type HorizonMetrics struct {
	M5  float64 `json:"m5"`
	H1  float64 `json:"h1"`
	H6  float64 `json:"h6"`
	H24 float64 `json:"h24"`
}

// TxnCounts is the buy/sell transaction tally over one horizon.
type TxnCounts struct {
	Buys  int `json:"buys"`
	Sells int `json:"sells"`
}

func (t TxnCounts) buyRatio() float64 {
	total := t.Buys + t.Sells
	if total == 0 {
		total = 1
	}
	return float64(t.Buys) / float64(total)
}

// MarketConditions is the additive-heuristic verdict. Confidence is
// capped at 0.9 and scales position size downstream.
type MarketConditions struct {
	Bullish    bool    `json:"bullish"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// AnalyzeMarketConditions flags bullish setups from price momentum,
// volume surge, buy pressure, and a reversal override, accumulating
// confidence additively.
func AnalyzeMarketConditions(priceChange, volume HorizonMetrics, txns5m, txns1h TxnCounts) MarketConditions {
	result := MarketConditions{Reason: "neutral market conditions"}

	if priceChange.M5 > 5 && priceChange.H1 > 10 {
		result = MarketConditions{Bullish: true, Confidence: 0.7, Reason: "strong uptrend detected"}
	}

	// 5-minute volume running above the implied hourly pace.
	if volume.M5 > volume.H1/12 {
		result.Confidence += 0.1
		result.Reason += ", increasing volume"
	}

	if txns5m.buyRatio() > 0.6 && txns1h.buyRatio() > 0.55 {
		result.Confidence += 0.1
		result.Reason += ", positive buy pressure"
		result.Bullish = true
	}

	// Reversal override wins over everything accumulated above.
	if priceChange.H1 < -5 && priceChange.M5 > 2 {
		result = MarketConditions{Bullish: true, Confidence: 0.6, Reason: "potential reversal detected"}
	}

	result.Confidence = math.Min(result.Confidence, 0.9)
	return result
}

// PositionSize scales a base amount by condition confidence. Non-bullish
// conditions size to zero.
func PositionSize(baseAmount float64, conditions MarketConditions) float64 {
	if !conditions.Bullish {
		return 0
	}
	return baseAmount * conditions.Confidence
}

// RiskLevel adjusts position sizing globally.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Multiplier returns the sizing factor for the level. Unknown levels
// fall back to 1.
func (r RiskLevel) Multiplier() float64 {
	switch RiskLevel(strings.ToLower(string(r))) {
	case RiskLow:
		return 0.5
	case RiskHigh:
		return 1.5
	default:
		return 1.0
	}
}
