package analysis

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vantage-trading/vantage/internal/cache"
	"github.com/vantage-trading/vantage/internal/solana"
)

// ---------------------------------------------------------------------------
// Market Sentiment — five weighted on-chain factors
// ---------------------------------------------------------------------------

// SentimentLevel is the ordered 5-point bucket of the overall score.
type SentimentLevel int

const (
	VeryBearish SentimentLevel = iota + 1
	Bearish
	Neutral
	Bullish
	VeryBullish
)

func (l SentimentLevel) String() string {
	switch l {
	case VeryBearish:
		return "VERY_BEARISH"
	case Bearish:
		return "BEARISH"
	case Bullish:
		return "BULLISH"
	case VeryBullish:
		return "VERY_BULLISH"
	default:
		return "NEUTRAL"
	}
}

// ParseSentimentLevel maps a config string to a level. Unknown strings
// map to Neutral.
func ParseSentimentLevel(s string) SentimentLevel {
	switch s {
	case "VERY_BEARISH":
		return VeryBearish
	case "BEARISH":
		return Bearish
	case "BULLISH":
		return Bullish
	case "VERY_BULLISH":
		return VeryBullish
	default:
		return Neutral
	}
}

// Factor weights. Price action dominates; liquidity and whale flow are
// the noisiest inputs and weigh least.
const (
	weightPriceAction     = 0.30
	weightVolumeTrend     = 0.20
	weightBuySellPressure = 0.20
	weightLiquidityChange = 0.15
	weightWhaleActivity   = 0.15
)

// whaleFlowThreshold is the minimum absolute balance change counted as a
// large transfer.
const whaleFlowThreshold = 1_000_000.0

// sentimentTTL keeps scores coarse: per-transaction sampling is noisy
// and must not whipsaw the decision pipeline tick-to-tick.
const sentimentTTL = 300 * time.Second

// SentimentFactors are the five sub-scores, each in [-100, 100].
type SentimentFactors struct {
	PriceAction     float64 `json:"price_action"`
	VolumeTrend     float64 `json:"volume_trend"`
	BuySellPressure float64 `json:"buy_sell_pressure"`
	LiquidityChange float64 `json:"liquidity_change"`
	WhaleActivity   float64 `json:"whale_activity"`
}

// Sentiment is the composite verdict for one mint.
type Sentiment struct {
	Level      SentimentLevel   `json:"level"`
	Score      float64          `json:"score"`      // [-100, 100]
	Confidence float64          `json:"confidence"` // [0, 100]
	Factors    SentimentFactors `json:"factors"`
	ComputedAt time.Time        `json:"computed_at"`
}

// PriceActionScore weighs the four horizon price changes, longer
// horizons heavier, clamped to [-100, 100].
func PriceActionScore(priceChange HorizonMetrics) float64 {
	weighted := priceChange.M5*0.1 + priceChange.H1*0.2 + priceChange.H6*0.3 + priceChange.H24*0.4
	return clamp(weighted, -100, 100)
}

// VolumeTrendScore compares recent-hour volume against the hourly pace
// implied by the 24h total. Increases saturate slower than decreases.
func VolumeTrendScore(volume HorizonMetrics) float64 {
	if volume.H1 <= 0 || volume.H24 <= 0 {
		return 0
	}
	hourlyAverage := volume.H24 / 24
	ratio := volume.H1 / hourlyAverage
	if ratio >= 1 {
		return math.Min(100, (ratio-1)*100)
	}
	return math.Max(-100, (ratio-1)*200)
}

// LiquidityChangeScore is the percent change of pool liquidity against a
// previous snapshot, clamped. No prior snapshot scores neutral.
func LiquidityChangeScore(current, previous float64) float64 {
	if previous <= 0 {
		return 0
	}
	return clamp((current-previous)/previous*100, -100, 100)
}

// BuySellPressureScore classifies each participant's balance delta as a
// buy or sell and maps the buy ratio onto [-100, 100].
func BuySellPressureScore(deltas []solana.BalanceDelta) float64 {
	var buys, sells int
	for _, d := range deltas {
		switch change := d.Change(); {
		case change.IsPositive():
			buys++
		case change.IsNegative():
			sells++
		}
	}
	total := buys + sells
	if total == 0 {
		return 0
	}
	buyRatio := float64(buys) / float64(total)
	return math.Round((buyRatio - 0.5) * 200)
}

// WhaleActivityScore nets large transfers against each other: +100 means
// only large inflows, -100 only large outflows.
func WhaleActivityScore(deltas []solana.BalanceDelta) float64 {
	var inflows, outflows float64
	for _, d := range deltas {
		change := d.Change().InexactFloat64()
		if math.Abs(change) <= whaleFlowThreshold {
			continue
		}
		if change > 0 {
			inflows += change
		} else {
			outflows += -change
		}
	}
	totalFlow := inflows + outflows
	if totalFlow == 0 {
		return 0
	}
	return clamp((inflows-outflows)/totalFlow*100, -100, 100)
}

// ComputeSentiment combines the five factors into the overall score,
// level, and an agreement-based confidence. Deterministic: identical
// factors always yield identical output.
func ComputeSentiment(factors SentimentFactors) Sentiment {
	score := math.Round(factors.PriceAction*weightPriceAction +
		factors.VolumeTrend*weightVolumeTrend +
		factors.BuySellPressure*weightBuySellPressure +
		factors.LiquidityChange*weightLiquidityChange +
		factors.WhaleActivity*weightWhaleActivity)

	values := []float64{
		factors.PriceAction,
		factors.VolumeTrend,
		factors.BuySellPressure,
		factors.LiquidityChange,
		factors.WhaleActivity,
	}
	var variance float64
	for _, v := range values {
		variance += (v - score) * (v - score)
	}
	variance /= float64(len(values))

	confidence := clamp(100-math.Sqrt(variance)/2, 0, 100)

	var level SentimentLevel
	switch {
	case score >= 60:
		level = VeryBullish
	case score >= 20:
		level = Bullish
	case score > -20:
		level = Neutral
	case score > -60:
		level = Bearish
	default:
		level = VeryBearish
	}

	return Sentiment{Level: level, Score: score, Confidence: confidence, Factors: factors}
}

// deltaReader supplies recent per-participant balance changes for a mint.
type deltaReader interface {
	GetRecentBalanceDeltas(ctx context.Context, mint solana.Pubkey, limit int) ([]solana.BalanceDelta, error)
}

// SentimentConfig configures the analyzer's sampling.
type SentimentConfig struct {
	SampleLimit int `yaml:"sample_limit"`
}

// DefaultSentimentConfig returns production defaults.
func DefaultSentimentConfig() SentimentConfig {
	return SentimentConfig{SampleLimit: 20}
}

// SentimentAnalyzer computes and caches per-mint sentiment. On-chain
// sampling failures score the affected factors neutral instead of
// failing the analysis.
type SentimentAnalyzer struct {
	config SentimentConfig
	chain  deltaReader
	scores *cache.Cache[Sentiment]
}

// NewSentimentAnalyzer creates the analyzer.
func NewSentimentAnalyzer(config SentimentConfig, chain deltaReader) *SentimentAnalyzer {
	if config.SampleLimit <= 0 {
		config.SampleLimit = DefaultSentimentConfig().SampleLimit
	}
	return &SentimentAnalyzer{
		config: config,
		chain:  chain,
		scores: cache.New[Sentiment](sentimentTTL),
	}
}

// Close stops the score cache sweeper.
func (a *SentimentAnalyzer) Close() { a.scores.Close() }

// Analyze returns the mint's sentiment, sampling recent balance deltas
// for the pressure and whale factors and caching the composite.
func (a *SentimentAnalyzer) Analyze(
	ctx context.Context,
	mint solana.Pubkey,
	priceChange, volume HorizonMetrics,
	currentLiquidity, previousLiquidity float64,
) Sentiment {
	if cached, ok := a.scores.Get(string(mint)); ok {
		return cached
	}

	factors := SentimentFactors{
		PriceAction:     PriceActionScore(priceChange),
		VolumeTrend:     VolumeTrendScore(volume),
		LiquidityChange: LiquidityChangeScore(currentLiquidity, previousLiquidity),
	}

	deltas, err := a.chain.GetRecentBalanceDeltas(ctx, mint, a.config.SampleLimit)
	if err != nil {
		log.Debug().Err(err).Str("mint", string(mint)).Msg("sentiment: balance delta sampling failed")
	} else {
		factors.BuySellPressure = BuySellPressureScore(deltas)
		factors.WhaleActivity = WhaleActivityScore(deltas)
	}

	sentiment := ComputeSentiment(factors)
	sentiment.ComputedAt = time.Now()
	a.scores.Set(string(mint), sentiment)
	return sentiment
}

// ShouldTrade reports whether sentiment clears the configured
// confidence and level floors.
func ShouldTrade(s Sentiment, minConfidence float64, required SentimentLevel) bool {
	if s.Confidence < minConfidence {
		log.Info().
			Float64("confidence", s.Confidence).
			Float64("min", minConfidence).
			Msg("sentiment: confidence below threshold")
		return false
	}
	if s.Level < required {
		log.Info().
			Stringer("level", s.Level).
			Stringer("required", required).
			Msg("sentiment: level below threshold")
		return false
	}
	return true
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
