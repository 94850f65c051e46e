package pipeline

import (
	"context"
	"math"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/vantage-trading/vantage/internal/analysis"
	"github.com/vantage-trading/vantage/internal/solana"
)

// ---------------------------------------------------------------------------
// Decision Pipeline — ordered, short-circuiting buy gates
// ---------------------------------------------------------------------------

// Gate names used as rejection reason codes.
const (
	GateConcurrency = "CONCURRENCY"
	GateWindow      = "TRADING_WINDOW"
	GateRisk        = "RISK"
	GateAllowList   = "ALLOW_LIST"
	GateSecurity    = "SECURITY"
	GateLiquidity   = "LIQUIDITY"
	GatePriceImpact = "PRICE_IMPACT"
	GateSentiment   = "SENTIMENT"
)

// Config holds the pipeline thresholds.
type Config struct {
	MaxConcurrentTrades int     `yaml:"max_concurrent_trades"`
	BuyAmount           float64 `yaml:"buy_amount"` // quote units
	MaxSlippagePercent  float64 `yaml:"max_slippage_percent"`

	PriceImpactEnabled    bool    `yaml:"price_impact_enabled"`
	MaxPriceImpactPercent float64 `yaml:"max_price_impact_percent"`

	SentimentEnabled       bool    `yaml:"sentiment_enabled"`
	MinSentimentConfidence float64 `yaml:"min_sentiment_confidence"`
	RequiredSentimentLevel string  `yaml:"required_sentiment_level"`
}

// DefaultConfig returns production defaults. BuyAmount has no default:
// it must come from configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentTrades:    3,
		MaxSlippagePercent:     1.0,
		MaxPriceImpactPercent:  3.0,
		MinSentimentConfidence: 60,
		RequiredSentimentLevel: "NEUTRAL",
	}
}

// AttemptCounter exposes the number of in-flight trade attempts.
type AttemptCounter interface {
	InFlight() int
}

// SessionGate exposes the session checks the pipeline consults.
type SessionGate interface {
	TradingAllowed() bool
	RiskAllowed() (bool, string)
}

// AllowList restricts which mints may be bought.
type AllowList interface {
	Allows(mint string) bool
}

// SecurityChecker screens mints.
type SecurityChecker interface {
	CheckMint(ctx context.Context, mint solana.Pubkey) analysis.SafetyVerdict
}

// SentimentScorer scores per-mint sentiment.
type SentimentScorer interface {
	Analyze(ctx context.Context, mint solana.Pubkey, priceChange, volume analysis.HorizonMetrics,
		currentLiquidity, previousLiquidity float64) analysis.Sentiment
}

// Request is one pool evaluation. Pool reserves must be hydrated.
type Request struct {
	Mint solana.Pubkey
	Pool *solana.PoolState

	// Unit prices in quote denomination; QuotePrice is 1 for the
	// pool's own quote asset.
	BasePrice  float64
	QuotePrice float64

	// Horizon data for the sentiment gate; zero values score neutral.
	PriceChange       analysis.HorizonMetrics
	Volume            analysis.HorizonMetrics
	PreviousLiquidity float64
}

// Decision is the pipeline verdict. SwapAmount is the slippage-clamped
// quote input the execution core may spend at most.
type Decision struct {
	Approved   bool                     `json:"approved"`
	RejectedBy string                   `json:"rejected_by,omitempty"`
	Reason     string                   `json:"reason,omitempty"`
	SwapAmount float64                  `json:"swap_amount,omitempty"`
	Liquidity  analysis.LiquidityReport `json:"liquidity"`
}

// Pipeline evaluates the ordered gate sequence. Rejections have no side
// effect beyond a log record.
type Pipeline struct {
	config    Config
	attempts  AttemptCounter
	session   SessionGate
	allowList AllowList
	security  SecurityChecker
	sentiment SentimentScorer

	approved atomic.Int64
	rejected atomic.Int64
}

// New creates a pipeline. All collaborators are required.
func New(config Config, attempts AttemptCounter, session SessionGate,
	allowList AllowList, security SecurityChecker, sentiment SentimentScorer) *Pipeline {
	return &Pipeline{
		config:    config,
		attempts:  attempts,
		session:   session,
		allowList: allowList,
		security:  security,
		sentiment: sentiment,
	}
}

// Evaluate runs the gates in order and short-circuits on the first
// rejection.
func (p *Pipeline) Evaluate(ctx context.Context, req Request) Decision {
	if inFlight := p.attempts.InFlight(); inFlight >= p.config.MaxConcurrentTrades {
		return p.reject(req, GateConcurrency, "max concurrent trade attempts reached")
	}

	if !p.session.TradingAllowed() {
		return p.reject(req, GateWindow, "outside trading hours")
	}

	if ok, reason := p.session.RiskAllowed(); !ok {
		return p.reject(req, GateRisk, reason)
	}

	if !p.allowList.Allows(string(req.Mint)) {
		return p.reject(req, GateAllowList, "mint not on snipe list")
	}

	if verdict := p.security.CheckMint(ctx, req.Mint); !verdict.Safe {
		return p.reject(req, GateSecurity, verdict.Reason)
	}

	baseReserve := req.Pool.BaseReserve.InexactFloat64()
	quoteReserve := req.Pool.QuoteReserve.InexactFloat64()

	liquidity := analysis.AnalyzeLiquidity(baseReserve, quoteReserve, req.BasePrice, req.QuotePrice)
	if liquidity.Recommendation != analysis.RecommendBuy {
		d := p.reject(req, GateLiquidity, "pool analysis does not recommend buying")
		d.Liquidity = liquidity
		return d
	}

	optimal := analysis.OptimalSwapAmount(p.config.MaxSlippagePercent, quoteReserve)
	swapAmount := math.Min(p.config.BuyAmount, optimal)

	if p.config.PriceImpactEnabled {
		impact, ok := analysis.CheckPriceImpact(swapAmount, baseReserve, quoteReserve,
			analysis.QuoteToBase, p.config.MaxPriceImpactPercent)
		if !ok {
			d := p.reject(req, GatePriceImpact, "price impact above maximum")
			d.Liquidity = liquidity
			return d
		}
		log.Info().
			Str("mint", string(req.Mint)).
			Float64("impact", impact).
			Msg("pipeline: price impact within bound")
	}

	if p.config.SentimentEnabled {
		previous := req.PreviousLiquidity
		if previous <= 0 {
			previous = liquidity.TotalLiquidity * 0.9
		}
		s := p.sentiment.Analyze(ctx, req.Mint, req.PriceChange, req.Volume, liquidity.TotalLiquidity, previous)

		required := analysis.ParseSentimentLevel(p.config.RequiredSentimentLevel)
		if !analysis.ShouldTrade(s, p.config.MinSentimentConfidence, required) {
			d := p.reject(req, GateSentiment, "unfavorable market sentiment")
			d.Liquidity = liquidity
			return d
		}
	}

	p.approved.Add(1)
	log.Info().
		Str("mint", string(req.Mint)).
		Float64("score", liquidity.TradingScore).
		Float64("swap_amount", swapAmount).
		Msg("pipeline: approved")

	return Decision{Approved: true, SwapAmount: swapAmount, Liquidity: liquidity}
}

func (p *Pipeline) reject(req Request, gate, reason string) Decision {
	p.rejected.Add(1)
	log.Info().
		Str("mint", string(req.Mint)).
		Str("gate", gate).
		Str("reason", reason).
		Msg("pipeline: rejected")
	return Decision{RejectedBy: gate, Reason: reason}
}

// Stats holds the pipeline counters.
type Stats struct {
	Approved int64 `json:"approved"`
	Rejected int64 `json:"rejected"`
}

func (p *Pipeline) Stats() Stats {
	return Stats{Approved: p.approved.Load(), Rejected: p.rejected.Load()}
}
