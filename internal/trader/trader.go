package trader

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/vantage-trading/vantage/internal/analysis"
	"github.com/vantage-trading/vantage/internal/market"
	"github.com/vantage-trading/vantage/internal/solana"
)

// ---------------------------------------------------------------------------
// Execution Core — concurrency-bounded buy/sell state machine
// ---------------------------------------------------------------------------

// Config configures the execution core.
type Config struct {
	Wallet            solana.Pubkey `yaml:"wallet"`
	QuoteTokenAccount solana.Pubkey `yaml:"quote_token_account"`

	// PrivateKey is the base58 secret key used by the live swap builder.
	// Unused in dry run.
	PrivateKey string `yaml:"private_key"`

	RiskLevel          analysis.RiskLevel `yaml:"risk_level"`
	DynamicSizing      bool               `yaml:"dynamic_sizing"`
	MaxSlippagePercent float64            `yaml:"max_slippage_percent"`

	// Net-change exit bounds as fractions: -0.1 is a 10% loss.
	StopLoss   float64 `yaml:"stop_loss"`
	TakeProfit float64 `yaml:"take_profit"`

	BuyRetries       int           `yaml:"buy_retries"`
	BuyRetryInterval time.Duration `yaml:"buy_retry_interval"`
	MaxSellRetries   int           `yaml:"max_sell_retries"`

	// DryRun logs and registers positions without submitting anything.
	DryRun bool `yaml:"dry_run"`
}

// DefaultConfig returns conservative defaults. Dry run stays on until
// explicitly disabled.
func DefaultConfig() Config {
	return Config{
		RiskLevel:          analysis.RiskMedium,
		MaxSlippagePercent: 1.0,
		StopLoss:           -0.1,
		TakeProfit:         0.2,
		BuyRetries:         10,
		BuyRetryInterval:   10 * time.Millisecond,
		MaxSellRetries:     5,
		DryRun:             true,
	}
}

// Position is an open holding. EntryPrice is quote-per-base, set by the
// buy confirmation from the pool's post-fill vault balances.
type Position struct {
	ID            string           `json:"id"`
	Mint          solana.Pubkey    `json:"mint"`
	Keys          market.PoolKeys  `json:"keys"`
	BaseVault     solana.Pubkey    `json:"base_vault"`
	QuoteVault    solana.Pubkey    `json:"quote_vault"`
	EntryPrice    float64          `json:"entry_price"`
	BuySignature  solana.Signature `json:"buy_signature"`
	SellSignature solana.Signature `json:"sell_signature,omitempty"`
	OpenedAt      time.Time        `json:"opened_at"`
	ClosedAt      time.Time        `json:"closed_at,omitempty"`
}

// Closed reports whether the position has been sold out. Sold positions
// stay in the registry; the sweep skips them.
func (p *Position) Closed() bool { return !p.ClosedAt.IsZero() }

// keyResolver resolves trading keys for a pool. *market.Gateway
// satisfies it.
type keyResolver interface {
	PoolKeys(ctx context.Context, pool *solana.PoolState) (market.PoolKeys, error)
}

// feePricer supplies the current compute-unit price.
type feePricer interface {
	ComputeUnitPrice() uint64
}

// sessionState is the slice of session state the trader mutates.
type sessionState interface {
	TradingAllowed() bool
	RecordTrade()
	RecordOutcome(netChangePercent float64)
}

// profitLedger persists completed-sell profit.
type profitLedger interface {
	Add(profit float64) (float64, error)
}

// Trader runs the buy and sell paths. At most one in-flight attempt per
// mint; the attempt set doubles as the concurrency gauge the decision
// pipeline admits against.
type Trader struct {
	config  Config
	client  solana.ChainClient
	keys    keyResolver
	builder SwapBuilder
	fees    feePricer
	session sessionState
	ledger  profitLedger

	mu        sync.Mutex
	attempts  map[solana.Pubkey]struct{}
	positions map[solana.Pubkey]*Position

	buys        atomic.Int64
	sells       atomic.Int64
	failedBuys  atomic.Int64
	failedSells atomic.Int64
}

// New creates a trader.
func New(config Config, client solana.ChainClient, keys keyResolver,
	builder SwapBuilder, fees feePricer, session sessionState, ledger profitLedger) *Trader {
	return &Trader{
		config:    config,
		client:    client,
		keys:      keys,
		builder:   builder,
		fees:      fees,
		session:   session,
		ledger:    ledger,
		attempts:  make(map[solana.Pubkey]struct{}),
		positions: make(map[solana.Pubkey]*Position),
	}
}

// InFlight returns the number of active trade attempts.
func (t *Trader) InFlight() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.attempts)
}

// tryRegister claims the per-mint attempt slot. False means an attempt
// is already in flight and the caller must no-op.
func (t *Trader) tryRegister(mint solana.Pubkey) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.attempts[mint]; exists {
		return false
	}
	t.attempts[mint] = struct{}{}
	return true
}

func (t *Trader) clearAttempt(mint solana.Pubkey) {
	t.mu.Lock()
	delete(t.attempts, mint)
	t.mu.Unlock()
}

// Position returns the open position for a mint.
func (t *Trader) Position(mint solana.Pubkey) (Position, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pos, ok := t.positions[mint]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

// Positions returns a snapshot of every tracked position, sold-out
// ones included.
func (t *Trader) Positions() []Position {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Position, 0, len(t.positions))
	for _, pos := range t.positions {
		out = append(out, *pos)
	}
	return out
}

// Buy executes the buy path for an approved pool. amount is the
// pipeline's slippage-clamped quote budget. conditions, when present
// and dynamic sizing is on, scale the position by market confidence and
// the risk level. A mint with an attempt already in flight no-ops.
func (t *Trader) Buy(ctx context.Context, pool *solana.PoolState, amount float64, conditions *analysis.MarketConditions) error {
	mint := pool.BaseMint

	if !t.tryRegister(mint) {
		return nil
	}

	keys, err := t.keys.PoolKeys(ctx, pool)
	if err != nil {
		t.clearAttempt(mint)
		t.failedBuys.Add(1)
		return fmt.Errorf("buy %s: resolve keys: %w", mint, err)
	}

	if t.config.DynamicSizing && conditions != nil {
		sized := analysis.PositionSize(amount, *conditions)
		if sized <= 0 {
			log.Info().Str("mint", string(mint)).Str("reason", conditions.Reason).
				Msg("trader: skipping buy, market conditions")
			t.clearAttempt(mint)
			return nil
		}
		amount = sized * t.config.RiskLevel.Multiplier()
		log.Info().Str("mint", string(mint)).
			Float64("confidence", conditions.Confidence).
			Float64("amount", amount).
			Str("risk", string(t.config.RiskLevel)).
			Msg("trader: dynamic position size")
	}

	optimal := analysis.OptimalSwapAmount(t.config.MaxSlippagePercent, pool.QuoteReserve.InexactFloat64())
	if optimal < amount {
		amount = optimal
	}
	if amount <= 0 {
		log.Info().Str("mint", string(mint)).Msg("trader: skipping buy, insufficient optimal swap amount")
		t.clearAttempt(mint)
		return nil
	}

	blockhash, err := t.client.GetLatestBlockhash(ctx)
	if err != nil {
		t.clearAttempt(mint)
		t.failedBuys.Add(1)
		return fmt.Errorf("buy %s: %w", mint, err)
	}

	raw, err := t.builder.BuildSwap(SwapRequest{
		Keys:             keys,
		Side:             SideBuy,
		AmountIn:         decimal.NewFromFloat(amount),
		MinAmountOut:     decimal.Zero,
		Wallet:           t.config.Wallet,
		SourceAccount:    t.config.QuoteTokenAccount,
		ComputeUnitPrice: t.fees.ComputeUnitPrice(),
		Blockhash:        blockhash,
	})
	if err != nil {
		t.clearAttempt(mint)
		t.failedBuys.Add(1)
		return fmt.Errorf("buy %s: build: %w", mint, err)
	}

	sig, err := t.submitBuy(ctx, raw, mint)
	if err != nil {
		t.clearAttempt(mint)
		t.failedBuys.Add(1)
		return err
	}

	t.session.RecordTrade()
	t.buys.Add(1)

	pos := &Position{
		ID:           uuid.NewString(),
		Mint:         mint,
		Keys:         keys,
		BaseVault:    pool.BaseVault,
		QuoteVault:   pool.QuoteVault,
		BuySignature: sig,
		OpenedAt:     time.Now(),
	}
	t.mu.Lock()
	t.positions[mint] = pos
	t.mu.Unlock()

	log.Info().Str("pos_id", pos.ID).Str("mint", string(mint)).
		Str("signature", string(sig)).Float64("amount", amount).
		Msg("trader: sent buy order")

	// Confirmation runs detached; the attempt slot frees when it ends.
	go t.confirmBuy(sig, blockhash, pos)

	return nil
}

func (t *Trader) submitBuy(ctx context.Context, raw []byte, mint solana.Pubkey) (solana.Signature, error) {
	if t.config.DryRun {
		return solana.Signature("DRYRUN-BUY-" + string(mint)), nil
	}

	var lastErr error
	for attempt := 0; attempt <= t.config.BuyRetries; attempt++ {
		sig, err := t.client.SendRawTransaction(ctx, raw)
		if err == nil {
			return sig, nil
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(t.config.BuyRetryInterval):
		}
	}
	return "", fmt.Errorf("buy %s: submit: %w", mint, lastErr)
}

// confirmBuy waits for the buy to land, then prices the entry from the
// pool's vault balances. Runs detached from the request context.
func (t *Trader) confirmBuy(sig solana.Signature, blockhash solana.BlockhashContext, pos *Position) {
	defer t.clearAttempt(pos.Mint)

	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	if !t.config.DryRun {
		if err := t.client.ConfirmTransaction(ctx, sig, blockhash); err != nil {
			log.Error().Err(err).Str("mint", string(pos.Mint)).
				Str("signature", string(sig)).Msg("trader: buy confirmation failed")
			return
		}
	}

	var base, quote decimal.Decimal
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		bal, err := t.client.GetTokenAccountBalance(egCtx, pos.BaseVault)
		base = bal
		return err
	})
	eg.Go(func() error {
		bal, err := t.client.GetTokenAccountBalance(egCtx, pos.QuoteVault)
		quote = bal
		return err
	})
	if err := eg.Wait(); err != nil {
		log.Error().Err(err).Str("mint", string(pos.Mint)).Msg("trader: entry price lookup failed")
		return
	}

	if base.IsPositive() && quote.IsPositive() {
		entry := quote.Div(base).InexactFloat64()
		t.mu.Lock()
		pos.EntryPrice = entry
		t.mu.Unlock()
		log.Info().Str("mint", string(pos.Mint)).Float64("entry", entry).
			Msg("trader: confirmed buy")
	}
}

// Sell evaluates and, when stop-loss or take-profit is breached,
// executes the exit. The returned bool reports whether this position is
// settled for now: true means stop re-evaluating it this tick, false
// means hold and check again later.
func (t *Trader) Sell(ctx context.Context, mint solana.Pubkey, amount decimal.Decimal, currentValue float64) (bool, error) {
	if !t.session.TradingAllowed() {
		log.Debug().Msg("trader: selling not allowed during current hours")
		return false, nil
	}

	if !t.tryRegister(mint) {
		return false, nil
	}

	t.mu.Lock()
	pos, exists := t.positions[mint]
	var entry float64
	var closed bool
	if exists {
		entry = pos.EntryPrice
		closed = pos.Closed()
	}
	t.mu.Unlock()

	if !exists || closed {
		t.clearAttempt(mint)
		return true, nil
	}
	if amount.IsZero() {
		log.Info().Str("mint", string(mint)).Msg("trader: empty balance, can't sell")
		t.clearAttempt(mint)
		return true, nil
	}
	if entry <= 0 {
		// Entry price not confirmed yet; nothing to measure against.
		t.clearAttempt(mint)
		return true, nil
	}

	netChange := (currentValue - entry) / entry
	if netChange > t.config.StopLoss && netChange < t.config.TakeProfit {
		t.clearAttempt(mint)
		return false, nil
	}

	var lastErr error
	for retries := 0; retries < t.config.MaxSellRetries; retries++ {
		sig, err := t.submitSell(ctx, pos, amount)
		if err != nil {
			lastErr = err
			t.failedSells.Add(1)
			log.Error().Err(err).Str("mint", string(mint)).
				Int("retry", retries+1).Int("max", t.config.MaxSellRetries).
				Msg("trader: failed to sell token")
			continue
		}

		profit := netChange * 100
		if _, err := t.ledger.Add(profit); err != nil {
			log.Error().Err(err).Str("mint", string(mint)).Msg("trader: profit ledger update failed")
		}
		t.session.RecordOutcome(profit)
		t.sells.Add(1)

		t.mu.Lock()
		pos.SellSignature = sig
		pos.ClosedAt = time.Now()
		t.mu.Unlock()
		t.clearAttempt(mint)

		log.Info().Str("mint", string(mint)).Str("signature", string(sig)).
			Float64("sold_at", currentValue).Float64("net_profit_pct", profit).
			Msg("trader: confirmed sell")
		return true, nil
	}

	// Retries exhausted: free the attempt slot, keep the position open
	// for the next evaluation cycle.
	t.clearAttempt(mint)
	return true, fmt.Errorf("sell %s: retries exhausted: %w", mint, lastErr)
}

// submitSell builds, sends, and inline-confirms one sell transaction.
func (t *Trader) submitSell(ctx context.Context, pos *Position, amount decimal.Decimal) (solana.Signature, error) {
	if t.config.DryRun {
		return solana.Signature("DRYRUN-SELL-" + string(pos.Mint)), nil
	}

	blockhash, err := t.client.GetLatestBlockhash(ctx)
	if err != nil {
		return "", err
	}

	raw, err := t.builder.BuildSwap(SwapRequest{
		Keys:             pos.Keys,
		Side:             SideSell,
		AmountIn:         amount,
		MinAmountOut:     decimal.Zero,
		Wallet:           t.config.Wallet,
		DestAccount:      t.config.QuoteTokenAccount,
		ComputeUnitPrice: t.fees.ComputeUnitPrice(),
		Blockhash:        blockhash,
	})
	if err != nil {
		return "", err
	}

	sig, err := t.client.SendRawTransaction(ctx, raw)
	if err != nil {
		return "", err
	}
	if err := t.client.ConfirmTransaction(ctx, sig, blockhash); err != nil {
		return "", err
	}
	return sig, nil
}

// Stats holds the trader counters.
type Stats struct {
	Buys          int64 `json:"buys"`
	Sells         int64 `json:"sells"`
	FailedBuys    int64 `json:"failed_buys"`
	FailedSells   int64 `json:"failed_sells"`
	OpenPositions int   `json:"open_positions"`
	InFlight      int   `json:"in_flight"`
}

func (t *Trader) Stats() Stats {
	t.mu.Lock()
	open := 0
	for _, pos := range t.positions {
		if !pos.Closed() {
			open++
		}
	}
	inflight := len(t.attempts)
	t.mu.Unlock()
	return Stats{
		Buys:          t.buys.Load(),
		Sells:         t.sells.Load(),
		FailedBuys:    t.failedBuys.Load(),
		FailedSells:   t.failedSells.Load(),
		OpenPositions: open,
		InFlight:      inflight,
	}
}
