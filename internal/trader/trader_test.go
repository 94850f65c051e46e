package trader

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vantage-trading/vantage/internal/analysis"
	"github.com/vantage-trading/vantage/internal/market"
	"github.com/vantage-trading/vantage/internal/solana"
)

type fakeResolver struct {
	keys    market.PoolKeys
	err     error
	entered chan struct{}
	gate    chan struct{}
}

func (f *fakeResolver) PoolKeys(context.Context, *solana.PoolState) (market.PoolKeys, error) {
	if f.entered != nil {
		select {
		case f.entered <- struct{}{}:
		default:
		}
	}
	if f.gate != nil {
		<-f.gate
	}
	return f.keys, f.err
}

type fakeFees struct{}

func (fakeFees) ComputeUnitPrice() uint64 { return 100_000 }

type fakeSessionState struct {
	mu       sync.Mutex
	allowed  bool
	trades   int
	outcomes []float64
}

func (f *fakeSessionState) TradingAllowed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.allowed
}

func (f *fakeSessionState) RecordTrade() {
	f.mu.Lock()
	f.trades++
	f.mu.Unlock()
}

func (f *fakeSessionState) RecordOutcome(pct float64) {
	f.mu.Lock()
	f.outcomes = append(f.outcomes, pct)
	f.mu.Unlock()
}

type fakeLedger struct {
	mu    sync.Mutex
	total float64
	adds  []float64
}

func (f *fakeLedger) Add(profit float64) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.total += profit
	f.adds = append(f.adds, profit)
	return f.total, nil
}

type harness struct {
	trader   *Trader
	client   *solana.StubChainClient
	resolver *fakeResolver
	builder  *StubSwapBuilder
	session  *fakeSessionState
	ledger   *fakeLedger
}

func newHarness(config Config) *harness {
	h := &harness{
		client:   solana.NewStubChainClient(),
		resolver: &fakeResolver{keys: poolKeys()},
		builder:  NewStubSwapBuilder(),
		session:  &fakeSessionState{allowed: true},
		ledger:   &fakeLedger{},
	}
	h.trader = New(config, h.client, h.resolver, h.builder, fakeFees{}, h.session, h.ledger)
	return h
}

func testConfig() Config {
	config := DefaultConfig()
	config.Wallet = "wallet"
	config.QuoteTokenAccount = "quote-account"
	return config
}

func poolKeys() market.PoolKeys {
	return market.PoolKeys{ID: "pool", BaseMint: "mint", QuoteMint: "wsol"}
}

func pool() *solana.PoolState {
	return &solana.PoolState{
		ID:           "pool",
		BaseMint:     "mint",
		QuoteMint:    "wsol",
		BaseVault:    "base-vault",
		QuoteVault:   "quote-vault",
		BaseReserve:  decimal.NewFromInt(1_000_000),
		QuoteReserve: decimal.NewFromInt(5_000_000),
	}
}

func openPosition(t *Trader, mint solana.Pubkey, entry float64) {
	t.mu.Lock()
	t.positions[mint] = &Position{Mint: mint, Keys: poolKeys(), EntryPrice: entry}
	t.mu.Unlock()
}

// --- Buy ---

func TestBuy_DryRunOpensPositionAndPricesEntry(t *testing.T) {
	h := newHarness(testConfig())
	h.client.SetBalance("base-vault", decimal.NewFromInt(1000))
	h.client.SetBalance("quote-vault", decimal.NewFromInt(5000))

	require.NoError(t, h.trader.Buy(context.Background(), pool(), 100, nil))

	built := h.builder.Built()
	require.Len(t, built, 1)
	assert.Equal(t, SideBuy, built[0].Side)
	assert.True(t, built[0].MinAmountOut.IsZero())
	assert.Equal(t, "100", built[0].AmountIn.String())
	assert.Zero(t, h.client.SendCalls(), "dry run must not submit")
	assert.Equal(t, 1, h.session.trades)

	pos, ok := h.trader.Position("mint")
	require.True(t, ok)
	assert.Contains(t, string(pos.BuySignature), "DRYRUN-BUY")

	require.Eventually(t, func() bool {
		pos, _ := h.trader.Position("mint")
		return pos.EntryPrice == 5.0
	}, time.Second, time.Millisecond, "entry price from vault balances")

	require.Eventually(t, func() bool { return h.trader.InFlight() == 0 },
		time.Second, time.Millisecond, "attempt clears after confirmation")
}

func TestBuy_SimultaneousCallsSubmitOnce(t *testing.T) {
	h := newHarness(testConfig())
	h.resolver.entered = make(chan struct{}, 2)
	h.resolver.gate = make(chan struct{})
	h.client.SetBalance("base-vault", decimal.NewFromInt(1000))
	h.client.SetBalance("quote-vault", decimal.NewFromInt(5000))

	done := make(chan error, 1)
	go func() { done <- h.trader.Buy(context.Background(), pool(), 100, nil) }()
	<-h.resolver.entered

	// Second call while the first holds the attempt slot.
	require.NoError(t, h.trader.Buy(context.Background(), pool(), 100, nil))
	assert.Empty(t, h.builder.Built())

	close(h.resolver.gate)
	require.NoError(t, <-done)

	assert.Len(t, h.builder.Built(), 1)
	assert.Equal(t, 1, h.session.trades)
}

func TestBuy_DynamicSizingSkipsNonBullishMarket(t *testing.T) {
	config := testConfig()
	config.DynamicSizing = true
	h := newHarness(config)

	conditions := &analysis.MarketConditions{Bullish: false, Reason: "neutral market conditions"}
	require.NoError(t, h.trader.Buy(context.Background(), pool(), 100, conditions))

	assert.Empty(t, h.builder.Built())
	assert.Zero(t, h.session.trades)
	assert.Zero(t, h.trader.InFlight(), "attempt clears on skip")
}

func TestBuy_DynamicSizingScalesByConfidenceAndRisk(t *testing.T) {
	config := testConfig()
	config.DynamicSizing = true
	config.RiskLevel = analysis.RiskHigh
	h := newHarness(config)
	h.client.SetBalance("base-vault", decimal.NewFromInt(1000))
	h.client.SetBalance("quote-vault", decimal.NewFromInt(5000))

	conditions := &analysis.MarketConditions{Bullish: true, Confidence: 0.8, Reason: "uptrend"}
	require.NoError(t, h.trader.Buy(context.Background(), pool(), 100, conditions))

	built := h.builder.Built()
	require.Len(t, built, 1)
	// 100 * 0.8 confidence * 1.5 high-risk multiplier
	assert.Equal(t, "120", built[0].AmountIn.String())
}

func TestBuy_KeyResolutionFailureClearsAttempt(t *testing.T) {
	h := newHarness(testConfig())
	h.resolver.err = solana.ErrUpstreamUnavailable

	err := h.trader.Buy(context.Background(), pool(), 100, nil)

	require.Error(t, err)
	assert.Zero(t, h.trader.InFlight())
	assert.Equal(t, int64(1), h.trader.Stats().FailedBuys)
}

func TestBuy_LiveSubmits(t *testing.T) {
	config := testConfig()
	config.DryRun = false
	h := newHarness(config)
	h.client.SetBalance("base-vault", decimal.NewFromInt(1000))
	h.client.SetBalance("quote-vault", decimal.NewFromInt(5000))

	require.NoError(t, h.trader.Buy(context.Background(), pool(), 100, nil))

	assert.Equal(t, 1, h.client.SendCalls())
	pos, ok := h.trader.Position("mint")
	require.True(t, ok)
	assert.Equal(t, solana.Signature("stub-sig-1"), pos.BuySignature)
}

// --- Sell ---

func TestSell_HoldsBetweenStopLossAndTakeProfit(t *testing.T) {
	h := newHarness(testConfig())
	openPosition(h.trader, "mint", 1.0)

	done, err := h.trader.Sell(context.Background(), "mint", decimal.NewFromInt(500), 1.05)

	require.NoError(t, err)
	assert.False(t, done, "+5% sits inside -10%/+20%, hold")
	assert.Empty(t, h.builder.Built())
	assert.Zero(t, h.trader.InFlight(), "attempt clears without side effects")
	_, ok := h.trader.Position("mint")
	assert.True(t, ok)
	assert.Empty(t, h.ledger.adds)
}

func TestSell_TakeProfitSellsAndRecordsOutcome(t *testing.T) {
	config := testConfig()
	config.DryRun = false
	h := newHarness(config)
	openPosition(h.trader, "mint", 1.0)

	done, err := h.trader.Sell(context.Background(), "mint", decimal.NewFromInt(500), 1.30)

	require.NoError(t, err)
	assert.True(t, done)
	built := h.builder.Built()
	require.Len(t, built, 1)
	assert.Equal(t, SideSell, built[0].Side)
	assert.Equal(t, "500", built[0].AmountIn.String())

	require.Len(t, h.ledger.adds, 1)
	assert.InDelta(t, 30.0, h.ledger.adds[0], 1e-9)
	require.Len(t, h.session.outcomes, 1)
	assert.InDelta(t, 30.0, h.session.outcomes[0], 1e-9)

	pos, ok := h.trader.Position("mint")
	require.True(t, ok, "sold position stays in the registry")
	assert.True(t, pos.Closed())
	assert.Equal(t, solana.Signature("stub-sig-1"), pos.SellSignature)
	assert.Zero(t, h.trader.Stats().OpenPositions)
	assert.Zero(t, h.trader.InFlight())
}

func TestSell_ClosedPositionSettlesWithoutResubmitting(t *testing.T) {
	config := testConfig()
	config.DryRun = false
	h := newHarness(config)
	openPosition(h.trader, "mint", 1.0)

	done, err := h.trader.Sell(context.Background(), "mint", decimal.NewFromInt(500), 1.30)
	require.NoError(t, err)
	require.True(t, done)

	done, err = h.trader.Sell(context.Background(), "mint", decimal.NewFromInt(500), 1.30)

	require.NoError(t, err)
	assert.True(t, done)
	assert.Len(t, h.builder.Built(), 1, "second call must not sell again")
	assert.Len(t, h.ledger.adds, 1)
}

func TestSell_StopLossSells(t *testing.T) {
	h := newHarness(testConfig())
	openPosition(h.trader, "mint", 1.0)

	done, err := h.trader.Sell(context.Background(), "mint", decimal.NewFromInt(500), 0.85)

	require.NoError(t, err)
	assert.True(t, done, "-15% breaches the -10% stop")
	require.Len(t, h.ledger.adds, 1)
	assert.InDelta(t, -15.0, h.ledger.adds[0], 1e-9)
}

func TestSell_OutsideTradingWindowDefers(t *testing.T) {
	h := newHarness(testConfig())
	h.session.allowed = false
	openPosition(h.trader, "mint", 1.0)

	done, err := h.trader.Sell(context.Background(), "mint", decimal.NewFromInt(500), 1.30)

	require.NoError(t, err)
	assert.False(t, done)
	assert.Empty(t, h.builder.Built())
}

func TestSell_NoPositionSettles(t *testing.T) {
	h := newHarness(testConfig())

	done, err := h.trader.Sell(context.Background(), "unknown", decimal.NewFromInt(1), 2.0)

	require.NoError(t, err)
	assert.True(t, done)
	assert.Zero(t, h.trader.InFlight())
}

func TestSell_ZeroBalanceSettles(t *testing.T) {
	h := newHarness(testConfig())
	openPosition(h.trader, "mint", 1.0)

	done, err := h.trader.Sell(context.Background(), "mint", decimal.Zero, 1.30)

	require.NoError(t, err)
	assert.True(t, done)
	assert.Empty(t, h.builder.Built())
}

func TestSell_UnconfirmedEntrySettlesWithoutSelling(t *testing.T) {
	h := newHarness(testConfig())
	openPosition(h.trader, "mint", 0)

	done, err := h.trader.Sell(context.Background(), "mint", decimal.NewFromInt(500), 1.30)

	require.NoError(t, err)
	assert.True(t, done)
	assert.Empty(t, h.builder.Built())
}

func TestSell_RetryExhaustionKeepsPosition(t *testing.T) {
	config := testConfig()
	config.DryRun = false
	config.MaxSellRetries = 3
	h := newHarness(config)
	h.client.SetConfirmError(solana.ErrTransactionFailed)
	openPosition(h.trader, "mint", 1.0)

	done, err := h.trader.Sell(context.Background(), "mint", decimal.NewFromInt(500), 1.30)

	require.Error(t, err)
	assert.ErrorIs(t, err, solana.ErrTransactionFailed)
	assert.True(t, done)
	assert.Equal(t, 3, h.client.SendCalls())

	_, ok := h.trader.Position("mint")
	assert.True(t, ok, "position survives for the next evaluation cycle")
	assert.Zero(t, h.trader.InFlight())
	assert.Empty(t, h.ledger.adds)
	assert.Equal(t, int64(3), h.trader.Stats().FailedSells)
}

// --- Sweep ---

type fakeMarketData struct {
	accounts []solana.TokenAccount
	prices   map[solana.Pubkey]decimal.Decimal
}

func (f *fakeMarketData) TokenAccounts(context.Context, solana.Pubkey, bool) ([]solana.TokenAccount, error) {
	return f.accounts, nil
}

func (f *fakeMarketData) TokenPrice(_ context.Context, mint solana.Pubkey) (decimal.Decimal, error) {
	price, ok := f.prices[mint]
	if !ok {
		return decimal.Zero, solana.ErrUpstreamUnavailable
	}
	return price, nil
}

func TestSweep_SellsProfitableSkipsUnconfirmed(t *testing.T) {
	h := newHarness(testConfig())
	openPosition(h.trader, "winner", 1.0)
	openPosition(h.trader, "pending", 0) // buy confirmation hasn't priced it

	data := &fakeMarketData{
		accounts: []solana.TokenAccount{
			{Pubkey: "acc-1", Mint: "winner", Amount: decimal.NewFromInt(500)},
			{Pubkey: "acc-2", Mint: "pending", Amount: decimal.NewFromInt(200)},
			{Pubkey: "acc-3", Mint: "stranger", Amount: decimal.NewFromInt(10)},
		},
		prices: map[solana.Pubkey]decimal.Decimal{
			"winner": decimal.NewFromFloat(1.30),
		},
	}

	settled := h.trader.Sweep(context.Background(), data)

	assert.Equal(t, 1, settled)
	pos, ok := h.trader.Position("winner")
	require.True(t, ok)
	assert.True(t, pos.Closed())
	pos, ok = h.trader.Position("pending")
	require.True(t, ok)
	assert.False(t, pos.Closed())
	require.Len(t, h.ledger.adds, 1)
	assert.InDelta(t, 30.0, h.ledger.adds[0], 1e-9)
}

func TestSweep_UnchangedPositionHolds(t *testing.T) {
	h := newHarness(testConfig())
	h.client.SetBalance("base-vault", decimal.NewFromInt(1000))
	h.client.SetBalance("quote-vault", decimal.NewFromInt(5000))
	require.NoError(t, h.trader.Buy(context.Background(), pool(), 100, nil))
	require.Eventually(t, func() bool {
		pos, _ := h.trader.Position("mint")
		return pos.EntryPrice == 5.0
	}, time.Second, time.Millisecond)

	// Sweep price in quote units, identical to the entry's vault ratio.
	data := &fakeMarketData{
		accounts: []solana.TokenAccount{{Pubkey: "acc", Mint: "mint", Amount: decimal.NewFromInt(500)}},
		prices:   map[solana.Pubkey]decimal.Decimal{"mint": decimal.NewFromInt(5)},
	}

	settled := h.trader.Sweep(context.Background(), data)

	assert.Zero(t, settled)
	pos, ok := h.trader.Position("mint")
	require.True(t, ok)
	assert.False(t, pos.Closed())
	assert.Empty(t, h.ledger.adds)
	assert.Empty(t, h.session.outcomes)
}

func TestSweep_HoldLeavesPositionOpen(t *testing.T) {
	h := newHarness(testConfig())
	openPosition(h.trader, "mint", 1.0)

	data := &fakeMarketData{
		accounts: []solana.TokenAccount{{Pubkey: "acc", Mint: "mint", Amount: decimal.NewFromInt(500)}},
		prices:   map[solana.Pubkey]decimal.Decimal{"mint": decimal.NewFromFloat(1.05)},
	}

	settled := h.trader.Sweep(context.Background(), data)

	assert.Zero(t, settled)
	_, ok := h.trader.Position("mint")
	assert.True(t, ok)
}
