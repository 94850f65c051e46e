package solana

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Dynamic Priority Fees — 1.2x the median of the freshest samples
// ---------------------------------------------------------------------------

const (
	// DefaultComputeUnitPrice is the fallback when no samples are available
	// (micro-lamports per compute unit).
	DefaultComputeUnitPrice = 100_000

	// feeSampleWindow is how many of the most recent samples feed the median.
	feeSampleWindow = 20

	// feeMultiplier is the headroom applied over the median.
	feeMultiplier = 1.2

	// FeeRefreshInterval is how often the estimator refreshes.
	FeeRefreshInterval = 15 * time.Second
)

// RecommendedComputeUnitPrice computes the fee recommendation from raw
// samples: the upper median of the 20 most recent (highest slot)
// observations, scaled by 1.2 and rounded up. No samples yields the default.
func RecommendedComputeUnitPrice(samples []FeeSample) uint64 {
	if len(samples) == 0 {
		return DefaultComputeUnitPrice
	}

	recent := make([]FeeSample, len(samples))
	copy(recent, samples)
	sort.Slice(recent, func(i, j int) bool { return recent[i].Slot > recent[j].Slot })
	if len(recent) > feeSampleWindow {
		recent = recent[:feeSampleWindow]
	}

	fees := make([]uint64, len(recent))
	for i, s := range recent {
		fees[i] = s.PrioritizationFee
	}
	sort.Slice(fees, func(i, j int) bool { return fees[i] < fees[j] })

	// Upper median: even-length windows pick the higher of the two middles.
	median := float64(fees[len(fees)/2])

	return uint64(math.Ceil(median * feeMultiplier))
}

// FeeEstimator periodically refreshes the recommended compute-unit price so
// trade paths read a cached value instead of paying an RPC round trip.
type FeeEstimator struct {
	client ChainClient

	mu          sync.RWMutex
	recommended uint64
	samples     int
	lastFetch   time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewFeeEstimator creates an estimator. Call Start to begin refreshing.
func NewFeeEstimator(client ChainClient) *FeeEstimator {
	return &FeeEstimator{
		client: client,
		stopCh: make(chan struct{}),
	}
}

// Start begins periodic refreshes. Blocks until ctx is cancelled or Stop.
func (e *FeeEstimator) Start(ctx context.Context) {
	e.refresh(ctx)

	ticker := time.NewTicker(FeeRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.refresh(ctx)
		}
	}
}

// Stop terminates the estimator.
func (e *FeeEstimator) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
}

// ComputeUnitPrice returns the cached recommendation, or the default when no
// refresh has succeeded yet.
func (e *FeeEstimator) ComputeUnitPrice() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.recommended == 0 {
		return DefaultComputeUnitPrice
	}
	return e.recommended
}

func (e *FeeEstimator) refresh(ctx context.Context) {
	fetchCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	samples, err := e.client.GetRecentPrioritizationFees(fetchCtx)
	if err != nil {
		log.Debug().Err(err).Msg("priority_fees: refresh failed")
		return
	}

	recommended := RecommendedComputeUnitPrice(samples)

	e.mu.Lock()
	e.recommended = recommended
	e.samples = len(samples)
	e.lastFetch = time.Now()
	e.mu.Unlock()

	log.Debug().
		Uint64("cu_price", recommended).
		Int("samples", len(samples)).
		Msg("priority_fees: updated estimate")
}

// FeeStats returns current estimator state.
type FeeStats struct {
	ComputeUnitPrice uint64    `json:"compute_unit_price"`
	Samples          int       `json:"samples"`
	LastFetch        time.Time `json:"last_fetch"`
}

func (e *FeeEstimator) Stats() FeeStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return FeeStats{
		ComputeUnitPrice: e.recommended,
		Samples:          e.samples,
		LastFetch:        e.lastFetch,
	}
}
