package trader

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/vantage-trading/vantage/internal/market"
	"github.com/vantage-trading/vantage/internal/solana"
)

// ---------------------------------------------------------------------------
// Swap transaction building
// ---------------------------------------------------------------------------

// TradeSide is the direction of a swap.
type TradeSide string

const (
	SideBuy  TradeSide = "buy"  // quote in, base out
	SideSell TradeSide = "sell" // base in, quote out
)

// SwapRequest carries everything needed to assemble and sign one swap
// transaction. MinAmountOut is zero on the buy path: in a snipe race the
// fill matters more than the price.
type SwapRequest struct {
	Keys             market.PoolKeys
	Side             TradeSide
	AmountIn         decimal.Decimal
	MinAmountOut     decimal.Decimal
	Wallet           solana.Pubkey
	SourceAccount    solana.Pubkey
	DestAccount      solana.Pubkey
	ComputeUnitPrice uint64
	Blockhash        solana.BlockhashContext
}

// SwapBuilder assembles a signed raw transaction from a request.
type SwapBuilder interface {
	BuildSwap(req SwapRequest) ([]byte, error)
}

// StubSwapBuilder records requests and returns deterministic bytes.
// Serves dry-run mode and tests.
type StubSwapBuilder struct {
	mu    sync.Mutex
	built []SwapRequest
	err   error
}

// NewStubSwapBuilder creates an empty stub.
func NewStubSwapBuilder() *StubSwapBuilder {
	return &StubSwapBuilder{}
}

// SetError makes subsequent builds fail.
func (b *StubSwapBuilder) SetError(err error) {
	b.mu.Lock()
	b.err = err
	b.mu.Unlock()
}

// Built returns a copy of the recorded requests.
func (b *StubSwapBuilder) Built() []SwapRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]SwapRequest, len(b.built))
	copy(out, b.built)
	return out
}

func (b *StubSwapBuilder) BuildSwap(req SwapRequest) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	b.built = append(b.built, req)
	raw := fmt.Sprintf("swap:%s:%s:%s", req.Side, req.Keys.BaseMint, req.AmountIn)
	return []byte(raw), nil
}
