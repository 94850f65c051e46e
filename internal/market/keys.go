package market

import (
	"fmt"

	"github.com/vantage-trading/vantage/internal/solana"
)

// PoolKeys is the full account set a swap against one pool needs. Assembled
// once per pool from the pool state and its market snapshot, then cached.
type PoolKeys struct {
	ID            solana.Pubkey `json:"id"`
	BaseMint      solana.Pubkey `json:"base_mint"`
	QuoteMint     solana.Pubkey `json:"quote_mint"`
	LpMint        solana.Pubkey `json:"lp_mint"`
	BaseDecimals  uint8         `json:"base_decimals"`
	QuoteDecimals uint8         `json:"quote_decimals"`
	Version       int           `json:"version"`
	ProgramID     solana.Pubkey `json:"program_id"`
	Authority     solana.Pubkey `json:"authority"`
	OpenOrders    solana.Pubkey `json:"open_orders"`
	TargetOrders  solana.Pubkey `json:"target_orders"`
	BaseVault     solana.Pubkey `json:"base_vault"`
	QuoteVault    solana.Pubkey `json:"quote_vault"`
	WithdrawQueue solana.Pubkey `json:"withdraw_queue"`
	LpVault       solana.Pubkey `json:"lp_vault"`

	MarketVersion    int           `json:"market_version"`
	MarketProgramID  solana.Pubkey `json:"market_program_id"`
	MarketID         solana.Pubkey `json:"market_id"`
	MarketAuthority  solana.Pubkey `json:"market_authority"`
	MarketEventQueue solana.Pubkey `json:"market_event_queue"`
	MarketBids       solana.Pubkey `json:"market_bids"`
	MarketAsks       solana.Pubkey `json:"market_asks"`
}

// AssemblePoolKeys derives the trading key set from a decoded pool and its
// market snapshot. Pure: same inputs always give the same keys.
func AssemblePoolKeys(pool *solana.PoolState, market *solana.MarketSnapshot, ammProgram solana.Pubkey) (PoolKeys, error) {
	if pool.MarketID != market.MarketID {
		return PoolKeys{}, fmt.Errorf("pool %s references market %s, snapshot is for %s",
			pool.ID, pool.MarketID, market.MarketID)
	}

	authority, err := solana.AmmAuthority(ammProgram)
	if err != nil {
		return PoolKeys{}, fmt.Errorf("amm authority: %w", err)
	}
	marketAuthority, err := solana.AssociatedMarketAuthority(pool.MarketProgramID, pool.MarketID)
	if err != nil {
		return PoolKeys{}, fmt.Errorf("market authority: %w", err)
	}

	return PoolKeys{
		ID:            pool.ID,
		BaseMint:      pool.BaseMint,
		QuoteMint:     pool.QuoteMint,
		LpMint:        pool.LpMint,
		BaseDecimals:  pool.BaseDecimals,
		QuoteDecimals: pool.QuoteDecimals,
		Version:       4,
		ProgramID:     ammProgram,
		Authority:     authority,
		OpenOrders:    pool.OpenOrders,
		TargetOrders:  pool.TargetOrders,
		BaseVault:     pool.BaseVault,
		QuoteVault:    pool.QuoteVault,
		WithdrawQueue: pool.WithdrawQueue,
		LpVault:       pool.LpVault,

		MarketVersion:    3,
		MarketProgramID:  pool.MarketProgramID,
		MarketID:         pool.MarketID,
		MarketAuthority:  marketAuthority,
		MarketEventQueue: market.EventQueue,
		MarketBids:       market.Bids,
		MarketAsks:       market.Asks,
	}, nil
}
