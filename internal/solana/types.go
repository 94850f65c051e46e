package solana

import (
	"github.com/shopspring/decimal"
)

// Pubkey is a Solana public key (base58 string).
type Pubkey string

// Signature is a Solana transaction signature.
type Signature string

// ---------------------------------------------------------------------------
// Chain account types
// ---------------------------------------------------------------------------

// BlockhashContext anchors a transaction to a recent blockhash. Confirmation
// must reference the same context the submission used.
type BlockhashContext struct {
	Blockhash            string `json:"blockhash"`
	LastValidBlockHeight uint64 `json:"last_valid_block_height"`
}

// OwnedAccount is one (pubkey, raw data) pair from a token-accounts-by-owner
// query.
type OwnedAccount struct {
	Pubkey Pubkey
	Data   []byte
}

// TokenAccount is a decoded SPL token account.
type TokenAccount struct {
	Pubkey Pubkey          `json:"pubkey"`
	Mint   Pubkey          `json:"mint"`
	Owner  Pubkey          `json:"owner"`
	Amount decimal.Decimal `json:"amount"`
}

// MintState is the authority/supply portion of a decoded SPL mint account.
type MintState struct {
	HasMintAuthority   bool   `json:"has_mint_authority"`
	MintAuthority      Pubkey `json:"mint_authority,omitempty"`
	Supply             uint64 `json:"supply"`
	Decimals           uint8  `json:"decimals"`
	HasFreezeAuthority bool   `json:"has_freeze_authority"`
	FreezeAuthority    Pubkey `json:"freeze_authority,omitempty"`
}

// PoolState is a decoded AMM liquidity-state-V4 account. It is an immutable
// snapshot taken at observation time: a fresh decode supersedes it, nothing
// mutates it in place. Reserves are hydrated from the vault balances after
// the decode.
type PoolState struct {
	ID              Pubkey          `json:"id"`
	BaseDecimals    uint8           `json:"base_decimals"`
	QuoteDecimals   uint8           `json:"quote_decimals"`
	BaseMint        Pubkey          `json:"base_mint"`
	QuoteMint       Pubkey          `json:"quote_mint"`
	LpMint          Pubkey          `json:"lp_mint"`
	BaseVault       Pubkey          `json:"base_vault"`
	QuoteVault      Pubkey          `json:"quote_vault"`
	OpenOrders      Pubkey          `json:"open_orders"`
	TargetOrders    Pubkey          `json:"target_orders"`
	WithdrawQueue   Pubkey          `json:"withdraw_queue"`
	LpVault         Pubkey          `json:"lp_vault"`
	MarketProgramID Pubkey          `json:"market_program_id"`
	MarketID        Pubkey          `json:"market_id"`
	BaseReserve     decimal.Decimal `json:"base_reserve"`
	QuoteReserve    decimal.Decimal `json:"quote_reserve"`
}

// MarketSnapshot holds the order-book accounts of an OpenBook market.
// Derived once per market id; read-only after creation.
type MarketSnapshot struct {
	MarketID   Pubkey `json:"market_id"`
	BaseMint   Pubkey `json:"base_mint"`
	EventQueue Pubkey `json:"event_queue"`
	Bids       Pubkey `json:"bids"`
	Asks       Pubkey `json:"asks"`
}

// FeeSample is one recent prioritization-fee observation.
type FeeSample struct {
	Slot              uint64 `json:"slot"`
	PrioritizationFee uint64 `json:"prioritizationFee"`
}

// BalanceDelta is the net token balance change of one participant across a
// recent transaction touching a mint. Input to the sentiment sampler.
type BalanceDelta struct {
	Owner      Pubkey          `json:"owner"`
	PreAmount  decimal.Decimal `json:"pre_amount"`
	PostAmount decimal.Decimal `json:"post_amount"`
}

// Change returns post minus pre.
func (d BalanceDelta) Change() decimal.Decimal {
	return d.PostAmount.Sub(d.PreAmount)
}

// Well-known mints and programs.
const (
	WSOLMint Pubkey = "So11111111111111111111111111111111111111112"
	USDCMint Pubkey = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"

	// AMM V4 liquidity program (pool-creation event source).
	LiquidityProgramID Pubkey = "675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8"

	// OpenBook market program (market-creation event source).
	OpenBookProgramID Pubkey = "srmqPvymJeFKQ4zGQed1GFppgkRHL9kaELCbyksJtPX"

	// SPL token program.
	TokenProgramID Pubkey = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
)
