package solana

import (
	"encoding/binary"
	"fmt"

	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Account layout decoding
// ---------------------------------------------------------------------------

// Raw account sizes. A decode on fewer bytes is malformed data.
const (
	liquidityStateV4Len = 752
	marketStateV3MinLen = 349
	mintLayoutLen       = 82
	tokenAccountLen     = 165
)

// Liquidity state V4 field offsets. The leading block is 32 u64 settings
// fields, then 80 bytes of swap counters, then the pubkey block at 336.
const (
	poolBaseDecimalOff  = 32
	poolQuoteDecimalOff = 40
	poolBaseVaultOff    = 336
	poolQuoteVaultOff   = 368
	poolBaseMintOff     = 400
	poolQuoteMintOff    = 432
	poolLpMintOff       = 464
	poolOpenOrdersOff   = 496
	poolMarketIDOff     = 528
	poolMarketProgOff   = 560
	poolTargetOrdersOff = 592
	poolWithdrawQOff    = 624
	poolLpVaultOff      = 656
)

// Market state V3 field offsets (5-byte header + flags + account block).
const (
	marketBaseMintOff   = 53
	marketEventQueueOff = 253
	marketBidsOff       = 285
	marketAsksOff       = 317
)

// SPL mint layout offsets.
const (
	mintAuthorityOptionOff   = 0
	mintAuthorityOff         = 4
	mintSupplyOff            = 36
	mintDecimalsOff          = 44
	freezeAuthorityOptionOff = 46
	freezeAuthorityOff       = 50
)

// SPL token account layout offsets.
const (
	tokenAccountMintOff   = 0
	tokenAccountOwnerOff  = 32
	tokenAccountAmountOff = 64
)

func pubkeyAt(data []byte, off int) Pubkey {
	return Pubkey(base58.Encode(data[off : off+32]))
}

func u64At(data []byte, off int) uint64 {
	return binary.LittleEndian.Uint64(data[off : off+8])
}

func u32At(data []byte, off int) uint32 {
	return binary.LittleEndian.Uint32(data[off : off+4])
}

// DecodePoolState decodes a liquidity-state-V4 account. Reserves are left
// zero; the gateway hydrates them from the vault balances.
func DecodePoolState(id Pubkey, data []byte) (*PoolState, error) {
	if len(data) < liquidityStateV4Len {
		return nil, fmt.Errorf("pool %s: %d bytes: %w", id, len(data), ErrMalformedAccountData)
	}
	return &PoolState{
		ID:              id,
		BaseDecimals:    uint8(u64At(data, poolBaseDecimalOff)),
		QuoteDecimals:   uint8(u64At(data, poolQuoteDecimalOff)),
		BaseMint:        pubkeyAt(data, poolBaseMintOff),
		QuoteMint:       pubkeyAt(data, poolQuoteMintOff),
		LpMint:          pubkeyAt(data, poolLpMintOff),
		BaseVault:       pubkeyAt(data, poolBaseVaultOff),
		QuoteVault:      pubkeyAt(data, poolQuoteVaultOff),
		OpenOrders:      pubkeyAt(data, poolOpenOrdersOff),
		TargetOrders:    pubkeyAt(data, poolTargetOrdersOff),
		WithdrawQueue:   pubkeyAt(data, poolWithdrawQOff),
		LpVault:         pubkeyAt(data, poolLpVaultOff),
		MarketProgramID: pubkeyAt(data, poolMarketProgOff),
		MarketID:        pubkeyAt(data, poolMarketIDOff),
	}, nil
}

// DecodeMarketSnapshot decodes the order-book account ids out of a market
// state V3 account. Only the fields the trade path needs are read.
func DecodeMarketSnapshot(marketID Pubkey, data []byte) (*MarketSnapshot, error) {
	if len(data) < marketStateV3MinLen {
		return nil, fmt.Errorf("market %s: %d bytes: %w", marketID, len(data), ErrMalformedAccountData)
	}
	return &MarketSnapshot{
		MarketID:   marketID,
		BaseMint:   pubkeyAt(data, marketBaseMintOff),
		EventQueue: pubkeyAt(data, marketEventQueueOff),
		Bids:       pubkeyAt(data, marketBidsOff),
		Asks:       pubkeyAt(data, marketAsksOff),
	}, nil
}

// DecodeMintState decodes an SPL mint account. An authority option of 1
// means the authority is still set.
func DecodeMintState(data []byte) (*MintState, error) {
	if len(data) < mintLayoutLen {
		return nil, fmt.Errorf("mint account: %d bytes: %w", len(data), ErrMalformedAccountData)
	}
	st := &MintState{
		Supply:   u64At(data, mintSupplyOff),
		Decimals: data[mintDecimalsOff],
	}
	if u32At(data, mintAuthorityOptionOff) == 1 {
		st.HasMintAuthority = true
		st.MintAuthority = pubkeyAt(data, mintAuthorityOff)
	}
	if u32At(data, freezeAuthorityOptionOff) == 1 {
		st.HasFreezeAuthority = true
		st.FreezeAuthority = pubkeyAt(data, freezeAuthorityOff)
	}
	return st, nil
}

// DecodeTokenAccount decodes an SPL token account. Amount is the raw
// (unscaled) integer amount.
func DecodeTokenAccount(pubkey Pubkey, data []byte) (*TokenAccount, error) {
	if len(data) < tokenAccountLen {
		return nil, fmt.Errorf("token account %s: %d bytes: %w", pubkey, len(data), ErrMalformedAccountData)
	}
	return &TokenAccount{
		Pubkey: pubkey,
		Mint:   pubkeyAt(data, tokenAccountMintOff),
		Owner:  pubkeyAt(data, tokenAccountOwnerOff),
		Amount: decimal.NewFromUint64(u64At(data, tokenAccountAmountOff)),
	}, nil
}
