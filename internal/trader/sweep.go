package trader

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/vantage-trading/vantage/internal/solana"
)

// marketData is the slice of the market gateway the sweep consumes.
// TokenPrice must answer in quote denomination, the same unit entry
// prices are recorded in.
type marketData interface {
	TokenAccounts(ctx context.Context, owner solana.Pubkey, forceRefresh bool) ([]solana.TokenAccount, error)
	TokenPrice(ctx context.Context, mint solana.Pubkey) (decimal.Decimal, error)
}

// Sweep walks the wallet's token accounts and runs the sell evaluation
// on every open position. Returns the number of positions settled this
// pass. Accounts without a confirmed entry price are skipped until the
// buy confirmation fills it in.
func (t *Trader) Sweep(ctx context.Context, data marketData) int {
	accounts, err := data.TokenAccounts(ctx, t.config.Wallet, true)
	if err != nil {
		log.Error().Err(err).Msg("trader: sweep token account fetch failed")
		return 0
	}

	settled := 0
	for _, acc := range accounts {
		pos, ok := t.Position(acc.Mint)
		if !ok || pos.Closed() || pos.EntryPrice <= 0 {
			continue
		}

		price, err := data.TokenPrice(ctx, acc.Mint)
		if err != nil {
			log.Warn().Err(err).Str("mint", string(acc.Mint)).Msg("trader: sweep price lookup failed")
			continue
		}

		done, err := t.Sell(ctx, acc.Mint, acc.Amount, price.InexactFloat64())
		if err != nil {
			log.Error().Err(err).Str("mint", string(acc.Mint)).Msg("trader: sweep sell failed")
			continue
		}
		if done {
			settled++
		}
	}
	return settled
}
