package market

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/vantage-trading/vantage/internal/cache"
	"github.com/vantage-trading/vantage/internal/solana"
)

// ---------------------------------------------------------------------------
// Market Data Gateway — cached access to chain and price data
// ---------------------------------------------------------------------------

// Config configures the gateway's cache TTLs and the AMM program used for
// key derivation.
type Config struct {
	DefaultTTL       time.Duration `yaml:"default_ttl"`
	TokenAccountsTTL time.Duration `yaml:"token_accounts_ttl"`
	PriceTTL         time.Duration `yaml:"price_ttl"`
	PoolKeysTTL      time.Duration `yaml:"pool_keys_ttl"`
	AmmProgram       solana.Pubkey `yaml:"amm_program"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		DefaultTTL:       120 * time.Second,
		TokenAccountsTTL: 30 * time.Second,
		PriceTTL:         300 * time.Second,
		PoolKeysTTL:      time.Hour,
		AmmProgram:       solana.LiquidityProgramID,
	}
}

// Gateway serves pool keys, market snapshots, wallet token accounts, and
// external prices with read-through caching. All fetch paths surface
// upstream failures as solana.ErrUpstreamUnavailable.
type Gateway struct {
	config Config
	client solana.ChainClient

	// Price resolution: primary wins whenever it has the token, regardless
	// of which source answers first.
	primary   PriceSource
	secondary PriceSource

	poolKeys      *cache.Cache[PoolKeys]
	markets       *cache.Cache[solana.MarketSnapshot]
	tokenAccounts *cache.Cache[[]solana.TokenAccount]
	prices        *cache.Cache[decimal.Decimal]
}

// NewGateway creates a gateway. primary/secondary order the price sources.
func NewGateway(config Config, client solana.ChainClient, primary, secondary PriceSource) *Gateway {
	def := DefaultConfig()
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = def.DefaultTTL
	}
	if config.TokenAccountsTTL <= 0 {
		config.TokenAccountsTTL = def.TokenAccountsTTL
	}
	if config.PriceTTL <= 0 {
		config.PriceTTL = def.PriceTTL
	}
	if config.PoolKeysTTL <= 0 {
		config.PoolKeysTTL = def.PoolKeysTTL
	}
	if config.AmmProgram == "" {
		config.AmmProgram = def.AmmProgram
	}

	return &Gateway{
		config:        config,
		client:        client,
		primary:       primary,
		secondary:     secondary,
		poolKeys:      cache.New[PoolKeys](config.PoolKeysTTL),
		markets:       cache.New[solana.MarketSnapshot](config.DefaultTTL),
		tokenAccounts: cache.New[[]solana.TokenAccount](config.TokenAccountsTTL),
		prices:        cache.New[decimal.Decimal](config.PriceTTL),
	}
}

// Close stops the cache sweepers.
func (g *Gateway) Close() {
	g.poolKeys.Close()
	g.markets.Close()
	g.tokenAccounts.Close()
	g.prices.Close()
}

// PoolKeys returns the assembled trading keys for a pool, deriving them on
// first use and caching thereafter.
func (g *Gateway) PoolKeys(ctx context.Context, pool *solana.PoolState) (PoolKeys, error) {
	if keys, ok := g.poolKeys.Get(string(pool.ID)); ok {
		return keys, nil
	}

	snapshot, err := g.MarketSnapshot(ctx, pool.MarketID)
	if err != nil {
		return PoolKeys{}, fmt.Errorf("pool %s: %w", pool.ID, err)
	}

	keys, err := AssemblePoolKeys(pool, &snapshot, g.config.AmmProgram)
	if err != nil {
		return PoolKeys{}, err
	}
	g.poolKeys.Set(string(pool.ID), keys)
	return keys, nil
}

// MarketSnapshot fetches and decodes one market account, read-through.
// A missing account counts as an upstream failure: the trade path cannot
// proceed without it.
func (g *Gateway) MarketSnapshot(ctx context.Context, marketID solana.Pubkey) (solana.MarketSnapshot, error) {
	if snap, ok := g.markets.Get(string(marketID)); ok {
		return snap, nil
	}

	data, err := g.client.GetAccountInfo(ctx, marketID)
	if err != nil {
		return solana.MarketSnapshot{}, fmt.Errorf("market %s: %w", marketID, err)
	}
	if data == nil {
		return solana.MarketSnapshot{}, fmt.Errorf("market %s absent: %w", marketID, solana.ErrUpstreamUnavailable)
	}

	snap, err := solana.DecodeMarketSnapshot(marketID, data)
	if err != nil {
		return solana.MarketSnapshot{}, err
	}

	g.markets.Set(string(marketID), *snap)
	return *snap, nil
}

// StoreMarketSnapshot caches a snapshot decoded elsewhere, typically from
// the market-creation event stream ahead of the pool event.
func (g *Gateway) StoreMarketSnapshot(snap solana.MarketSnapshot) {
	g.markets.Set(string(snap.MarketID), snap)
}

// BatchMarketSnapshots fetches many markets, splitting into upstream-sized
// chunks. Absent or undecodable accounts are skipped with a warning; the
// result holds only the markets that resolved.
func (g *Gateway) BatchMarketSnapshots(ctx context.Context, marketIDs []solana.Pubkey) (map[solana.Pubkey]solana.MarketSnapshot, error) {
	out := make(map[solana.Pubkey]solana.MarketSnapshot, len(marketIDs))

	var missing []solana.Pubkey
	for _, id := range marketIDs {
		if snap, ok := g.markets.Get(string(id)); ok {
			out[id] = snap
		} else {
			missing = append(missing, id)
		}
	}

	for start := 0; start < len(missing); start += solana.MaxBatchAccounts {
		end := start + solana.MaxBatchAccounts
		if end > len(missing) {
			end = len(missing)
		}
		chunk := missing[start:end]

		datas, err := g.client.GetMultipleAccounts(ctx, chunk)
		if err != nil {
			return nil, fmt.Errorf("batch markets: %w", err)
		}

		for i, data := range datas {
			id := chunk[i]
			if data == nil {
				log.Warn().Str("market", string(id)).Msg("market: absent account in batch, skipping")
				continue
			}
			snap, err := solana.DecodeMarketSnapshot(id, data)
			if err != nil {
				log.Warn().Err(err).Str("market", string(id)).Msg("market: undecodable account in batch, skipping")
				continue
			}
			g.markets.Set(string(id), *snap)
			out[id] = *snap
		}
	}

	return out, nil
}

// TokenAccounts returns the wallet's decoded SPL token accounts, cached
// briefly. forceRefresh bypasses the cache.
func (g *Gateway) TokenAccounts(ctx context.Context, owner solana.Pubkey, forceRefresh bool) ([]solana.TokenAccount, error) {
	if !forceRefresh {
		if accounts, ok := g.tokenAccounts.Get(string(owner)); ok {
			return accounts, nil
		}
	}

	owned, err := g.client.GetTokenAccountsByOwner(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("token accounts %s: %w", owner, err)
	}

	accounts := make([]solana.TokenAccount, 0, len(owned))
	for _, oa := range owned {
		acc, err := solana.DecodeTokenAccount(oa.Pubkey, oa.Data)
		if err != nil {
			log.Warn().Err(err).Str("account", string(oa.Pubkey)).Msg("market: undecodable token account, skipping")
			continue
		}
		accounts = append(accounts, *acc)
	}

	g.tokenAccounts.Set(string(owner), accounts)
	return accounts, nil
}

// TokenPrice resolves a mint's trading price, denominated in the pair's
// quote token by the primary source. Both sources are queried
// concurrently; the primary's answer is preferred whenever it has one.
func (g *Gateway) TokenPrice(ctx context.Context, mint solana.Pubkey) (decimal.Decimal, error) {
	if price, ok := g.prices.Get(string(mint)); ok {
		return price, nil
	}

	type result struct {
		price decimal.Decimal
		found bool
	}
	var primaryRes, secondaryRes result

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		price, found, err := g.primary.TokenPrice(egCtx, mint)
		if err != nil {
			log.Debug().Err(err).Str("source", g.primary.Name()).Msg("market: price source error")
			return nil
		}
		primaryRes = result{price, found}
		return nil
	})
	eg.Go(func() error {
		price, found, err := g.secondary.TokenPrice(egCtx, mint)
		if err != nil {
			log.Debug().Err(err).Str("source", g.secondary.Name()).Msg("market: price source error")
			return nil
		}
		secondaryRes = result{price, found}
		return nil
	})
	_ = eg.Wait()

	var price decimal.Decimal
	switch {
	case primaryRes.found:
		price = primaryRes.price
	case secondaryRes.found:
		price = secondaryRes.price
	default:
		return decimal.Zero, fmt.Errorf("price for %s from %s/%s: %w",
			mint, g.primary.Name(), g.secondary.Name(), solana.ErrUpstreamUnavailable)
	}

	g.prices.Set(string(mint), price)
	return price, nil
}

// HydrateReserves fills the pool's base and quote reserves from its vault
// balances, both sides fetched concurrently.
func (g *Gateway) HydrateReserves(ctx context.Context, pool *solana.PoolState) error {
	var base, quote decimal.Decimal

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		bal, err := g.client.GetTokenAccountBalance(egCtx, pool.BaseVault)
		if err != nil {
			return fmt.Errorf("base vault %s: %w", pool.BaseVault, err)
		}
		base = bal
		return nil
	})
	eg.Go(func() error {
		bal, err := g.client.GetTokenAccountBalance(egCtx, pool.QuoteVault)
		if err != nil {
			return fmt.Errorf("quote vault %s: %w", pool.QuoteVault, err)
		}
		quote = bal
		return nil
	})
	if err := eg.Wait(); err != nil {
		return err
	}

	pool.BaseReserve = base
	pool.QuoteReserve = quote
	return nil
}

// MintState fetches and decodes a mint account. Callers cache the derived
// verdicts, not the raw state.
func (g *Gateway) MintState(ctx context.Context, mint solana.Pubkey) (*solana.MintState, error) {
	data, err := g.client.GetAccountInfo(ctx, mint)
	if err != nil {
		return nil, fmt.Errorf("mint %s: %w", mint, err)
	}
	if data == nil {
		return nil, fmt.Errorf("mint %s absent: %w", mint, solana.ErrUpstreamUnavailable)
	}
	return solana.DecodeMintState(data)
}

// InvalidatePool drops the cached keys for one pool.
func (g *Gateway) InvalidatePool(poolID solana.Pubkey) {
	g.poolKeys.Delete(string(poolID))
}

// Stats aggregates the per-cache counters.
type Stats struct {
	PoolKeys      cache.Stats `json:"pool_keys"`
	Markets       cache.Stats `json:"markets"`
	TokenAccounts cache.Stats `json:"token_accounts"`
	Prices        cache.Stats `json:"prices"`
}

func (g *Gateway) Stats() Stats {
	return Stats{
		PoolKeys:      g.poolKeys.Stats(),
		Markets:       g.markets.Stats(),
		TokenAccounts: g.tokenAccounts.Stats(),
		Prices:        g.prices.Stats(),
	}
}
