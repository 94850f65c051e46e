package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/vantage-trading/vantage/internal/analysis"
	"github.com/vantage-trading/vantage/internal/config"
	"github.com/vantage-trading/vantage/internal/market"
	"github.com/vantage-trading/vantage/internal/pipeline"
	"github.com/vantage-trading/vantage/internal/session"
	"github.com/vantage-trading/vantage/internal/solana"
	"github.com/vantage-trading/vantage/internal/trader"
)

func main() {
	// 1. Parse flags and environment.
	configPath := flag.String("config", "config/config.yaml", "Path to configuration file")
	stubMode := flag.Bool("stub", false, "Use stub RPC (no real Solana connection)")
	flag.Parse()

	// .env feeds the ${VAR} expansion in the YAML config.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "WARN: could not load .env: %v\n", err)
	}

	// 2. Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config from %s: %v\n", *configPath, err)
		os.Exit(1)
	}

	// 3. Setup logging.
	setupLogging(cfg.General)

	log.Info().Msg("=============================================")
	log.Info().Msg("VANTAGE Liquidity Sniper - Starting")
	log.Info().Msg("DETECT -> ANALYZE -> DECIDE -> EXECUTE")
	log.Info().Msg("=============================================")

	log.Info().
		Str("instance_id", cfg.General.InstanceID).
		Bool("dry_run", cfg.Trader.DryRun).
		Bool("stub_mode", *stubMode).
		Str("quote_asset", cfg.General.QuoteAsset).
		Float64("buy_amount", cfg.Pipeline.BuyAmount).
		Float64("max_slippage_pct", cfg.Pipeline.MaxSlippagePercent).
		Float64("stop_loss", cfg.Trader.StopLoss).
		Float64("take_profit", cfg.Trader.TakeProfit).
		Int("max_concurrent", cfg.Pipeline.MaxConcurrentTrades).
		Bool("snipe_list", cfg.SnipeList.Enabled).
		Msg("Configuration loaded")

	// 4. Build the swap path before validating: a live run without a
	// wallet in the config can still derive one from the signing key.
	var builder trader.SwapBuilder
	if cfg.Trader.DryRun || *stubMode {
		builder = trader.NewStubSwapBuilder()
		log.Info().Msg("Swap builder: STUB (dry run)")
	} else {
		raydium, err := trader.NewRaydiumSwapBuilder(cfg.Trader.PrivateKey)
		if err != nil {
			log.Fatal().Err(err).Msg("Swap builder initialization failed")
		}
		if cfg.Trader.Wallet == "" {
			cfg.Trader.Wallet = raydium.Wallet()
		}
		builder = raydium
		log.Info().Str("wallet", string(raydium.Wallet())).Msg("Swap builder: LIVE Raydium")
	}
	if cfg.Trader.Wallet == "" && cfg.Trader.DryRun {
		cfg.Trader.Wallet = "DRY-RUN-WALLET"
	}
	if cfg.Trader.QuoteTokenAccount == "" && cfg.Trader.DryRun {
		cfg.Trader.QuoteTokenAccount = "DRY-RUN-QUOTE-ACCOUNT"
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Configuration validation failed")
	}

	// 5. Chain client.
	var client solana.ChainClient
	if *stubMode {
		client = solana.NewStubChainClient()
		log.Info().Msg("Solana RPC: STUB mode")
	} else {
		live := solana.NewLiveClient(cfg.RPC)
		client = live
		defer live.Close()

		healthCtx, healthCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := client.Health(healthCtx); err != nil {
			log.Warn().Err(err).Str("endpoint", cfg.RPC.Endpoint).
				Msg("Solana RPC health check failed (continuing, may be rate-limited)")
		} else {
			log.Info().Str("endpoint", cfg.RPC.Endpoint).Msg("Solana RPC: LIVE - connected")
		}
		healthCancel()
	}

	// 6. Market data gateway with two price sources.
	gateway := market.NewGateway(cfg.Market, client,
		market.NewDexScreenerSource(), market.NewBirdeyeSource(cfg.General.BirdeyeAPIKey))
	defer gateway.Close()

	// 7. Analyzers.
	security := analysis.NewSecurityAnalyzer(cfg.Security, gateway)
	defer security.Close()
	sentiment := analysis.NewSentimentAnalyzer(cfg.Sentiment, client)
	defer sentiment.Close()

	// 8. Session state, profit ledger, snipe list.
	sessionState := session.New(cfg.Session)
	ledger, err := session.NewLedger(cfg.General.ProfitLedgerPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.General.ProfitLedgerPath).Msg("Profit ledger initialization failed")
	}
	if total, err := ledger.Total(); err == nil {
		log.Info().Float64("total_profit", total).Msg("Profit ledger loaded")
	}
	snipeList := session.NewSnipeList(cfg.SnipeList)
	if cfg.SnipeList.Enabled {
		log.Info().Int("mints", snipeList.Len()).Str("path", cfg.SnipeList.Path).Msg("Snipe list loaded")
	}

	// 9. Fee estimator, execution core, decision pipeline.
	feeEstimator := solana.NewFeeEstimator(client)
	executor := trader.New(cfg.Trader, client, gateway, builder, feeEstimator, sessionState, ledger)
	decider := pipeline.New(cfg.Pipeline, executor, sessionState, snipeList, security, sentiment)

	// 10. Context and shutdown signal.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Warn().Str("signal", sig.String()).Msg("Shutdown signal received")
		cancel()
	}()

	var wg sync.WaitGroup

	// 11. Fee estimator refresh loop.
	wg.Add(1)
	go func() {
		defer wg.Done()
		feeEstimator.Start(ctx)
	}()

	// 12. Program monitor and the event loop.
	var monitor *solana.ProgramMonitor
	if *stubMode {
		log.Info().Msg("Program monitor disabled in stub mode")
	} else {
		monitorConfig := cfg.Monitor
		if monitorConfig.WSEndpoint == "" {
			monitorConfig.WSEndpoint = cfg.RPC.WSEndpoint
		}
		monitor = solana.NewProgramMonitor(monitorConfig)

		events, err := monitor.Start(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("Program monitor start failed")
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			runEventLoop(ctx, events, cfg, gateway, decider, executor)
		}()
	}

	// 13. Maintenance timers.
	wg.Add(1)
	go func() {
		defer wg.Done()
		runTimers(ctx, cfg, gateway, sessionState, snipeList, executor, decider, monitor, feeEstimator)
	}()

	log.Info().Msg("VANTAGE Liquidity Sniper - Running")
	log.Info().Msg("Watching for new liquidity pools...")

	// 14. Block until shutdown.
	<-ctx.Done()

	log.Info().Msg("Shutting down...")
	feeEstimator.Stop()
	wg.Wait()

	traderStats := executor.Stats()
	sessionStats := sessionState.Stats()
	total, _ := ledger.Total()
	log.Info().
		Int64("buys", traderStats.Buys).
		Int64("sells", traderStats.Sells).
		Int64("failed_buys", traderStats.FailedBuys).
		Int64("failed_sells", traderStats.FailedSells).
		Int("open_positions", traderStats.OpenPositions).
		Int("daily_trades", sessionStats.DailyTrades).
		Float64("daily_pl", sessionStats.DailyProfitLoss).
		Float64("total_profit", total).
		Msg("VANTAGE Liquidity Sniper - Final Statistics")

	log.Info().Msg("Shutdown complete")
}

// runEventLoop consumes monitor events: new pools feed the decision
// pipeline, new markets pre-warm the gateway cache. Each account is
// processed once.
func runEventLoop(
	ctx context.Context,
	events <-chan solana.AccountEvent,
	cfg *config.Config,
	gateway *market.Gateway,
	decider *pipeline.Pipeline,
	executor *trader.Trader,
) {
	quoteMint := cfg.QuoteMint()
	seenPools := make(map[solana.Pubkey]struct{})
	seenMarkets := make(map[solana.Pubkey]struct{})

	// Both sets only ever grow; drop them wholesale past the cap rather
	// than tracking per-entry age.
	const maxSeen = 50_000
	noteSeen := func(set map[solana.Pubkey]struct{}, account solana.Pubkey) bool {
		if _, seen := set[account]; seen {
			return true
		}
		if len(set) >= maxSeen {
			clear(set)
		}
		set[account] = struct{}{}
		return false
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}

			switch event.Program {
			case solana.OpenBookProgramID:
				if noteSeen(seenMarkets, event.Account) {
					continue
				}

				snap, err := solana.DecodeMarketSnapshot(event.Account, event.Data)
				if err != nil {
					log.Debug().Err(err).Str("account", string(event.Account)).Msg("main: undecodable market account")
					continue
				}
				gateway.StoreMarketSnapshot(*snap)

			case solana.LiquidityProgramID:
				if noteSeen(seenPools, event.Account) {
					continue
				}

				pool, err := solana.DecodePoolState(event.Account, event.Data)
				if err != nil {
					log.Debug().Err(err).Str("account", string(event.Account)).Msg("main: undecodable pool account")
					continue
				}
				if pool.QuoteMint != quoteMint {
					continue
				}

				log.Info().
					Str("pool", string(pool.ID)).
					Str("mint", string(pool.BaseMint)).
					Uint64("slot", event.Slot).
					Msg("[NEW POOL] Detected")

				go processPool(ctx, cfg, gateway, decider, executor, pool)
			}
		}
	}
}

// processPool hydrates reserves, prices the pool, and hands it to the
// decision pipeline. Approved pools go straight to the buy path.
func processPool(
	ctx context.Context,
	cfg *config.Config,
	gateway *market.Gateway,
	decider *pipeline.Pipeline,
	executor *trader.Trader,
	pool *solana.PoolState,
) {
	poolCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := gateway.HydrateReserves(poolCtx, pool); err != nil {
		log.Warn().Err(err).Str("pool", string(pool.ID)).Msg("main: reserve hydration failed")
		return
	}

	if min := cfg.General.MinPoolSizeQuote; min > 0 && pool.QuoteReserve.InexactFloat64() < min {
		log.Info().
			Str("pool", string(pool.ID)).
			Str("quote_reserve", pool.QuoteReserve.String()).
			Float64("min", min).
			Msg("[SKIP] Pool below minimum size")
		return
	}

	// A freshly launched token has no external quote yet; the pool's own
	// ratio prices the base side, in quote units.
	basePrice := 0.0
	if base := pool.BaseReserve.InexactFloat64(); base > 0 {
		basePrice = pool.QuoteReserve.InexactFloat64() / base
	}

	decision := decider.Evaluate(poolCtx, pipeline.Request{
		Mint:       pool.BaseMint,
		Pool:       pool,
		BasePrice:  basePrice,
		QuotePrice: 1,
	})
	if !decision.Approved {
		return
	}

	var conditions *analysis.MarketConditions
	if cfg.Trader.DynamicSizing {
		// Aggregators don't publish horizon stats for a mint this new;
		// score the standing assumptions once a price exists at all.
		if price, err := gateway.TokenPrice(poolCtx, pool.BaseMint); err == nil && price.IsPositive() {
			c := analysis.AnalyzeMarketConditions(
				analysis.HorizonMetrics{M5: 2, H1: 5, H6: 10, H24: 15},
				analysis.HorizonMetrics{M5: 1000, H1: 5000, H6: 20_000, H24: 50_000},
				analysis.TxnCounts{Buys: 10, Sells: 5},
				analysis.TxnCounts{Buys: 50, Sells: 30},
			)
			conditions = &c
		}
	}

	if err := executor.Buy(poolCtx, pool, decision.SwapAmount, conditions); err != nil {
		log.Error().Err(err).Str("mint", string(pool.BaseMint)).Msg("main: buy failed")
	}
}

// runTimers drives the periodic maintenance: snipe-list refresh,
// auto-sell sweep, daily session reset, wallet account refresh, and the
// status log.
func runTimers(
	ctx context.Context,
	cfg *config.Config,
	gateway *market.Gateway,
	sessionState *session.State,
	snipeList *session.SnipeList,
	executor *trader.Trader,
	decider *pipeline.Pipeline,
	monitor *solana.ProgramMonitor,
	fees *solana.FeeEstimator,
) {
	secondsOr := func(s, fallback int) time.Duration {
		if s <= 0 {
			s = fallback
		}
		return time.Duration(s) * time.Second
	}

	snipeTicker := time.NewTicker(secondsOr(cfg.Runtime.SnipeListRefreshS, 1))
	sellTicker := time.NewTicker(secondsOr(cfg.Runtime.AutoSellIntervalS, 5))
	dayTicker := time.NewTicker(secondsOr(cfg.Runtime.DayBoundaryCheckS, 60))
	refreshTicker := time.NewTicker(secondsOr(cfg.Runtime.AccountRefreshS, 60))
	statusTicker := time.NewTicker(secondsOr(cfg.Runtime.StatusLogS, 300))
	defer snipeTicker.Stop()
	defer sellTicker.Stop()
	defer dayTicker.Stop()
	defer refreshTicker.Stop()
	defer statusTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-snipeTicker.C:
			if cfg.SnipeList.Enabled {
				snipeList.Refresh()
			}

		case <-sellTicker.C:
			if cfg.Runtime.AutoSellEnabled {
				executor.Sweep(ctx, gateway)
			}

		case <-dayTicker.C:
			if sessionState.MaybeReset() {
				log.Info().Msg("Daily session counters reset")
			}

		case <-refreshTicker.C:
			refreshCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			if _, err := gateway.TokenAccounts(refreshCtx, cfg.Trader.Wallet, true); err != nil {
				log.Debug().Err(err).Msg("main: token account refresh failed")
			}
			cancel()

		case <-statusTicker.C:
			traderStats := executor.Stats()
			pipelineStats := decider.Stats()
			sessionStats := sessionState.Stats()
			evt := log.Info().
				Int64("approved", pipelineStats.Approved).
				Int64("rejected", pipelineStats.Rejected).
				Int64("buys", traderStats.Buys).
				Int64("sells", traderStats.Sells).
				Int("open_positions", traderStats.OpenPositions).
				Int("in_flight", traderStats.InFlight).
				Int("daily_trades", sessionStats.DailyTrades).
				Float64("daily_pl", sessionStats.DailyProfitLoss).
				Uint64("cu_price", fees.ComputeUnitPrice())
			if monitor != nil {
				ms := monitor.Stats()
				evt = evt.Bool("ws_connected", ms.Connected).Int64("events", ms.EventsDetected)
			}
			evt.Msg("[STATUS]")
		}
	}
}

func setupLogging(general config.GeneralConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro
	level, err := zerolog.ParseLevel(general.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if general.LogFormat == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Str("service", "vantage-sniper").
			Str("instance", general.InstanceID).Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).
			With().Timestamp().Str("service", "vantage-sniper").
			Str("instance", general.InstanceID).Logger()
	}
}
