package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"trading-core/internal/api"
	"trading-core/internal/balance"
	"trading-core/internal/bot"
	"trading-core/internal/engine"
	"trading-core/internal/events"
	"trading-core/internal/gateway"
	"trading-core/internal/jobs"
	"trading-core/internal/market"
	"trading-core/internal/monitor"
	"trading-core/internal/order"
	"trading-core/internal/portfolio"
	"trading-core/internal/reconciliation"
	"trading-core/internal/risk"
	"trading-core/internal/state"
	"trading-core/internal/stats"
	"trading-core/internal/strategy"
	"trading-core/pkg/binance"
	"trading-core/pkg/config"
	"trading-core/pkg/crypto"
	"trading-core/pkg/db"
	exfutcoin "trading-core/pkg/exchanges/binance/futures_coin"
	exfutusdt "trading-core/pkg/exchanges/binance/futures_usdt"
	exspot "trading-core/pkg/exchanges/binance/spot"
	exchange "trading-core/pkg/exchanges/common"
	"trading-core/pkg/i18n"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf(i18n.Get("ConfigLoadFailed"), err)
	}

	i18n.SetLanguage(i18n.Language(cfg.Language))
	log.Println(i18n.Get("Starting"))

	dbPath := cfg.DBPath
	if cfg.DryRun && cfg.DryRunDBPath != "" {
		dbPath = cfg.DryRunDBPath
	}
	log.Printf(i18n.Get("ConfigLoaded"), cfg.Port)
	log.Printf(i18n.Get("UsingDBPath"), dbPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Core services
	bus := events.NewBus()

	database, err := db.New(dbPath)
	if err != nil {
		log.Fatalf(i18n.Get("DBInitFailed"), err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf(i18n.Get("DBMigrationsFailed"), err)
	}

	// In-memory state seeded from DB
	stateMgr := state.NewManager(database)
	if err := stateMgr.Load(ctx); err != nil {
		log.Fatalf(i18n.Get("StateLoadFailed"), err)
	}

	// Multi-user: Key Manager (for encrypted API keys)
	var keyMgr *crypto.KeyManager
	if os.Getenv("MASTER_ENCRYPTION_KEY") != "" {
		keyMgr, err = crypto.NewKeyManager()
		if err != nil {
			log.Printf("⚠️ KeyManager init failed: %v (encryption disabled)", err)
		} else {
			log.Printf("🔐 KeyManager initialized (version %d)", keyMgr.CurrentVersion())
		}
	}

	// Multi-user: Gateway Manager (per-connection gateways)
	var gatewayMgr *gateway.Manager
	if keyMgr != nil {
		gatewayMgr = gateway.NewManager(
			database.Queries(),
			keyMgr,
			gateway.DefaultFactory,
			gateway.DefaultConfig(),
		)
		gatewayMgr.Start(ctx)
		log.Println("🌐 GatewayManager started (multi-user mode)")
	}

	// Exchange gateway selection (fallback for single-user mode)
	var exchGateway exchange.Gateway
	venue := "none"
	buildVersion := os.Getenv("APP_VERSION")
	if buildVersion == "" {
		buildVersion = "v2.0-dev"
	}
	switch {
	case cfg.EnableBinanceTrading:
		venue = "binance-spot"
		exchGateway = exspot.New(exspot.Config{
			APIKey:    cfg.BinanceAPIKey,
			APISecret: cfg.BinanceAPISecret,
			Testnet:   false,
		})
	case cfg.EnableBinanceUSDTFutures:
		venue = "binance-usdtfut"
		exchGateway = exfutusdt.NewClient(exfutusdt.Config{
			APIKey:    cfg.BinanceUSDTKey,
			APISecret: cfg.BinanceUSDTSecret,
			Testnet:   false,
		})
	case cfg.EnableBinanceCoinFutures:
		venue = "binance-coinfut"
		exchGateway = exfutcoin.NewClient(exfutcoin.Config{
			APIKey:    cfg.BinanceCoinKey,
			APISecret: cfg.BinanceCoinSecret,
			Testnet:   false,
		})
	}

	// Balance manager with exchange integration (global account)
	var balanceMgr *balance.Manager
	useFixedBalance := cfg.DryRun || strings.EqualFold(cfg.BalanceSource, "fixed")
	if useFixedBalance {
		balanceMgr = balance.NewManager(nil, 30*time.Second)
		initial := cfg.DryRunInitialBalance
		if initial <= 0 {
			initial = 10000.0
		}
		balanceMgr.SetInitialBalance(initial)
		log.Printf(i18n.Get("BalanceInitialized"), initial)
	} else {
		// Try to use exchGateway if it implements balance.ExchangeClient
		if balClient, ok := exchGateway.(balance.ExchangeClient); ok {
			balanceMgr = balance.NewManager(balClient, 30*time.Second)
			balanceMgr.Start(ctx)
			log.Println(i18n.Get("BalanceManagerStarted"))
		} else {
			// Fallback: no balance API support (simulate with fixed initial balance)
			balanceMgr = balance.NewManager(nil, 30*time.Second)
			balanceMgr.SetInitialBalance(10000.0)
			log.Println(i18n.Get("BalanceManagerFallback"))
		}
	}

	// Multi-user balance manager: per-user in-memory balances (primarily for risk control).
	userBalanceMgr := balance.NewMultiUserManager(func(userID string) (*balance.Manager, error) {
		mgr := balance.NewManager(nil, 30*time.Second)
		initial := cfg.DryRunInitialBalance
		if initial <= 0 {
			initial = 10000.0
		}
		mgr.SetInitialBalance(initial)
		log.Printf("Multi-user balance manager created for user %s with initial balance %.2f", userID, initial)
		return mgr, nil
	})

	// Background cleanup for per-user managers to avoid unbounded growth.
	perUserIdleTTL := 60 * time.Minute
	cleanupInterval := 10 * time.Minute
	go func() {
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if userBalanceMgr != nil {
					userBalanceMgr.CleanupIdle(perUserIdleTTL)
				}
			}
		}
	}()

	// Order flow with dry-run wrapper
	var orderQueue order.OrderQueue
	enableWal := cfg.EnableOrderWAL && (!cfg.DryRun || cfg.DryRunEnableOrderWAL)
	walPath := cfg.OrderWALPath
	if cfg.DryRun && cfg.DryRunEnableOrderWAL {
		walPath = cfg.DryRunOrderWALPath
	}
	if enableWal {
		pq, err := order.NewPersistentQueue(walPath, 200)
		if err != nil {
			log.Printf(i18n.Get("PersistentQueueFailed"), err)
			orderQueue = order.NewQueue(200)
		} else {
			if err := pq.Recover(); err != nil {
				log.Printf(i18n.Get("WalRecoveryError"), err)
			}
			orderQueue = pq
			log.Printf(i18n.Get("OrderWalEnabled"), walPath)
		}
	} else {
		orderQueue = order.NewQueue(200)
	}
	exec := order.NewExecutor(database, bus, exchGateway, venue, cfg.BinanceTestnet)
	mode := order.ModeProduction
	if cfg.DryRun || !cfg.ExecutionEnabled {
		mode = order.ModeDryRun
		log.Println(i18n.Get("DryRunMode"))
	}
	dryRunner := order.NewDryRunExecutor(mode, exec, cfg.DryRunInitialBalance, order.DryRunSimConfig{
		FeeRate:             cfg.DryRunFeeRate,
		SlippageBps:         cfg.DryRunSlippageBps,
		GatewayLatencyMinMs: cfg.DryRunGwLatencyMinMs,
		GatewayLatencyMaxMs: cfg.DryRunGwLatencyMaxMs,
	})
	asyncExec := order.NewAsyncExecutorWithDryRun(dryRunner, 4) // V2 P0-B: Async Execution

	// Multi-user: inject KeyManager and Gateway pool
	if keyMgr != nil {
		exec.SetKeyManager(keyMgr)
		if gatewayMgr != nil {
			exec.SetGatewayPool(gatewayMgr)
		}
		log.Println("KeyManager injected into Executor")
	}

	// System metrics for monitoring (assigned onto exec below, once constructed
	// alongside the bot/portfolio/stats wiring).
	sysMetrics := monitor.NewSystemMetrics()
	log.Println(i18n.Get("SystemMetricsInit"))

	// Periodically update metrics with gateway pool & multi-user stats.
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if gatewayMgr != nil {
					sysMetrics.SetGatewayPoolStats(gatewayMgr.Stats())
				}
				if userBalanceMgr != nil {
					sysMetrics.SetMultiUserCounts(0, userBalanceMgr.UserCount())
				}
			}
		}
	}()

	// Reconciliation service (only in production mode)
	if !cfg.DryRun {
		if reconClient, ok := exchGateway.(reconciliation.ExchangeClient); ok {
			reconService := reconciliation.NewService(reconClient, stateMgr, database, 5*time.Minute)
			reconService.Start(ctx)
			log.Println(i18n.Get("ReconStarted"))
		} else {
			log.Println(i18n.Get("ReconNotSupported"))
		}
	}

	// Market data (mock first, real later)
	binanceClient := binance.NewClient(cfg.BinanceAPIKey, cfg.BinanceAPISecret, false)
	streamClient := binance.NewStreamClient(false)
	if cfg.UseMockFeed {
		mock := market.MockFeed{
			Bus:        bus,
			Symbols:    cfg.BinanceSymbols,
			StartPrice: 100,
			Step:       0.8,
			Interval:   time.Second,
		}
		mock.Start(ctx)
		log.Println(i18n.Get("MockFeedStarted"))
	} else {
		feed := market.Feed{
			Client:   binanceClient,
			Stream:   streamClient,
			Bus:      bus,
			Symbols:  cfg.BinanceSymbols,
			Interval: "1m",
		}
		feed.Start(ctx)
		log.Println(i18n.Get("BinanceFeedStarted"))
	}

	// Filled orders keep the reconciliation service's local position snapshot
	// in sync. Bot-originated fills already update Portfolio/Stats directly
	// inside the executor; this subscriber exists only for stateMgr, which
	// internal/reconciliation still reads from to detect exchange drift.
	filledSub, unsubFilled := bus.Subscribe(events.EventOrderFilled, 100)
	defer unsubFilled()
	go func() {
		for msg := range filledSub {
			o, ok := msg.(order.Order)
			if !ok {
				continue
			}
			if _, err := stateMgr.RecordFill(ctx, o.UserID, o.Symbol, o.Side, o.Qty, o.Price); err != nil {
				log.Printf("state: failed to record fill for %s: %v", o.Symbol, err)
			}
		}
	}()

	go orderQueue.Drain(ctx, func(o order.Order) {
		asyncExec.ExecuteAsync(ctx, o) // V2 P0-B: Async Execution
	})

	// Monitor async execution results (V2 P0-B)
	go func() {
		for result := range asyncExec.Results() {
			if !result.Success {
				log.Printf(i18n.Get("AsyncExecutionFailed"), result.OrderID, result.Error)
				sysMetrics.IncrementErrors()
			} else {
				sysMetrics.IncrementOrders()
			}
			sysMetrics.OrderLatency.RecordDuration(result.Latency)
		}
	}()

	// Start Spot User Data Stream (only when using spot gateway)
	if cfg.EnableBinanceTrading && cfg.BinanceAPIKey != "" && cfg.BinanceAPISecret != "" && !cfg.DryRun {
		spotStream := order.NewSpotUserStream(exspot.New(exspot.Config{
			APIKey:    cfg.BinanceAPIKey,
			APISecret: cfg.BinanceAPISecret,
			Testnet:   cfg.BinanceTestnet,
		}), database, bus, cfg.BinanceTestnet)
		spotStream.Start(ctx)
	}
	// Start Futures User Data Stream (USDT)
	if cfg.EnableBinanceUSDTFutures && cfg.BinanceUSDTKey != "" && cfg.BinanceUSDTSecret != "" && !cfg.DryRun {
		usdtStream := order.NewFuturesUserStream(exfutusdt.NewClient(exfutusdt.Config{
			APIKey:    cfg.BinanceUSDTKey,
			APISecret: cfg.BinanceUSDTSecret,
			Testnet:   cfg.BinanceTestnet,
		}), database, bus, cfg.BinanceTestnet, false)
		usdtStream.Start(ctx)
	}
	// Start Futures User Data Stream (COIN)
	if cfg.EnableBinanceCoinFutures && cfg.BinanceCoinKey != "" && cfg.BinanceCoinSecret != "" && !cfg.DryRun {
		coinStream := order.NewFuturesUserStream(exfutcoin.NewClient(exfutcoin.Config{
			APIKey:    cfg.BinanceCoinKey,
			APISecret: cfg.BinanceCoinSecret,
			Testnet:   cfg.BinanceTestnet,
		}), database, bus, cfg.BinanceTestnet, true)
		coinStream.Start(ctx)
	}

	// Bot orchestration: per-bot engines behind a lifecycle manager, each
	// pulling its strategy implementation from a shared registry and pushing
	// signals onto the same order queue everything else drains.
	stratRegistry := strategy.NewRegistry()
	botMgr := bot.NewManager(database, bus, orderQueue, stratRegistry)
	botMgr.SetGatewayResolver(func(ctx context.Context, b db.Bot) (exchange.Gateway, bool) {
		return exec.ResolveBotGateway(ctx, b.ID)
	})

	// Engine Service: the API's view of bot orchestration.
	engService := engine.NewImpl(engine.Config{
		Bots:       botMgr,
		OrderQueue: orderQueue,
		Bus:        bus,
		DB:         database,
		Meta: engine.SystemStatus{
			Mode: func() string {
				if cfg.DryRun {
					return "DRY_RUN"
				}
				return "LIVE"
			}(),
			DryRun:      cfg.DryRun,
			Venue:       venue,
			Symbols:     cfg.BinanceSymbols,
			UseMockFeed: cfg.UseMockFeed,
			Version:     buildVersion,
		},
	})
	log.Println(i18n.Get("EngineServiceInit"))

	// Portfolio: per-user balance/position aggregate fed by order fills.
	portfolioMgr := portfolio.New(database, userBalanceMgr, bus)

	// Bot trade stats projection, wired into the order executors so a bot
	// fill both updates its position (above) and its cumulative win/loss stats.
	statsProjector := stats.NewProjector(database, bus)
	exec.Portfolio = portfolioMgr
	exec.Stats = statsProjector
	exec.Metrics = sysMetrics

	// Risk limits/alerts monitor: per-account exposure/drawdown checks and alerts.
	riskMonitor := risk.NewMonitor(database, bus)

	// Job queue + scheduler + worker pool.
	jobQueue := jobs.NewQueue(database)
	jobRegistry := jobs.NewRegistry()
	jobRegistry.Register("reconcile_bot_status", jobs.NewReconcileBotStatusHandler(database, botMgr))
	workerCount := cfg.JobWorkerCount
	if workerCount <= 0 {
		workerCount = 4
	}
	pollInterval := time.Duration(cfg.JobPollIntervalMs) * time.Millisecond
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	jobPool := jobs.NewPool(workerCount, jobQueue, jobRegistry, pollInterval)
	jobPool.Start(ctx)

	scheduler := jobs.NewScheduler(jobQueue, database)
	scheduler.WithTickInterval(time.Duration(cfg.SchedulerTickSecs) * time.Second)
	if err := scheduler.Register(ctx, &jobs.ScheduledTask{
		Name:           "reconcile_bot_status",
		HandlerJobName: "reconcile_bot_status",
		Kind:           jobs.ScheduleInterval,
		IntervalSecs:   60,
		Priority:       jobs.PriorityLow,
		Enabled:        true,
	}); err != nil {
		log.Printf("jobs: failed to register reconcile_bot_status schedule: %v", err)
	}
	go scheduler.Run(ctx)

	// API
	server := api.NewServer(
		bus,
		database,
		engService,
		sysMetrics,
		orderQueue,
		api.SystemMeta{
			DryRun:      cfg.DryRun,
			Venue:       venue,
			Symbols:     cfg.BinanceSymbols,
			UseMockFeed: cfg.UseMockFeed,
			Version:     buildVersion,
		},
		cfg.JWTSecret,
		keyMgr,
		userBalanceMgr,
	)
	server.AccessTokenTTLMins = cfg.AccessTokenTTLMins
	server.RefreshTokenTTLDays = cfg.RefreshTokenTTLDays
	server.Bots = botMgr
	server.Jobs = jobQueue
	server.Scheduler = scheduler
	server.RiskMon = riskMonitor
	server.Portfolio = portfolioMgr
	server.Executor = exec
	go func() {
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Fatalf(i18n.Get("APIServerError"), err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println(i18n.Get("ShuttingDown"))
	if err := botMgr.StopAll(context.Background()); err != nil {
		log.Printf("bot: StopAll on shutdown: %v", err)
	}
}
