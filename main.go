package main

import (
	"context"
	"fmt"
	"log" // Use standard log only for initial fatal errors before logger is set up

	"krakenBot/config"
	"krakenBot/internal/adapters/binancefeed"
	"krakenBot/internal/adapters/kraken"
	"krakenBot/internal/adapters/krakenws"
	"krakenBot/internal/adapters/logger"
	"krakenBot/internal/adapters/sqlite"
	"krakenBot/internal/app"
	"krakenBot/internal/domain"
	"krakenBot/internal/ports"
	"krakenBot/internal/position"
	"krakenBot/internal/strategy/strategies"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}
	if err := cfg.RequireCredentials(); err != nil {
		log.Fatalf("FATAL: %v", err)
	}

	// 2. Initialize Logger
	appLogger, err := logger.NewZapLogger(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize logger: %v", err)
	}
	defer func() { _ = appLogger.Sync() }()
	ctx := context.Background()
	appLogger.Info(ctx, "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	// 3. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize database repository")
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err) // Also log to stderr
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(ctx, err, "Error closing database repository")
		}
	}()
	appLogger.Info(ctx, "Database repository initialized")

	// 4. Initialize Exchange Gateway (Kraken Adapter)
	krakenClient, err := kraken.New(kraken.Config{
		APIKey:         cfg.APIKey,
		APISecret:      cfg.APISecret,
		BaseURL:        cfg.BaseURL,
		RequestTimeout: cfg.RequestTimeout,
		MaxRetries:     cfg.MaxRetries,
		Logger:         appLogger,
		NonceStore:     repo,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize Kraken client")
		log.Fatalf("FATAL: Failed to initialize Kraken client: %v", err)
	}
	defer krakenClient.Close()
	appLogger.Info(ctx, "Kraken client initialized")

	// 5. Initialize Position Manager
	positions, err := position.NewManager(position.Config{
		Logger:    appLogger,
		Positions: repo,
		Trades:    repo,
		Limits:    position.Limits{MaxOpenPositions: cfg.MaxOpenPositions, MaxNotional: cfg.MaxNotional},
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize position manager")
		log.Fatalf("FATAL: Failed to initialize position manager: %v", err)
	}

	// 6. Initialize Strategy Instances
	engines, err := buildEngines(cfg, krakenClient, positions, repo, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize strategy instances")
		log.Fatalf("FATAL: Failed to initialize strategy instances: %v", err)
	}
	appLogger.Info(ctx, "Strategy instances initialized", map[string]interface{}{"count": len(engines)})

	// 7. Initialize Tick Feed
	feed, err := buildFeed(cfg, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize tick feed")
		log.Fatalf("FATAL: Failed to initialize tick feed: %v", err)
	}
	appLogger.Info(ctx, "Tick feed initialized", map[string]interface{}{"feed": cfg.Feed})

	// 8. Initialize Application Service
	tradingService, err := app.NewTradingService(app.ServiceConfig{
		Feed:              feed,
		Engines:           engines,
		ReconcileInterval: cfg.ReconcileInterval,
		ShutdownTimeout:   cfg.ShutdownTimeout,
		HandleSignals:     true,
		Logger:            appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize trading service")
		log.Fatalf("FATAL: Failed to initialize trading service: %v", err)
	}
	appLogger.Info(ctx, "Trading service initialized")

	// 9. Start the Service
	if err := tradingService.Start(ctx); err != nil {
		appLogger.Error(ctx, err, "Trading service exited with error")
		log.Fatalf("FATAL: Trading service exited with error: %v", err)
	}

	appLogger.Info(ctx, "Application finished gracefully.")
}

// buildEngines creates one StrategyEngine per instance of the strategy file.
func buildEngines(cfg *config.Config, gw ports.ExchangeGateway, positions *position.Manager, orders ports.OrderRepository, appLog ports.Logger) ([]*app.StrategyEngine, error) {
	instances, err := config.LoadInstances(cfg.StrategyFile)
	if err != nil {
		return nil, err
	}

	equity := app.BalanceEquity(gw, cfg.QuoteAsset)
	if cfg.AccountEquity > 0 {
		equity = app.FixedEquity(cfg.AccountEquity)
	}
	listener := app.NewLogListener(appLog)

	engines := make([]*app.StrategyEngine, 0, len(instances))
	for _, inst := range instances {
		strat, err := strategies.New(inst.Strategy, appLog, inst.Pairs)
		if err != nil {
			return nil, ports.NewConfigurationError("buildEngines", fmt.Errorf("instance %s: %w", inst.ID, err))
		}
		policy, err := domain.ParseBoundsPolicy(inst.BoundsPolicy)
		if err != nil {
			return nil, ports.NewConfigurationError("buildEngines", fmt.Errorf("instance %s: %w", inst.ID, err))
		}
		risk := inst.RiskFraction
		if risk == 0 {
			risk = cfg.RiskFraction
		}
		engine, err := app.NewStrategyEngine(app.EngineConfig{
			ID:           inst.ID,
			Strategy:     strat,
			Pairs:        inst.Pairs,
			Params:       inst.ParamsFor(strat.Config().Params),
			BoundsPolicy: policy,
			RiskFraction: risk,
			Equity:       equity,
			CancelOnStop: inst.CancelOnStop,
			Gateway:      gw,
			Positions:    positions,
			Orders:       orders,
			Listener:     listener,
			Logger:       appLog,
		})
		if err != nil {
			return nil, err
		}
		engines = append(engines, engine)
	}
	return engines, nil
}

// buildFeed selects the tick feed named by FEED.
func buildFeed(cfg *config.Config, appLog ports.Logger) (ports.TickFeed, error) {
	switch cfg.Feed {
	case config.FeedBinance:
		return binancefeed.New(binancefeed.Config{
			Interval:             cfg.BinanceInterval,
			FinalOnly:            cfg.BinanceFinalOnly,
			ReconnectDelay:       cfg.ReconnectDelay,
			MaxReconnectAttempts: cfg.MaxReconnectAttempts,
			Logger:               appLog,
		})
	default:
		return krakenws.New(krakenws.Config{
			URL:                  cfg.KrakenWSURL,
			ReconnectDelay:       cfg.ReconnectDelay,
			MaxReconnectAttempts: cfg.MaxReconnectAttempts,
			Logger:               appLog,
		})
	}
}
