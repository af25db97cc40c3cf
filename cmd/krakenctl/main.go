// krakenctl - operator commands for the Kraken trading bot
package main

import (
	"context"
	"fmt"
	"os"

	"krakenBot/config"
	"krakenBot/internal/adapters/kraken"
	"krakenBot/internal/adapters/logger"
	"krakenBot/internal/adapters/sqlite"
	"krakenBot/internal/ports"
)

func main() {
	rootCmd := newRootCmd(liveDeps())
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// liveDeps opens the configured database and Kraken client on demand.
func liveDeps() deps {
	return deps{
		gateway: func(ctx context.Context) (ports.ExchangeGateway, func(), error) {
			cfg, appLogger, err := loadEnv()
			if err != nil {
				return nil, nil, err
			}
			repo, err := sqlite.NewRepository(sqlite.Config{DBPath: cfg.DBPath, Logger: appLogger})
			if err != nil {
				return nil, nil, err
			}
			client, err := kraken.New(kraken.Config{
				APIKey:         cfg.APIKey,
				APISecret:      cfg.APISecret,
				BaseURL:        cfg.BaseURL,
				RequestTimeout: cfg.RequestTimeout,
				MaxRetries:     cfg.MaxRetries,
				Logger:         appLogger,
				NonceStore:     repo,
			})
			if err != nil {
				repo.Close()
				return nil, nil, err
			}
			return client, func() {
				client.Close()
				repo.Close()
				_ = appLogger.Sync()
			}, nil
		},
		trades: func(ctx context.Context) (ports.TradeRepository, func(), error) {
			cfg, appLogger, err := loadEnv()
			if err != nil {
				return nil, nil, err
			}
			repo, err := sqlite.NewRepository(sqlite.Config{DBPath: cfg.DBPath, Logger: appLogger})
			if err != nil {
				return nil, nil, err
			}
			return repo, func() {
				repo.Close()
				_ = appLogger.Sync()
			}, nil
		},
	}
}

func loadEnv() (*config.Config, *logger.ZapLogger, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	// Operator output goes to stdout; keep the log on stderr quiet.
	level := cfg.LogLevel
	if level < logger.LevelWarn {
		level = logger.LevelWarn
	}
	appLogger, err := logger.NewZapLogger(logger.Config{Level: level, Format: "console", OutputPaths: []string{"stderr"}})
	if err != nil {
		return nil, nil, err
	}
	return cfg, appLogger, nil
}
