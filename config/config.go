package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"krakenBot/internal/adapters/logger" // Import the logger package for LogLevel
	"krakenBot/internal/ports"
)

// Tick feeds selectable through FEED.
const (
	FeedKraken  = "kraken"
	FeedBinance = "binance"
)

// Config holds all application configuration.
type Config struct {
	// Kraken API
	APIKey         string
	APISecret      string // Base64 encoded
	BaseURL        string
	RequestTimeout time.Duration
	MaxRetries     int

	// Market data
	Feed                 string // "kraken" or "binance"
	KrakenWSURL          string
	BinanceInterval      string
	BinanceFinalOnly     bool
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int

	// Risk
	RiskFraction     float64 // Default per-instance risk fraction
	AccountEquity    float64 // Fixed sizing equity; 0 reads the QuoteAsset balance
	QuoteAsset       string
	MaxOpenPositions int
	MaxNotional      float64

	// Engine
	StrategyFile      string
	ReconcileInterval time.Duration
	ShutdownTimeout   time.Duration

	// Database
	DBPath string

	// Logging
	LogLevel  logger.LogLevel
	LogFormat string
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	// Kraken API. Credentials are checked by RequireCredentials so public
	// commands work without them.
	cfg.APIKey = getEnv("KRAKEN_API_KEY", "")
	cfg.APISecret = getEnv("KRAKEN_API_SECRET", "")
	cfg.BaseURL = getEnv("KRAKEN_BASE_URL", "https://api.kraken.com")

	timeoutSeconds, err := getEnvAsIntRequired("REQUEST_TIMEOUT_SECONDS", 10)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid REQUEST_TIMEOUT_SECONDS: %v", err))
	} else if timeoutSeconds <= 0 {
		errs = append(errs, "REQUEST_TIMEOUT_SECONDS must be positive")
	}
	cfg.RequestTimeout = time.Duration(timeoutSeconds) * time.Second

	cfg.MaxRetries, err = getEnvAsIntRequired("MAX_RETRIES", 3)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_RETRIES: %v", err))
	} else if cfg.MaxRetries < 0 {
		errs = append(errs, "MAX_RETRIES cannot be negative")
	}

	// Market data
	cfg.Feed = strings.ToLower(getEnv("FEED", FeedKraken))
	if cfg.Feed != FeedKraken && cfg.Feed != FeedBinance {
		errs = append(errs, fmt.Sprintf("FEED must be %q or %q", FeedKraken, FeedBinance))
	}
	cfg.KrakenWSURL = getEnv("KRAKEN_WS_URL", "wss://ws.kraken.com/v2")
	cfg.BinanceInterval = getEnv("BINANCE_KLINE_INTERVAL", "1m")
	cfg.BinanceFinalOnly = getEnvAsBool("BINANCE_FINAL_ONLY", true)

	reconnectDelaySeconds := getEnvAsInt("RECONNECT_DELAY_SECONDS", 1)
	if reconnectDelaySeconds <= 0 {
		errs = append(errs, "RECONNECT_DELAY_SECONDS must be positive")
	}
	cfg.ReconnectDelay = time.Duration(reconnectDelaySeconds) * time.Second

	cfg.MaxReconnectAttempts = getEnvAsInt("MAX_RECONNECT_ATTEMPTS", 10)
	if cfg.MaxReconnectAttempts < 0 {
		errs = append(errs, "MAX_RECONNECT_ATTEMPTS cannot be negative")
	}

	// Risk
	cfg.RiskFraction, err = getEnvAsFloatRequired("RISK_FRACTION", 0.01)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid RISK_FRACTION: %v", err))
	} else if cfg.RiskFraction <= 0 || cfg.RiskFraction > 1.0 {
		errs = append(errs, "RISK_FRACTION must be in (0, 1]")
	}

	cfg.AccountEquity, err = getEnvAsFloatRequired("ACCOUNT_EQUITY", 0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid ACCOUNT_EQUITY: %v", err))
	} else if cfg.AccountEquity < 0 {
		errs = append(errs, "ACCOUNT_EQUITY cannot be negative")
	}
	cfg.QuoteAsset = getEnv("QUOTE_ASSET", "ZUSD")

	cfg.MaxOpenPositions = getEnvAsInt("MAX_OPEN_POSITIONS", 0)
	if cfg.MaxOpenPositions < 0 {
		errs = append(errs, "MAX_OPEN_POSITIONS cannot be negative")
	}
	cfg.MaxNotional = getEnvAsFloat("MAX_NOTIONAL", 0)
	if cfg.MaxNotional < 0 {
		errs = append(errs, "MAX_NOTIONAL cannot be negative")
	}

	// Engine
	cfg.StrategyFile = getEnv("STRATEGY_FILE", "./strategies.yaml")
	reconcileSeconds := getEnvAsInt("RECONCILE_INTERVAL_SECONDS", 30)
	if reconcileSeconds < 0 {
		cfg.ReconcileInterval = -1 // Disabled
	} else {
		cfg.ReconcileInterval = time.Duration(reconcileSeconds) * time.Second
	}
	cfg.ShutdownTimeout = time.Duration(getEnvAsInt("SHUTDOWN_TIMEOUT_SECONDS", 5)) * time.Second

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/kraken_bot.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	// Logging
	logLevelStr := getEnv("LOG_LEVEL", "INFO")
	cfg.LogLevel = logger.ParseLevel(logLevelStr) // Use the parser from the logger package
	cfg.LogFormat = strings.ToLower(getEnv("LOG_FORMAT", "json"))
	if cfg.LogFormat != "json" && cfg.LogFormat != "console" {
		errs = append(errs, "LOG_FORMAT must be json or console")
	}

	// Combine validation errors
	if len(errs) > 0 {
		return nil, ports.NewConfigurationError("LoadConfig", fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; ")))
	}

	return cfg, nil
}

// RequireCredentials reports a ConfigurationError unless both API credentials
// are set. Trading mode needs them; public queries do not.
func (c *Config) RequireCredentials() error {
	var missing []string
	if c.APIKey == "" {
		missing = append(missing, "KRAKEN_API_KEY must be set")
	}
	if c.APISecret == "" {
		missing = append(missing, "KRAKEN_API_SECRET must be set")
	}
	if len(missing) > 0 {
		return ports.NewConfigurationError("RequireCredentials", errors.New(strings.Join(missing, "; ")))
	}
	return nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		// Use default if env var is not set at all
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
