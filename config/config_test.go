package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"krakenBot/internal/adapters/logger"
	"krakenBot/internal/domain"
	"krakenBot/internal/ports"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("KRAKEN_API_KEY", "")
	t.Setenv("KRAKEN_API_SECRET", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "https://api.kraken.com", cfg.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, FeedKraken, cfg.Feed)
	assert.Equal(t, 0.01, cfg.RiskFraction)
	assert.Equal(t, "ZUSD", cfg.QuoteAsset)
	assert.Equal(t, 30*time.Second, cfg.ReconcileInterval)
	assert.Equal(t, logger.LevelInfo, cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)

	err = cfg.RequireCredentials()
	assert.ErrorIs(t, err, ports.ErrConfiguration)
	assert.Contains(t, err.Error(), "KRAKEN_API_KEY")
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("KRAKEN_API_KEY", "key")
	t.Setenv("KRAKEN_API_SECRET", "c2VjcmV0")
	t.Setenv("FEED", "Binance")
	t.Setenv("RISK_FRACTION", "0.02")
	t.Setenv("RECONCILE_INTERVAL_SECONDS", "-1")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "console")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, FeedBinance, cfg.Feed)
	assert.Equal(t, 0.02, cfg.RiskFraction)
	assert.Negative(t, cfg.ReconcileInterval)
	assert.Equal(t, logger.LevelDebug, cfg.LogLevel)
	assert.Equal(t, "console", cfg.LogFormat)
	assert.NoError(t, cfg.RequireCredentials())
}

func TestLoadConfig_CollectsValidationErrors(t *testing.T) {
	t.Setenv("FEED", "coinbase")
	t.Setenv("RISK_FRACTION", "1.5")
	t.Setenv("MAX_RETRIES", "many")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrConfiguration)
	assert.Contains(t, err.Error(), "FEED")
	assert.Contains(t, err.Error(), "RISK_FRACTION")
	assert.Contains(t, err.Error(), "MAX_RETRIES")
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadInstances(t *testing.T) {
	path := writeFile(t, "strategies.yaml", `
instances:
  - id: btc-cross
    strategy: ma_crossover
    pairs: [XBTUSD]
    params:
      fastPeriod: 5
      slowPeriod: 20
      useEMA: true
    boundsPolicy: clamp
    riskFraction: 0.005
    cancelOnStop: true
  - id: eth-cross
    strategy: ma_crossover
    pairs: [ETHUSD, ETHEUR]
`)
	instances, err := LoadInstances(path)
	require.NoError(t, err)
	require.Len(t, instances, 2)

	btc := instances[0]
	assert.Equal(t, "btc-cross", btc.ID)
	assert.Equal(t, "ma_crossover", btc.Strategy)
	assert.Equal(t, []string{"XBTUSD"}, btc.Pairs)
	assert.Equal(t, "clamp", btc.BoundsPolicy)
	assert.Equal(t, 0.005, btc.RiskFraction)
	assert.True(t, btc.CancelOnStop)

	specs := map[string]domain.ParamSpec{
		"fastPeriod": {Type: domain.ParamInt},
		"slowPeriod": {Type: domain.ParamInt},
		"useEMA":     {Type: domain.ParamBool},
	}
	assert.Equal(t, map[string]float64{"fastPeriod": 5, "slowPeriod": 20, "useEMA": 1}, btc.ParamsFor(specs))

	eth := instances[1]
	assert.Equal(t, []string{"ETHUSD", "ETHEUR"}, eth.Pairs)
	assert.Empty(t, eth.ParamsFor(specs))
	assert.False(t, eth.CancelOnStop)
}

func TestLoadInstances_Invalid(t *testing.T) {
	_, err := LoadInstances(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, ports.ErrConfiguration)

	empty := writeFile(t, "empty.yaml", "instances: []\n")
	_, err = LoadInstances(empty)
	assert.ErrorIs(t, err, ports.ErrConfiguration)

	bad := writeFile(t, "bad.yaml", `
instances:
  - id: a
    strategy: ma_crossover
    pairs: [XBTUSD]
    boundsPolicy: wrap
  - id: a
    pairs: []
`)
	_, err = LoadInstances(bad)
	require.ErrorIs(t, err, ports.ErrConfiguration)
	assert.Contains(t, err.Error(), "unknown bounds policy")
	assert.Contains(t, err.Error(), "duplicate id")
	assert.Contains(t, err.Error(), "strategy must be set")
	assert.Contains(t, err.Error(), "at least one pair")
}

func TestParamsFor_KeepsUnknownNames(t *testing.T) {
	inst := InstanceConfig{Params: map[string]float64{"fastperiod": 3, "lookback": 9}}
	got := inst.ParamsFor(map[string]domain.ParamSpec{"fastPeriod": {Type: domain.ParamInt}})
	assert.Equal(t, map[string]float64{"fastPeriod": 3, "lookback": 9}, got)
}
