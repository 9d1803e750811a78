package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const validYAML = `
app:
  symbols: ["BTC/USDT", "ETH/USDT"]
  run_interval: 1m
  initial_capital: 25000
  log_level: debug
market:
  candle_interval: 15m
  history_limit: 200
  max_concurrent: 10
signal:
  strategy: rsi
  rsi:
    period: 14
    oversold: 25
risk:
  max_position_pct: 8
  max_total_exposure_pct: 60
  overrides:
    BTC/USDT:
      max_position_pct: 12
executor:
  dry_run: true
store:
  path: /tmp/marlin-test.db
`

func TestLoad_ParsesAndAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, []string{"BTC/USDT", "ETH/USDT"}, cfg.App.Symbols)
	assert.Equal(t, time.Minute, cfg.App.RunInterval)
	assert.Equal(t, 25000.0, cfg.App.InitialCapital)
	assert.Equal(t, "15m", cfg.Market.CandleInterval)
	assert.Equal(t, "rsi", cfg.Signal.Strategy)
	assert.Equal(t, 25.0, cfg.Signal.RSI.Oversold)

	// Unset risk fields fall back to defaults.
	assert.Equal(t, 8.0, cfg.Risk.MaxPositionPct)
	assert.Equal(t, 3.0, cfg.Risk.MaxDailyDrawdownPct)
	assert.True(t, cfg.Executor.DryRun)
}

func TestLoad_CredentialsFromEnvironment(t *testing.T) {
	t.Setenv("BINANCE_API_KEY", "env-key")
	t.Setenv("BINANCE_API_SECRET", "env-secret")

	yaml := `
executor:
  dry_run: false
store:
  path: /tmp/marlin-test.db
`
	cfg, err := Load(writeConfig(t, yaml))
	require.NoError(t, err)
	assert.Equal(t, "env-key", cfg.Executor.APIKey)
	assert.Equal(t, "env-secret", cfg.Executor.APISecret)
}

func TestLoad_RejectsLiveModeWithoutCredentials(t *testing.T) {
	yaml := `
executor:
  dry_run: false
`
	_, err := Load(writeConfig(t, yaml))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_key")
}

func TestLoad_SchemaRejectsBadRiskSection(t *testing.T) {
	yaml := `
executor:
  dry_run: true
risk:
  max_position_pct: 150
`
	_, err := Load(writeConfig(t, yaml))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema")

	yaml = `
executor:
  dry_run: true
risk:
  overrides:
    BTC/USDT:
      max_position_pct: -1
`
	_, err = Load(writeConfig(t, yaml))
	assert.Error(t, err)
}

func TestLoad_RejectsPositionCapAboveExposureCap(t *testing.T) {
	yaml := `
executor:
  dry_run: true
risk:
  max_position_pct: 40
  max_total_exposure_pct: 20
`
	_, err := Load(writeConfig(t, yaml))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_position_pct")
}

func TestRiskConfig_ToLimits(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	limits := cfg.Risk.ToLimits()
	assert.Equal(t, 8.0, limits.MaxPositionPct)
	assert.Equal(t, 60.0, limits.MaxTotalExposurePct)
	require.Contains(t, limits.Overrides, "BTC/USDT")
	assert.Equal(t, 12.0, limits.Overrides["BTC/USDT"].MaxPositionPct)
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	path := writeConfig(t, validYAML)

	reloaded := make(chan RiskConfig, 1)
	w := NewWatcher(path, func(rc RiskConfig) {
		select {
		case reloaded <- rc:
		default:
		}
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	require.NoError(t, os.WriteFile(path, []byte(validYAML+"\n"), 0o644))

	select {
	case rc := <-reloaded:
		assert.Equal(t, 8.0, rc.MaxPositionPct)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not fire")
	}
}

func TestWatcher_KeepsLimitsOnBrokenFile(t *testing.T) {
	path := writeConfig(t, validYAML)

	fired := make(chan struct{}, 1)
	w := NewWatcher(path, func(RiskConfig) {
		select {
		case fired <- struct{}{}:
		default:
		}
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	require.NoError(t, os.WriteFile(path, []byte("risk:\n  max_position_pct: 150\nexecutor:\n  dry_run: true\n"), 0o644))

	select {
	case <-fired:
		t.Fatal("callback fired for an invalid config")
	case <-time.After(2 * time.Second):
	}
}
