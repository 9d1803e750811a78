package config

import (
	"fmt"
	"strings"
	"time"

	"marlin/internal/risk"
)

// Config is the full application configuration, loaded from YAML with
// environment overrides for credentials.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Market     MarketConfig     `mapstructure:"market"`
	Signal     SignalConfig     `mapstructure:"signal"`
	Risk       RiskConfig       `mapstructure:"risk"`
	Executor   ExecutorConfig   `mapstructure:"executor"`
	Store      StoreConfig      `mapstructure:"store"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

type AppConfig struct {
	Symbols        []string      `mapstructure:"symbols"`
	RunInterval    time.Duration `mapstructure:"run_interval"`
	InitialCapital float64       `mapstructure:"initial_capital"`
	LogLevel       string        `mapstructure:"log_level"`
	LogPath        string        `mapstructure:"log_path"`
}

func (c *AppConfig) applyDefaults() {
	if len(c.Symbols) == 0 {
		c.Symbols = []string{"BTC/USDT"}
	}
	if c.RunInterval <= 0 {
		c.RunInterval = 5 * time.Minute
	}
	if c.InitialCapital <= 0 {
		c.InitialCapital = 10000
	}
	if strings.TrimSpace(c.LogLevel) == "" {
		c.LogLevel = "info"
	}
}

func (c *AppConfig) validate() error {
	for _, sym := range c.Symbols {
		if strings.TrimSpace(sym) == "" {
			return fmt.Errorf("app.symbols contains an empty entry")
		}
	}
	return nil
}

type MarketConfig struct {
	RESTBaseURL       string        `mapstructure:"rest_base_url"`
	HTTPTimeout       time.Duration `mapstructure:"http_timeout"`
	MaxConcurrent     int           `mapstructure:"max_concurrent"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	CacheTTL          time.Duration `mapstructure:"cache_ttl"`
	BreakerThreshold  int           `mapstructure:"breaker_threshold"`
	BreakerTimeout    time.Duration `mapstructure:"breaker_timeout"`
	CandleInterval    string        `mapstructure:"candle_interval"`
	HistoryLimit      int           `mapstructure:"history_limit"`
}

func (c *MarketConfig) applyDefaults() {
	if strings.TrimSpace(c.CandleInterval) == "" {
		c.CandleInterval = "1h"
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 100
	}
}

func (c *MarketConfig) validate() error {
	if c.MaxConcurrent < 0 || c.MaxConcurrent > 20 {
		return fmt.Errorf("market.max_concurrent must be between 0 and 20")
	}
	return nil
}

type SignalConfig struct {
	Strategy  string          `mapstructure:"strategy"`
	RSI       RSIConfig       `mapstructure:"rsi"`
	MACD      MACDConfig      `mapstructure:"macd"`
	Bollinger BollingerConfig `mapstructure:"bollinger"`
}

type RSIConfig struct {
	Period     int     `mapstructure:"period"`
	Oversold   float64 `mapstructure:"oversold"`
	Overbought float64 `mapstructure:"overbought"`
}

type MACDConfig struct {
	FastPeriod   int `mapstructure:"fast_period"`
	SlowPeriod   int `mapstructure:"slow_period"`
	SignalPeriod int `mapstructure:"signal_period"`
}

type BollingerConfig struct {
	Period int     `mapstructure:"period"`
	StdDev float64 `mapstructure:"std_dev"`
}

func (c *SignalConfig) applyDefaults() {
	if strings.TrimSpace(c.Strategy) == "" {
		c.Strategy = "combined"
	}
}

func (c *SignalConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Strategy)) {
	case "rsi", "macd", "bollinger", "combined":
		return nil
	default:
		return fmt.Errorf("signal.strategy %q is not one of rsi, macd, bollinger, combined", c.Strategy)
	}
}

type RiskConfig struct {
	MaxPositionPct         float64                   `mapstructure:"max_position_pct"`
	MaxTotalExposurePct    float64                   `mapstructure:"max_total_exposure_pct"`
	MaxDailyDrawdownPct    float64                   `mapstructure:"max_daily_drawdown_pct"`
	MaxTotalDrawdownPct    float64                   `mapstructure:"max_total_drawdown_pct"`
	VolatilityThresholdPct float64                   `mapstructure:"volatility_threshold_pct"`
	VolatilityScale        float64                   `mapstructure:"volatility_scale"`
	VolatilityLookback     int                       `mapstructure:"volatility_lookback"`
	Overrides              map[string]SymbolOverride `mapstructure:"overrides"`
}

type SymbolOverride struct {
	MaxPositionPct float64 `mapstructure:"max_position_pct"`
}

func (c *RiskConfig) applyDefaults() {
	def := risk.DefaultLimits()
	if c.MaxPositionPct <= 0 {
		c.MaxPositionPct = def.MaxPositionPct
	}
	if c.MaxTotalExposurePct <= 0 {
		c.MaxTotalExposurePct = def.MaxTotalExposurePct
	}
	if c.MaxDailyDrawdownPct <= 0 {
		c.MaxDailyDrawdownPct = def.MaxDailyDrawdownPct
	}
	if c.MaxTotalDrawdownPct <= 0 {
		c.MaxTotalDrawdownPct = def.MaxTotalDrawdownPct
	}
	if c.VolatilityThresholdPct <= 0 {
		c.VolatilityThresholdPct = def.VolatilityThresholdPct
	}
	if c.VolatilityScale <= 0 {
		c.VolatilityScale = def.VolatilityScale
	}
	if c.VolatilityLookback <= 0 {
		c.VolatilityLookback = def.VolatilityLookback
	}
}

func (c *RiskConfig) validate() error {
	if c.MaxPositionPct > 100 || c.MaxTotalExposurePct > 100 {
		return fmt.Errorf("risk percentages cannot exceed 100")
	}
	if c.MaxPositionPct > c.MaxTotalExposurePct {
		return fmt.Errorf("risk.max_position_pct cannot exceed risk.max_total_exposure_pct")
	}
	if c.VolatilityScale > 1 {
		return fmt.Errorf("risk.volatility_scale must be in (0, 1]")
	}
	for sym, o := range c.Overrides {
		if o.MaxPositionPct <= 0 || o.MaxPositionPct > 100 {
			return fmt.Errorf("risk.overrides.%s.max_position_pct must be in (0, 100]", sym)
		}
	}
	return nil
}

// ToLimits converts the config section into the risk gate's runtime
// thresholds.
func (c RiskConfig) ToLimits() risk.Limits {
	limits := risk.Limits{
		MaxPositionPct:         c.MaxPositionPct,
		MaxTotalExposurePct:    c.MaxTotalExposurePct,
		MaxDailyDrawdownPct:    c.MaxDailyDrawdownPct,
		MaxTotalDrawdownPct:    c.MaxTotalDrawdownPct,
		VolatilityThresholdPct: c.VolatilityThresholdPct,
		VolatilityScale:        c.VolatilityScale,
		VolatilityLookback:     c.VolatilityLookback,
	}
	if len(c.Overrides) > 0 {
		limits.Overrides = make(map[string]risk.SymbolLimits, len(c.Overrides))
		for sym, o := range c.Overrides {
			limits.Overrides[strings.ToUpper(strings.TrimSpace(sym))] = risk.SymbolLimits{
				MaxPositionPct: o.MaxPositionPct,
			}
		}
	}
	return limits
}

type ExecutorConfig struct {
	DryRun       bool          `mapstructure:"dry_run"`
	APIKey       string        `mapstructure:"api_key"`
	APISecret    string        `mapstructure:"api_secret"`
	RESTBaseURL  string        `mapstructure:"rest_base_url"`
	HTTPTimeout  time.Duration `mapstructure:"http_timeout"`
	DedupeWindow time.Duration `mapstructure:"dedupe_window"`
	FeePct       float64       `mapstructure:"fee_pct"`
}

func (c *ExecutorConfig) applyDefaults() {
	if c.FeePct < 0 {
		c.FeePct = 0
	}
}

func (c *ExecutorConfig) validate() error {
	if c.DryRun {
		return nil
	}
	if strings.TrimSpace(c.APIKey) == "" || strings.TrimSpace(c.APISecret) == "" {
		return fmt.Errorf("executor requires api_key and api_secret unless dry_run is set")
	}
	return nil
}

type StoreConfig struct {
	Path string `mapstructure:"path"`
}

func (c *StoreConfig) applyDefaults() {
	if strings.TrimSpace(c.Path) == "" {
		c.Path = "data/marlin.db"
	}
}

type MonitoringConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

func (c *MonitoringConfig) applyDefaults() {
	if strings.TrimSpace(c.ListenAddr) == "" {
		c.ListenAddr = ":9108"
	}
}

func (c *Config) applyDefaults() {
	c.App.applyDefaults()
	c.Market.applyDefaults()
	c.Signal.applyDefaults()
	c.Risk.applyDefaults()
	c.Executor.applyDefaults()
	c.Store.applyDefaults()
	c.Monitoring.applyDefaults()
}

func (c *Config) validate() error {
	if err := c.App.validate(); err != nil {
		return err
	}
	if err := c.Market.validate(); err != nil {
		return err
	}
	if err := c.Signal.validate(); err != nil {
		return err
	}
	if err := c.Risk.validate(); err != nil {
		return err
	}
	return c.Executor.validate()
}
