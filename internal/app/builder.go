package app

import (
	"context"
	"fmt"

	"marlin/internal/config"
	"marlin/internal/exchange"
	binexec "marlin/internal/executor/binance"
	"marlin/internal/executor/paper"
	bingw "marlin/internal/gateway/binance"
	"marlin/internal/ledger"
	"marlin/internal/logger"
	"marlin/internal/monitoring"
	"marlin/internal/orchestrator"
	"marlin/internal/risk"
	"marlin/internal/signal"
	"marlin/internal/store"
	"marlin/internal/store/gormstore"
)

// AppBuilder assembles the pipeline. The override hooks exist so tests
// can swap infrastructure without a config file.
type AppBuilder struct {
	cfg *config.Config

	storeOverride    store.Store
	sourceOverride   MarketSource
	executorOverride exchange.Executor
}

type AppBuilderOption func(*AppBuilder)

func WithStore(st store.Store) AppBuilderOption {
	return func(b *AppBuilder) { b.storeOverride = st }
}

func WithMarketSource(src MarketSource) AppBuilderOption {
	return func(b *AppBuilder) { b.sourceOverride = src }
}

func WithExecutor(ex exchange.Executor) AppBuilderOption {
	return func(b *AppBuilder) { b.executorOverride = ex }
}

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{cfg: cfg}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg

	st, closeStore, err := b.buildStore()
	if err != nil {
		return nil, err
	}

	book := ledger.New(st, cfg.App.InitialCapital)
	if err := book.Restore(ctx); err != nil {
		closeStore()
		return nil, fmt.Errorf("restore ledger: %w", err)
	}

	gate := risk.NewGate(cfg.Risk.ToLimits(), st)
	if err := gate.Restore(ctx); err != nil {
		closeStore()
		return nil, fmt.Errorf("restore risk state: %w", err)
	}

	source, err := b.buildSource()
	if err != nil {
		closeStore()
		return nil, err
	}

	executor, err := b.buildExecutor()
	if err != nil {
		closeStore()
		return nil, err
	}

	engine := buildSignalEngine(cfg.Signal)
	metrics := monitoring.NewMetrics()
	orch := orchestrator.New(orchestrator.Config{
		Strategy:     cfg.Signal.Strategy,
		Interval:     cfg.Market.CandleInterval,
		HistoryLimit: cfg.Market.HistoryLimit,
	}, source, engine, gate, book, executor, metrics)

	runner := NewRunner(cfg, orch, book, source, metrics)

	return &App{
		cfg:     cfg,
		runner:  runner,
		gate:    gate,
		metrics: metrics,
		closeFn: closeStore,
	}, nil
}

func (b *AppBuilder) buildStore() (store.Store, func(), error) {
	if b.storeOverride != nil {
		return b.storeOverride, func() {}, nil
	}
	st, err := gormstore.NewGormStore(b.cfg.Store.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	return st, func() { _ = st.Close() }, nil
}

func (b *AppBuilder) buildSource() (MarketSource, error) {
	if b.sourceOverride != nil {
		return b.sourceOverride, nil
	}
	src, err := bingw.New(bingw.Config{
		RESTBaseURL:       b.cfg.Market.RESTBaseURL,
		HTTPTimeout:       b.cfg.Market.HTTPTimeout,
		MaxConcurrent:     int64(b.cfg.Market.MaxConcurrent),
		RequestsPerSecond: b.cfg.Market.RequestsPerSecond,
		CacheTTL:          b.cfg.Market.CacheTTL,
		BreakerThreshold:  b.cfg.Market.BreakerThreshold,
		BreakerTimeout:    b.cfg.Market.BreakerTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("build market source: %w", err)
	}
	return src, nil
}

func (b *AppBuilder) buildExecutor() (exchange.Executor, error) {
	if b.executorOverride != nil {
		return b.executorOverride, nil
	}
	if b.cfg.Executor.DryRun {
		logger.Infof("executor running in dry-run mode, orders are simulated")
		return paper.NewExecutor(b.cfg.Executor.FeePct), nil
	}
	return binexec.NewExecutor(binexec.Config{
		APIKey:       b.cfg.Executor.APIKey,
		APISecret:    b.cfg.Executor.APISecret,
		RESTBaseURL:  b.cfg.Executor.RESTBaseURL,
		HTTPTimeout:  b.cfg.Executor.HTTPTimeout,
		DedupeWindow: b.cfg.Executor.DedupeWindow,
	})
}

func buildSignalEngine(cfg config.SignalConfig) *signal.Engine {
	rsi := signal.NewRSIStrategy(signal.RSIConfig{
		Period:     cfg.RSI.Period,
		Oversold:   cfg.RSI.Oversold,
		Overbought: cfg.RSI.Overbought,
	})
	macd := signal.NewMACDStrategy(signal.MACDConfig{
		FastPeriod:   cfg.MACD.FastPeriod,
		SlowPeriod:   cfg.MACD.SlowPeriod,
		SignalPeriod: cfg.MACD.SignalPeriod,
	})
	boll := signal.NewBollingerStrategy(signal.BollingerConfig{
		Period: cfg.Bollinger.Period,
		StdDev: cfg.Bollinger.StdDev,
	})
	return signal.NewEngine(rsi, macd, boll, signal.NewCombinedStrategy(rsi, macd, boll))
}
