package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"marlin/internal/config"
	"marlin/internal/logger"
	"marlin/internal/monitoring"
	"marlin/internal/orchestrator"
	"marlin/internal/risk"
)

// App wires the pipeline together and owns its lifecycle: the trading
// loop, the metrics endpoint, and the config watcher.
type App struct {
	cfg     *config.Config
	runner  *Runner
	gate    *risk.Gate
	metrics *monitoring.Metrics
	watcher *config.Watcher
	closeFn func()
}

// NewApp builds the application from config without starting it. When
// configPath is set, the risk limits hot-reload on file changes.
func NewApp(cfg *config.Config, configPath string) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	app, err := buildAppWithWire(context.Background(), cfg)
	if err != nil {
		return nil, err
	}
	if configPath != "" && app.gate != nil {
		gate := app.gate
		app.watcher = config.NewWatcher(configPath, func(rc config.RiskConfig) {
			gate.UpdateLimits(rc.ToLimits())
		})
	}
	return app, nil
}

// Run starts every component and blocks until ctx is canceled or a
// component fails.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil || a.runner == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.close()

	group, ctx := errgroup.WithContext(ctx)

	if a.cfg.Monitoring.Enabled {
		group.Go(func() error {
			return a.serveMetrics(ctx)
		})
	}
	if a.watcher != nil {
		if err := a.watcher.Start(ctx); err != nil {
			logger.Warnf("config watcher disabled: %v", err)
		}
	}
	group.Go(func() error {
		return a.runner.Run(ctx)
	})

	return group.Wait()
}

// RunOnce executes a single pass over all configured symbols, for one
// shot invocations and tests.
func (a *App) RunOnce(ctx context.Context) []orchestrator.Decision {
	return a.runner.RunOnce(ctx)
}

func (a *App) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	srv := &http.Server{Addr: a.cfg.Monitoring.ListenAddr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("metrics listening on %s", a.cfg.Monitoring.ListenAddr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return fmt.Errorf("metrics server error: %w", err)
	}
}

func (a *App) close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
