package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"marlin/internal/logger"
)

// debounceWindow absorbs editor save storms into one reload.
const debounceWindow = 500 * time.Millisecond

// Watcher re-reads the config file on change and pushes the new risk
// limits to the registered callback. Only the risk section is hot;
// everything else requires a restart.
type Watcher struct {
	path     string
	onReload func(RiskConfig)

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	timer   *time.Timer
}

func NewWatcher(path string, onReload func(RiskConfig)) *Watcher {
	return &Watcher{path: path, onReload: onReload}
}

// Start watches the config directory until ctx is canceled. Watching
// the directory instead of the file survives rename-based saves.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		fsw.Close()
		return err
	}
	w.mu.Lock()
	w.watcher = fsw
	w.mu.Unlock()

	go w.loop(ctx, fsw)
	logger.Infof("config watcher started for %s", w.path)
	return nil
}

func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher) {
	defer fsw.Close()
	target := filepath.Clean(w.path)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload()
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			logger.Warnf("config watcher error: %v", err)
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(debounceWindow, w.reload)
}

// reload re-parses the whole file so the risk section is validated in
// context; a broken file keeps the previous limits.
func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		logger.Errorf("config reload rejected, keeping previous limits: %v", err)
		return
	}
	logger.Infof("config reloaded, applying risk limits")
	if w.onReload != nil {
		w.onReload(cfg.Risk)
	}
}
