package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reloads the config file on change and reports the new trading
// section through the callback. Consumers decide when a staged update is
// safe to apply; the watcher only validates and delivers.
type Watcher struct {
	path     string
	cooldown time.Duration
	log      *zap.Logger
}

func NewWatcher(path string, cfg WatchConfig, log *zap.Logger) *Watcher {
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = 5 * time.Second
	}
	return &Watcher{path: path, cooldown: cooldown, log: log}
}

// Start watches until ctx is cancelled. Editors often replace the file
// instead of writing in place, so the parent directory is watched and
// events are filtered by name.
func (w *Watcher) Start(ctx context.Context, onUpdate func(TradingConfig)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}
	go w.run(ctx, watcher, onUpdate)
	return nil
}

func (w *Watcher) run(ctx context.Context, watcher *fsnotify.Watcher, onUpdate func(TradingConfig)) {
	defer watcher.Close()
	var lastReload time.Time
	target := filepath.Clean(w.path)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if time.Since(lastReload) < w.cooldown {
				continue
			}
			lastReload = time.Now()
			cfg, err := Load(w.path)
			if err != nil {
				w.log.Warn("config reload failed", zap.Error(err))
				continue
			}
			w.log.Info("config reloaded", zap.String("path", w.path))
			if onUpdate != nil {
				onUpdate(cfg.Trading)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("config watch error", zap.Error(err))
		}
	}
}
