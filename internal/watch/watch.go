// Package watch reloads the config file when it changes and reports bridge
// address changes.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/rickgao/autobridge/internal/config"
)

// DefaultDebounce is the quiet period after the last write before reloading.
const DefaultDebounce = 250 * time.Millisecond

// Watcher watches one config file.
type Watcher struct {
	path      string
	debounce  time.Duration
	logger    *slog.Logger
	onAddress func(string)

	mu      sync.Mutex
	address string
	reloads int
}

// New creates a Watcher for path. address is the bridge address currently
// in use; onAddress is called with the new address whenever a reload changes
// it to a non-empty value.
func New(path, address string, debounce time.Duration, onAddress func(string), logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		path:      path,
		debounce:  debounce,
		logger:    logger.With("component", "watch"),
		onAddress: onAddress,
		address:   address,
	}
}

// Run watches until ctx is cancelled. The parent directory is watched so
// editors that replace the file by rename are followed.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	w.logger.Info("watching config", "path", w.path, "debounce", w.debounce)

	target := filepath.Clean(w.path)
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.AfterFunc(w.debounce, w.reload)
			} else {
				timer.Reset(w.debounce)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", "error", err)
		}
	}
}

// Address returns the last address seen.
func (w *Watcher) Address() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.address
}

// Reloads returns how many times the file was reloaded successfully.
func (w *Watcher) Reloads() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads
}

func (w *Watcher) reload() {
	cfg, err := config.LoadWithDefaults(w.path)
	if err != nil {
		w.logger.Warn("config reload failed", "path", w.path, "error", err)
		return
	}
	if err := cfg.Validate(); err != nil {
		w.logger.Warn("reloaded config is invalid", "path", w.path, "error", err)
		return
	}

	next := cfg.Bridge.Address

	w.mu.Lock()
	w.reloads++
	prev := w.address
	changed := next != "" && next != prev
	if changed {
		w.address = next
	}
	w.mu.Unlock()

	w.logger.Debug("config reloaded", "path", w.path)

	if changed {
		w.logger.Info("bridge address changed", "from", prev, "to", next)
		if w.onAddress != nil {
			w.onAddress(next)
		}
	}
}
