package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is how often a [Watcher] polls without [WithInterval].
const DefaultWatchInterval = 5 * time.Second

// ReloadFunc receives the difference to the previous config and the new one.
// It runs on the watcher's goroutine.
type ReloadFunc func(diff ConfigDiff, cfg *Config)

// Watcher reloads a config file when its content changes. Edits that fail to
// parse or validate are logged and skipped; the last good config stays.
type Watcher struct {
	path     string
	interval time.Duration
	onReload ReloadFunc

	mu      sync.Mutex
	current *Config
	sum     [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path once. Polling starts with [Watcher.Watch].
func NewWatcher(path string, onReload ReloadFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{path: path, interval: DefaultWatchInterval, onReload: onReload}
	for _, opt := range opts {
		opt(w)
	}
	cfg, sum, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.current, w.sum = cfg, sum
	return w, nil
}

// Current returns the last config that loaded cleanly.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Watch polls until ctx ends and returns ctx.Err().
func (w *Watcher) Watch(ctx context.Context) error {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if _, err := w.Check(); err != nil {
				slog.Warn("config: reload skipped", "path", w.path, "err", err)
			}
		}
	}
}

// Check reads the file once. It reports whether a new config was adopted;
// rewriting identical bytes adopts nothing. The reload callback runs before
// Check returns, and only for non-empty diffs.
func (w *Watcher) Check() (bool, error) {
	cfg, sum, err := w.read()
	if err != nil {
		return false, err
	}

	w.mu.Lock()
	if sum == w.sum {
		w.mu.Unlock()
		return false, nil
	}
	prev := w.current
	w.current, w.sum = cfg, sum
	w.mu.Unlock()

	diff := Diff(prev, cfg)
	slog.Info("config: reloaded", "path", w.path, "restart_required", diff.RestartRequired)
	if w.onReload != nil && !diff.Empty() {
		w.onReload(diff, cfg)
	}
	return true, nil
}

func (w *Watcher) read() (*Config, [sha256.Size]byte, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, [sha256.Size]byte{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, [sha256.Size]byte{}, err
	}
	return cfg, sha256.Sum256(data), nil
}
