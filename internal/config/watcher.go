package config

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Watcher polls a config file and reports edits that produce a new valid
// config. An invalid edit is logged and the previous config stays current.
// Sessions read [Watcher.Current] when they start, so a change never alters a
// running session.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config, d ConfigDiff)

	mu      sync.Mutex
	current *Config
	mtime   time.Time
	hash    [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithOnChange registers fn to run after each successful reload. fn runs on
// the polling goroutine, outside the watcher's lock.
func WithOnChange(fn func(old, new *Config, d ConfigDiff)) WatcherOption {
	return func(w *Watcher) { w.onChange = fn }
}

// NewWatcher loads path once and returns a Watcher holding it. Polling starts
// with [Watcher.Run].
func NewWatcher(path string, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{path: path, interval: 5 * time.Second}
	for _, opt := range opts {
		opt(w)
	}

	data, info, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	cfg, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current = cfg
	w.mtime = info.ModTime()
	w.hash = sha256.Sum256(data)
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run polls until ctx is cancelled and always returns nil.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := w.Reload(); err != nil {
				slog.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
			}
		}
	}
}

// Reload checks the file once. It reports whether a new config was installed.
// A file whose mtime or content is unchanged is not parsed again, so an
// invalid edit is reported once.
func (w *Watcher) Reload() (bool, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return false, err
	}
	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.mtime)
	w.mu.Unlock()
	if unchanged {
		return false, nil
	}

	data, info, err := w.read()
	if err != nil {
		return false, err
	}
	hash := sha256.Sum256(data)

	w.mu.Lock()
	if hash == w.hash {
		w.mtime = info.ModTime()
		w.mu.Unlock()
		return false, nil
	}
	w.mu.Unlock()

	cfg, err := parse(data)

	w.mu.Lock()
	w.mtime = info.ModTime()
	w.hash = hash
	if err != nil {
		w.mu.Unlock()
		return false, err
	}
	old := w.current
	w.current = cfg
	w.mu.Unlock()

	d := Diff(old, cfg)
	slog.Info("config watcher: configuration reloaded",
		"path", w.path,
		"persona_changed", d.PersonaChanged,
		"live_changed", d.LiveChanged,
		"log_level_changed", d.LogLevelChanged,
	)
	if w.onChange != nil {
		w.onChange(old, cfg, d)
	}
	return true, nil
}

func (w *Watcher) read() ([]byte, os.FileInfo, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, nil, err
	}
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, nil, err
	}
	return data, info, nil
}
