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

// Watcher reloads a config file when it changes on disk. A reload that fails
// to parse or validate is logged and skipped, so [Watcher.Current] always
// returns a valid config.
type Watcher struct {
	path     string
	every    time.Duration
	onChange func(old, new *Config)
	log      *slog.Logger

	mu   sync.Mutex
	last snapshot
}

// snapshot is one successful read of the file.
type snapshot struct {
	cfg *Config
	sum [sha256.Size]byte
	mod time.Time
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets how often the file is checked. Default 5s.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.every = d
		}
	}
}

func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) { w.log = l }
}

// NewWatcher reads path once and fails if that read does not yield a valid
// config. onChange runs on the [Watcher.Run] goroutine after each accepted
// reload.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{path: path, every: 5 * time.Second, onChange: onChange, log: slog.Default()}
	for _, o := range opts {
		o(w)
	}
	snap, err := read(path)
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.last = snap
	return w, nil
}

// Current returns the last valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last.cfg
}

// Run checks the file every interval until ctx is done, then returns nil.
func (w *Watcher) Run(ctx context.Context) error {
	t := time.NewTicker(w.every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			w.poll()
		}
	}
}

func (w *Watcher) poll() {
	info, err := os.Stat(w.path)
	if err != nil {
		w.log.Warn("config: watch: stat failed", "path", w.path, "err", err)
		return
	}
	w.mu.Lock()
	prev := w.last
	w.mu.Unlock()
	if info.ModTime().Equal(prev.mod) {
		return
	}

	next, err := read(w.path)
	if err != nil {
		// Logged once per edit; the next edit is read again.
		w.mu.Lock()
		w.last.mod = info.ModTime()
		w.mu.Unlock()
		w.log.Warn("config: watch: keeping previous config", "path", w.path, "err", err)
		return
	}
	w.mu.Lock()
	w.last.mod = next.mod
	changed := next.sum != prev.sum
	if changed {
		w.last = next
	}
	w.mu.Unlock()
	if !changed {
		return
	}

	w.log.Info("config: reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(prev.cfg, next.cfg)
	}
}

func read(path string) (snapshot, error) {
	info, err := os.Stat(path)
	if err != nil {
		return snapshot{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return snapshot{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return snapshot{}, err
	}
	return snapshot{cfg: cfg, sum: sha256.Sum256(data), mod: info.ModTime()}, nil
}
