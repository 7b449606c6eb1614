package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is how often a [Watcher] polls its file.
const DefaultWatchInterval = 5 * time.Second

// Watcher polls a config file and reports effective changes. An edit that
// fails to parse or validate is logged once and ignored; the previous config
// stays current. Edits that do not change any setting (comments, key order)
// are absorbed without calling back.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	mu      sync.Mutex
	current *Config
	seen    fileStamp
	applied [sha256.Size]byte
	broken  [sha256.Size]byte

	quit     chan struct{}
	exited   chan struct{}
	stopOnce sync.Once
}

// fileStamp is the cheap part of the change check.
type fileStamp struct {
	mtime time.Time
	size  int64
}

func stampOf(fi os.FileInfo) fileStamp {
	return fileStamp{mtime: fi.ModTime(), size: fi.Size()}
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Non-positive values keep
// [DefaultWatchInterval].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path and starts polling it. onChange may be nil; it runs
// on the polling goroutine, never concurrently with itself.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		onChange: onChange,
		quit:     make(chan struct{}),
		exited:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}
	w.current = cfg
	w.seen = stampOf(fi)
	w.applied = sha256.Sum256(data)

	go w.loop()
	return w, nil
}

// Current returns the most recently applied config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop ends polling and waits for an in-flight callback to return. It is safe
// to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.quit) })
	<-w.exited
}

func (w *Watcher) loop() {
	defer close(w.exited)
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-w.quit:
			return
		case <-t.C:
			w.poll()
		}
	}
}

// poll compares the file stamp, then the content hash, then the effective
// settings, and calls back only when a setting changed.
func (w *Watcher) poll() {
	fi, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
		return
	}
	stamp := stampOf(fi)
	w.mu.Lock()
	unchanged := stamp == w.seen
	w.mu.Unlock()
	if unchanged {
		return
	}

	data, err := os.ReadFile(w.path)
	if err != nil {
		slog.Warn("config watcher: cannot read file", "path", w.path, "err", err)
		return
	}
	sum := sha256.Sum256(data)

	w.mu.Lock()
	w.seen = stamp
	if sum == w.applied || sum == w.broken {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	next, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		w.mu.Lock()
		w.broken = sum
		w.mu.Unlock()
		slog.Warn("config watcher: edit rejected, keeping previous config", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	prev := w.current
	w.current = next
	w.applied = sum
	w.mu.Unlock()

	d := Diff(prev, next)
	if d.Empty() {
		slog.Debug("config watcher: file changed without effective changes", "path", w.path)
		return
	}
	slog.Info("config watcher: configuration reloaded",
		"path", w.path,
		"log_level_changed", d.LogLevelChanged,
		"origins_changed", d.OriginsChanged,
		"require_token_changed", d.RequireTokenChanged,
		"restart_required", d.RestartRequired,
	)
	if w.onChange != nil {
		w.onChange(prev, next)
	}
}
