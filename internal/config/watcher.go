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

const defaultPollInterval = 5 * time.Second

// stamp identifies one version of the config file on disk. The digest covers
// the raw bytes, before ${VAR} expansion, so an environment change alone
// never counts as an edit.
type stamp struct {
	modTime time.Time
	digest  [sha256.Size]byte
}

// Watcher reloads the config file whenever its content changes and hands
// the previous and the new [Config] to a callback. Edits that fail to parse
// or validate are logged and skipped; the last good config stays current.
type Watcher struct {
	path     string
	every    time.Duration
	onChange func(old, new *Config)
	log      *slog.Logger

	mu      sync.Mutex
	current *Config
	seen    stamp

	quit    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets how often the file is polled. Non-positive values keep
// the 5 second default.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.every = d
		}
	}
}

// WithWatcherLogger sets the logger for reload events.
func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) { w.log = l }
}

// NewWatcher loads path once and then polls it in the background until
// Stop. A missing or invalid file at start is an error.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		every:    defaultPollInterval,
		onChange: onChange,
		log:      slog.Default(),
		quit:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}

	cfg, st, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.current, w.seen = cfg, st

	go w.loop()
	return w, nil
}

// Current returns the last config that loaded and validated.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop ends polling and waits for an in-flight reload to finish. Safe to
// call more than once.
func (w *Watcher) Stop() {
	w.once.Do(func() { close(w.quit) })
	<-w.stopped
}

func (w *Watcher) loop() {
	defer close(w.stopped)
	t := time.NewTicker(w.every)
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

func (w *Watcher) poll() {
	info, err := os.Stat(w.path)
	if err != nil {
		w.log.Warn("config watcher: stat failed", "path", w.path, "err", err)
		return
	}
	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.seen.modTime)
	w.mu.Unlock()
	if unchanged {
		return
	}

	cfg, st, err := w.read()
	if err != nil {
		w.log.Warn("config watcher: reload rejected, keeping the current config", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	if st.digest == w.seen.digest {
		// touched, not edited
		w.seen = st
		w.mu.Unlock()
		return
	}
	old := w.current
	w.current, w.seen = cfg, st
	w.mu.Unlock()

	w.log.Info("config watcher: reloaded", "path", w.path, "oracles", len(cfg.Profiles()))
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
}

// read parses and validates the file and stamps the bytes it parsed.
func (w *Watcher) read() (*Config, stamp, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, stamp{}, err
	}
	raw, err := os.ReadFile(w.path)
	if err != nil {
		return nil, stamp{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(raw))
	if err != nil {
		return nil, stamp{}, err
	}
	return cfg, stamp{modTime: info.ModTime(), digest: sha256.Sum256(raw)}, nil
}
