package config

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Change is one successful reload. Old is nil on the first reload when the
// file could not be loaded at Start.
type Change struct {
	Old *Config
	New *Config
}

// BackendChanged reports whether any backend setting differs.
func (c Change) BackendChanged() bool {
	return c.Old == nil || c.Old.Backend != c.New.Backend
}

// RestartRequired reports changes that only take effect for new sessions:
// the bridge address and credentials, storage and the session id.
func (c Change) RestartRequired() bool {
	if c.Old == nil {
		return false
	}
	return c.Old.Backend.URL != c.New.Backend.URL ||
		c.Old.Backend.Token != c.New.Backend.Token ||
		c.Old.Storage != c.New.Storage ||
		c.Old.SessionID != c.New.SessionID
}

// LoggingChanged reports whether the log level or format differs.
func (c Change) LoggingChanged() bool {
	return c.Old == nil || c.Old.Logging != c.New.Logging
}

// ChangeHandler receives each reload.
type ChangeHandler func(Change)

// Watcher reloads the config file when it changes. Events are debounced so an
// editor's write-then-rename produces one reload, and a file that fails to
// load or validate is skipped, leaving the previous config in effect.
type Watcher struct {
	path     string
	fsw      *fsnotify.Watcher
	debounce time.Duration

	mu       sync.Mutex
	current  *Config
	handlers []ChangeHandler

	done     chan struct{}
	stopOnce sync.Once
}

func NewWatcher(configPath string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		path:     filepath.Clean(configPath),
		fsw:      fsw,
		debounce: 300 * time.Millisecond,
		done:     make(chan struct{}),
	}, nil
}

// OnChange registers a handler called after each successful reload.
func (w *Watcher) OnChange(h ChangeHandler) {
	w.mu.Lock()
	w.handlers = append(w.handlers, h)
	w.mu.Unlock()
}

// Current returns the last config that loaded successfully, or nil.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Start records the current config and watches the directory holding the
// file, so a rename over it is seen too.
func (w *Watcher) Start() error {
	if cfg, err := Load(w.path); err == nil {
		w.mu.Lock()
		w.current = cfg
		w.mu.Unlock()
	}
	if err := w.fsw.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	go w.loop()
	slog.Debug("config: watching", "path", w.path)
	return nil
}

// Stop halts the watcher. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.fsw.Close()
	})
}

func (w *Watcher) loop() {
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) == w.path && (ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
				timer.Reset(w.debounce)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("config: watcher error", "error", err)
		case <-timer.C:
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		slog.Warn("config: reload skipped, keeping previous config", "path", w.path, "error", err)
		return
	}

	w.mu.Lock()
	change := Change{Old: w.current, New: cfg}
	w.current = cfg
	handlers := append([]ChangeHandler(nil), w.handlers...)
	w.mu.Unlock()

	if change.RestartRequired() {
		slog.Warn("config: backend address, storage or session changed; restart to apply", "path", w.path)
	}
	for _, h := range handlers {
		h(change)
	}
	slog.Info("config: reloaded", "path", w.path)
}
