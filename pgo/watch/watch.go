// Package watch provides fsnotify-based live reload of the framework's
// JSON configuration file, grounded on the host module's own procedure
// directory watcher: the same debounce-then-reload shape, narrowed to a
// single file instead of a directory tree.
package watch

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ha1tch/pgo/pgo/config"
	"github.com/ha1tch/pgo/pgo/log"
)

// Watcher monitors a configuration file for changes and invokes a callback
// with the reloaded Config. A reload that fails validation is logged and
// discarded; the previous Config stays in effect.
type Watcher struct {
	mu sync.RWMutex

	path   string
	logger *log.Logger

	fsWatcher *fsnotify.Watcher

	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	debounceDelay time.Duration
	eventTimer    *time.Timer

	onReload func(cfg config.Config)
	onError  func(err error)
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounceDelay overrides the default 100ms debounce window.
func WithDebounceDelay(d time.Duration) Option {
	return func(w *Watcher) { w.debounceDelay = d }
}

// WithOnReload sets the callback invoked after a successful reload.
func WithOnReload(fn func(cfg config.Config)) Option {
	return func(w *Watcher) { w.onReload = fn }
}

// WithOnError sets the callback invoked when a reload attempt fails.
func WithOnError(fn func(err error)) Option {
	return func(w *Watcher) { w.onError = fn }
}

// New creates a Watcher for the configuration file at path.
func New(path string, logger *log.Logger, opts ...Option) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		path:          path,
		logger:        logger,
		fsWatcher:     fsw,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
		debounceDelay: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start begins watching. fsnotify watches the containing directory rather
// than the file itself, since editors commonly replace a file (rename over
// it) instead of writing in place, which a direct file watch would miss.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	dir := filepath.Dir(w.path)
	if err := w.fsWatcher.Add(dir); err != nil {
		return err
	}

	w.logger.System().Info("config watcher started", "path", w.path)

	go w.processEvents()
	return nil
}

// Stop stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	w.logger.System().Info("config watcher stopped")
	return w.fsWatcher.Close()
}

func (w *Watcher) processEvents() {
	defer close(w.doneCh)

	for {
		select {
		case <-w.stopCh:
			if w.eventTimer != nil {
				w.eventTimer.Stop()
			}
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			w.mu.Lock()
			if w.eventTimer != nil {
				w.eventTimer.Stop()
			}
			w.eventTimer = time.AfterFunc(w.debounceDelay, w.reload)
			w.mu.Unlock()

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.System().Error("config watcher error", err)
			if w.onError != nil {
				w.onError(err)
			}
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := config.Load(w.path)
	if err != nil {
		w.logger.System().Error("config reload failed, keeping previous config", err, "path", w.path)
		if w.onError != nil {
			w.onError(err)
		}
		return
	}

	w.logger.System().Info("config reloaded", "path", w.path)
	if w.onReload != nil {
		w.onReload(cfg)
	}
}

// IsRunning reports whether the watcher is currently active.
func (w *Watcher) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}
