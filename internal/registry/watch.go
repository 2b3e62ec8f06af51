package registry

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ErrWatcherClosed is returned when operations are called on a closed
// Watcher.
var ErrWatcherClosed = errors.New("registry: watcher is closed")

// DefaultReloadDebounce coalesces bursts of file events (editors often
// write a catalog in several syscalls) into a single reload.
const DefaultReloadDebounce = 250 * time.Millisecond

// ReloadFunc is called with the freshly loaded registry after the catalog
// file changes and parses cleanly.
type ReloadFunc func(*Registry)

// ReloadErrorFunc is called when a catalog change cannot be loaded. The
// previous registry stays in effect.
type ReloadErrorFunc func(error)

// Watcher reloads a catalog file on change and swaps the handle's registry
// wholesale. A broken catalog never replaces a working one.
type Watcher struct {
	path     string
	handle   *Handle
	onReload ReloadFunc
	onError  ReloadErrorFunc
	debounce time.Duration

	fsWatcher *fsnotify.Watcher

	mu     sync.Mutex
	timer  *time.Timer
	closed bool
}

// WatchOption configures a Watcher.
type WatchOption func(*Watcher)

// WithReloadDebounce sets the debounce duration for coalescing events.
func WithReloadDebounce(d time.Duration) WatchOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithReloadHook sets a callback invoked after each successful reload.
func WithReloadHook(fn ReloadFunc) WatchOption {
	return func(w *Watcher) {
		w.onReload = fn
	}
}

// WithReloadErrorHook sets a callback invoked when a reload fails.
func WithReloadErrorHook(fn ReloadErrorFunc) WatchOption {
	return func(w *Watcher) {
		w.onError = fn
	}
}

// Watch starts watching the catalog at path and swaps handle on change.
// The parent directory is watched rather than the file itself, so
// rename-over saves (the atomic-write pattern most editors use) keep
// triggering reloads instead of silently ending the watch.
func Watch(path string, handle *Handle, opts ...WatchOption) (*Watcher, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		path:      filepath.Clean(path),
		handle:    handle,
		debounce:  DefaultReloadDebounce,
		fsWatcher: fsWatcher,
	}
	for _, opt := range opts {
		opt(w)
	}

	if err := fsWatcher.Add(filepath.Dir(path)); err != nil {
		fsWatcher.Close()
		return nil, err
	}

	go w.run()
	return w, nil
}

// Close stops the watcher and releases resources.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
	}
	return w.fsWatcher.Close()
}

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Rename) {
				w.scheduleReload()
			}
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			if w.onError != nil {
				w.onError(err)
			}
		}
	}
}

// scheduleReload arms (or re-arms) the debounce timer.
func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	profiles, err := LoadCatalog(w.path)
	if err != nil {
		if w.onError != nil {
			w.onError(err)
		}
		return
	}
	reg, err := New(profiles)
	if err != nil {
		if w.onError != nil {
			w.onError(err)
		}
		return
	}

	w.handle.Swap(reg)
	if w.onReload != nil {
		w.onReload(reg)
	}
}
