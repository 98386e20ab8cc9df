package nativesync

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the watcher waits for writes to settle.
const DefaultDebounce = 250 * time.Millisecond

// Watcher runs Sync after the native side writes the snapshot file.
type Watcher struct {
	syncer   *Syncer
	debounce time.Duration
	logger   *slog.Logger
	onSync   func(Direction)

	fsw *fsnotify.Watcher

	mu    sync.Mutex
	dirty bool
	done  chan struct{}
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithWatcherLogger sets the logger.
func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce sets the debounce interval.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// OnSync registers a callback invoked after every watcher-driven Sync.
func OnSync(fn func(Direction)) WatcherOption {
	return func(w *Watcher) { w.onSync = fn }
}

// NewWatcher creates a Watcher for syncer's snapshot path.
func NewWatcher(syncer *Syncer, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		syncer:   syncer,
		debounce: DefaultDebounce,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start watches the snapshot's directory. The file itself is replaced by
// rename on every write, so watching it directly would lose the watch.
func (w *Watcher) Start(ctx context.Context) error {
	dir := filepath.Dir(w.syncer.Path())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	w.mu.Lock()
	w.fsw = fsw
	w.done = make(chan struct{})
	w.mu.Unlock()

	go w.loop(ctx, fsw, w.done)

	w.logger.Info("Native snapshot watcher started",
		"path", w.syncer.Path(),
		"debounce", w.debounce)
	return nil
}

// Stop closes the watcher and waits for its loop to exit.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	fsw, done := w.fsw, w.done
	w.fsw = nil
	w.mu.Unlock()
	if fsw == nil {
		return nil
	}
	err := fsw.Close()
	<-done
	return err
}

func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	target := w.syncer.Path()
	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
				w.mu.Lock()
				w.dirty = true
				w.mu.Unlock()
				w.logger.Debug("Native snapshot changed", "op", ev.Op.String())
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("Snapshot watcher error", "error", err)

		case <-ticker.C:
			w.flush(ctx)
		}
	}
}

func (w *Watcher) flush(ctx context.Context) {
	w.mu.Lock()
	dirty := w.dirty
	w.dirty = false
	w.mu.Unlock()
	if !dirty {
		return
	}

	dir, err := w.syncer.Sync(ctx)
	if err != nil {
		w.logger.Warn("Failed to sync native snapshot", "error", err)
		return
	}
	if w.onSync != nil {
		w.onSync(dir)
	}
}
