package plugin

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatcherOption configures a CatalogWatcher.
type WatcherOption func(*CatalogWatcher)

// WithDebounce sets the debounce duration for file change events.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *CatalogWatcher) {
		w.debounce = d
	}
}

// WithWatcherLogger sets the logger for the watcher.
func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(w *CatalogWatcher) {
		w.logger = l
	}
}

// WithOnReload sets a callback invoked after each reseed.
func WithOnReload(fn func(SeedResult, error)) WatcherOption {
	return func(w *CatalogWatcher) {
		w.onReload = fn
	}
}

// CatalogWatcher monitors an operator catalog directory and reseeds the
// official catalog when a catalog file changes. Seeding is idempotent, so a
// burst of events costs at most a few no-op reseeds.
type CatalogWatcher struct {
	registry *Registry
	dir      string
	base     []Manifest
	debounce time.Duration
	logger   *slog.Logger
	onReload func(SeedResult, error)

	fsWatcher *fsnotify.Watcher
	done      chan struct{}
	wg        sync.WaitGroup

	mu      sync.Mutex
	pending map[string]time.Time
}

// NewCatalogWatcher creates a watcher that merges dir over base on every
// reseed.
func NewCatalogWatcher(registry *Registry, dir string, base []Manifest, opts ...WatcherOption) *CatalogWatcher {
	w := &CatalogWatcher{
		registry: registry,
		dir:      dir,
		base:     base,
		debounce: 500 * time.Millisecond,
		logger:   slog.Default(),
		done:     make(chan struct{}),
		pending:  make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins watching the catalog directory.
func (w *CatalogWatcher) Start() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fsWatcher = fsw

	if err := os.MkdirAll(w.dir, 0755); err != nil {
		_ = fsw.Close()
		return err
	}
	if err := fsw.Add(w.dir); err != nil {
		_ = fsw.Close()
		return err
	}
	w.logger.Info("watching plugin catalog directory", "dir", w.dir)

	w.wg.Add(1)
	go w.loop()
	return nil
}

// Stop terminates the watcher.
func (w *CatalogWatcher) Stop() error {
	close(w.done)
	w.wg.Wait()
	if w.fsWatcher != nil {
		return w.fsWatcher.Close()
	}
	return nil
}

func (w *CatalogWatcher) loop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if !isCatalogFile(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				w.mu.Lock()
				w.pending[event.Name] = time.Now()
				w.mu.Unlock()
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("catalog watcher error", "error", err)

		case <-ticker.C:
			w.processPending()
		}
	}
}

func (w *CatalogWatcher) processPending() {
	w.mu.Lock()
	now := time.Now()
	ready := false
	for path, t := range w.pending {
		if now.Sub(t) >= w.debounce {
			delete(w.pending, path)
			ready = true
		}
	}
	w.mu.Unlock()

	if ready {
		w.Reload(context.Background())
	}
}

// Reload reads the directory and reseeds the official catalog.
func (w *CatalogWatcher) Reload(ctx context.Context) (SeedResult, error) {
	extra, err := LoadDir(w.dir)
	if err != nil {
		w.logger.Error("failed to load plugin catalog", "dir", w.dir, "error", err)
		w.notifyReload(SeedResult{}, err)
		return SeedResult{}, err
	}
	res, err := w.registry.SeedOfficial(ctx, Merge(w.base, extra, nil))
	if err != nil {
		w.logger.Error("failed to reseed plugin catalog", "dir", w.dir, "error", err)
	}
	w.notifyReload(res, err)
	return res, err
}

func (w *CatalogWatcher) notifyReload(res SeedResult, err error) {
	if w.onReload != nil {
		w.onReload(res, err)
	}
}
