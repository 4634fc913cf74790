package staging

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aretw0/basthon/internal/logging"
	"github.com/fsnotify/fsnotify"
)

// Watcher stages every file created or changed in a host directory.
// Rapid successive writes to one file are coalesced.
type Watcher struct {
	stager   *Stager
	dir      string
	watcher  *fsnotify.Watcher
	debounce time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]time.Time
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// DefaultDebounce is how long a file must stay quiet before it is staged.
const DefaultDebounce = 200 * time.Millisecond

// minScan bounds how often pending files are checked.
const minScan = time.Millisecond

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets how long a file must stay quiet before it is staged.
// Non-positive durations keep the default.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithWatcherLogger sets the logger.
func WithWatcherLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWatcher watches dir for resources to stage.
func NewWatcher(stager *Stager, dir string, opts ...WatcherOption) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		stager:   stager,
		dir:      dir,
		watcher:  fw,
		debounce: DefaultDebounce,
		logger:   logging.NewNop(),
		pending:  make(map[string]time.Time),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start stages the files already present, then follows changes until Stop
// or ctx ends.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	entries, err := os.ReadDir(w.dir)
	if err == nil {
		err = w.watcher.Add(w.dir)
	}
	if err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		_ = w.watcher.Close()
		return err
	}
	for _, e := range entries {
		if !e.IsDir() {
			w.stage(ctx, filepath.Join(w.dir, e.Name()))
		}
	}
	w.logger.Info("Watching for resources", "path", w.dir)
	go w.run(ctx)
	return nil
}

// Stop ends the watch and waits for the loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	if err := w.watcher.Close(); err != nil {
		w.logger.Warn("Closing watcher failed", "err", err)
	}
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)
	ticker := time.NewTicker(max(w.debounce/2, minScan))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.mu.Lock()
				w.pending[event.Name] = time.Now()
				w.mu.Unlock()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Watcher error", "err", err)
		case <-ticker.C:
			w.flush(ctx)
		}
	}
}

// flush stages the files that have been quiet for the debounce period.
func (w *Watcher) flush(ctx context.Context) {
	now := time.Now()
	var ready []string
	w.mu.Lock()
	for name, at := range w.pending {
		if now.Sub(at) >= w.debounce {
			ready = append(ready, name)
			delete(w.pending, name)
		}
	}
	w.mu.Unlock()
	for _, name := range ready {
		w.stage(ctx, name)
	}
}

func (w *Watcher) stage(ctx context.Context, hostPath string) {
	info, err := os.Stat(hostPath)
	if err != nil || info.IsDir() {
		return
	}
	data, err := os.ReadFile(hostPath)
	if err != nil {
		w.logger.Warn("Reading resource failed", "path", hostPath, "err", err)
		return
	}
	rel, err := filepath.Rel(w.dir, hostPath)
	if err != nil {
		rel = filepath.Base(hostPath)
	}
	if err := w.stager.PutResource(ctx, "/"+filepath.ToSlash(rel), data); err != nil {
		w.logger.Warn("Staging resource failed", "path", rel, "err", err)
		return
	}
	w.logger.Debug("Resource staged", "path", rel)
}
