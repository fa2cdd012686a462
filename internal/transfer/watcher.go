package transfer

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// TableWatcher invalidates an Engine's cache whenever system1.json is
// rewritten by another process, so hot-swaps done elsewhere become visible
// without polling. Rapid rewrites are debounced.
type TableWatcher struct {
	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	engine      *Engine
	targetPath  string
	debounceDur time.Duration
	lastEvent   time.Time
	pending     bool
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
}

// NewTableWatcher creates a watcher for the engine's system1.json.
func NewTableWatcher(engine *Engine) (*TableWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &TableWatcher{
		watcher:     watcher,
		engine:      engine,
		targetPath:  engine.store.Path(system1FileName),
		debounceDur: 250 * time.Millisecond,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start begins watching. Non-blocking; the event loop runs until Stop or
// context cancellation.
func (w *TableWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	// Watch the containing directory: the file is replaced via rename, which
	// drops a watch placed on the file itself.
	if err := w.watcher.Add(filepath.Dir(w.targetPath)); err != nil {
		return err
	}
	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for the loop to exit.
func (w *TableWatcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	w.watcher.Close()
}

func (w *TableWatcher) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(100 * time.Millisecond)
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
			if event.Name != w.targetPath {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.mu.Lock()
			w.lastEvent = time.Now()
			w.pending = true
			w.mu.Unlock()
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		case <-ticker.C:
			w.mu.Lock()
			fire := w.pending && time.Since(w.lastEvent) >= w.debounceDur
			if fire {
				w.pending = false
			}
			w.mu.Unlock()
			if fire {
				w.engine.InvalidateCache()
				w.engine.log.Debugw("promoted table changed on disk, cache invalidated")
			}
		}
	}
}
