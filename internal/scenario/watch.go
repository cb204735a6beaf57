package scenario

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reloads a scenario directory when its files change, so a
// long-running serve session picks up edits without a restart.
type Watcher struct {
	dir      string
	logger   *zap.Logger
	watcher  *fsnotify.Watcher
	onReload func([]*Scenario)

	mu      sync.Mutex
	running bool
	dirty   bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewWatcher builds a watcher over dir. onReload fires with the full,
// freshly loaded scenario list after each settled burst of changes.
func NewWatcher(dir string, logger *zap.Logger, onReload func([]*Scenario)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		dir:      dir,
		logger:   logger,
		watcher:  fw,
		onReload: onReload,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start begins watching. Non-blocking; the event loop runs until Stop
// or ctx cancellation.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.watcher.Add(w.dir); err != nil {
		return err
	}
	go w.run(ctx)
	return nil
}

// Stop halts the watcher and waits for the event loop to exit.
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
	_ = w.watcher.Close()
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	// Editors write in bursts; batch them before reloading.
	debounce := time.NewTicker(200 * time.Millisecond)
	defer debounce.Stop()

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
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("scenario watcher error", zap.Error(err))
		case <-debounce.C:
			w.reloadIfDirty()
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	ext := strings.ToLower(filepath.Ext(event.Name))
	if ext != ".yaml" && ext != ".yml" {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	w.mu.Lock()
	w.dirty = true
	w.mu.Unlock()
}

func (w *Watcher) reloadIfDirty() {
	w.mu.Lock()
	dirty := w.dirty
	w.dirty = false
	w.mu.Unlock()
	if !dirty {
		return
	}

	scenarios, err := LoadDir(w.dir)
	if err != nil {
		w.logger.Warn("scenario reload failed", zap.Error(err))
		return
	}
	w.logger.Info("scenarios reloaded", zap.Int("count", len(scenarios)))
	w.onReload(scenarios)
}
