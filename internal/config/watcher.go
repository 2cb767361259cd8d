package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/echogram/echogram/internal/logging"
)

// Watcher monitors the bootstrap file and reloads the Manager on change.
// This lets an operator adjust the window bounds or denial policy on a
// running bot without a restart.
type Watcher struct {
	manager *Manager
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	running bool
	mu      sync.Mutex
}

// debounceDelay coalesces the editor write/rename bursts into one reload
const debounceDelay = 250 * time.Millisecond

// NewWatcher creates a watcher for the manager's bootstrap file
func NewWatcher(m *Manager) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		manager: m,
		watcher: fw,
		stopCh:  make(chan struct{}),
	}, nil
}

// Start begins watching the bootstrap file for changes
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	// Watch the directory: fsnotify can't always watch files directly,
	// and editors often replace the file via rename.
	dir := filepath.Dir(w.manager.Path())
	if err := w.watcher.Add(dir); err != nil {
		return err
	}

	logging.L_debug("config: watching bootstrap file", "path", w.manager.Path())

	go w.watchLoop(ctx)
	return nil
}

// Stop stops the watcher
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	close(w.stopCh)
	w.watcher.Close()
	w.running = false
}

func (w *Watcher) watchLoop(ctx context.Context) {
	target := filepath.Base(w.manager.Path())

	var timer *time.Timer
	var timerCh <-chan time.Time

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
			if filepath.Base(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounceDelay)
				timerCh = timer.C
			} else {
				timer.Reset(debounceDelay)
			}

		case <-timerCh:
			timer = nil
			timerCh = nil
			if err := w.manager.Reload(); err != nil {
				logging.L_warn("config: reload failed, keeping previous config", "error", err)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.L_warn("config: watcher error", "error", err)
		}
	}
}
