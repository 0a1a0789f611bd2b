package registry

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// dirWatcher marks the installed catalog dirty whenever anything under
// the packages directory changes. It watches the directory itself and
// each package directory one level down.
type dirWatcher struct {
	mu      sync.Mutex
	watcher *fsnotify.Watcher
	root    string
	paths   map[string]bool
	onDirty func()
	logger  *zap.Logger

	closed   bool
	closeCh  chan struct{}
	closedWg sync.WaitGroup
}

func newDirWatcher(root string, onDirty func(), logger *zap.Logger) (*dirWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &dirWatcher{
		watcher: fsw,
		root:    root,
		paths:   make(map[string]bool),
		onDirty: onDirty,
		logger:  logger,
		closeCh: make(chan struct{}),
	}

	if err := w.add(root); err != nil {
		fsw.Close()
		return nil, err
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		fsw.Close()
		return nil, err
	}
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			_ = w.add(filepath.Join(root, e.Name()))
		}
	}

	w.closedWg.Add(1)
	go w.processLoop()

	return w, nil
}

func (w *dirWatcher) add(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || w.paths[path] {
		return nil
	}
	if err := w.watcher.Add(path); err != nil {
		return err
	}
	w.paths[path] = true
	return nil
}

func (w *dirWatcher) forget(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.paths, path)
}

func (w *dirWatcher) processLoop() {
	defer w.closedWg.Done()

	for {
		select {
		case <-w.closeCh:
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(ev)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			// Events may have been lost; force a rescan.
			w.logger.Warn("package directory watch error", zap.Error(err))
			w.onDirty()
		}
	}
}

func (w *dirWatcher) handle(ev fsnotify.Event) {
	if ev.Op == fsnotify.Chmod {
		return
	}
	// Marked dirty only after a new package directory is watched, so a
	// write that lands before the watch is added is still picked up.
	defer w.onDirty()

	if filepath.Dir(ev.Name) != w.root || strings.HasPrefix(filepath.Base(ev.Name), ".") {
		return
	}
	if ev.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			_ = w.add(ev.Name)
		}
	}
	if ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename) {
		w.forget(ev.Name)
	}
}

func (w *dirWatcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.closeCh)
	w.mu.Unlock()

	w.closedWg.Wait()
	return w.watcher.Close()
}
