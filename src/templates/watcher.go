package templates

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher drops cached layers of a template whenever a file inside its
// directory changes.
type Watcher struct {
	mu      sync.Mutex
	watcher *fsnotify.Watcher
	cat     *Catalogue
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool

	// notify is called after each invalidation; tests use it to synchronize
	notify func(id string)
}

func NewWatcher(cat *Catalogue) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		watcher: w,
		cat:     cat,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		notify:  func(string) {},
	}, nil
}

// Start watches the catalogue root and every template directory. It does not
// block.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	root := w.cat.Dir()
	if err := os.MkdirAll(root, 0o755); err != nil {
		return err
	}
	if err := w.watcher.Add(root); err != nil {
		return err
	}
	ids, err := w.cat.List()
	if err != nil {
		return err
	}
	for _, id := range ids {
		w.addDir(filepath.Join(root, id))
	}
	w.cat.log.Info("watching templates", zap.String("dir", root), zap.Int("templates", len(ids)))

	go w.run(ctx)
	return nil
}

// Stop ends the event loop and releases the watcher.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		_ = w.watcher.Close()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	if err := w.watcher.Close(); err != nil {
		w.cat.log.Warn("closing template watcher", zap.Error(err))
	}
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)
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
			w.handle(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.cat.log.Warn("template watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if event.Op == fsnotify.Chmod {
		return
	}
	rel, err := filepath.Rel(w.cat.Dir(), event.Name)
	if err != nil || strings.HasPrefix(rel, "..") {
		return
	}
	id := strings.Split(filepath.ToSlash(rel), "/")[0]

	if event.Op&fsnotify.Create != 0 && id == rel {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			w.addDir(event.Name)
		}
	}
	w.cat.Invalidate(id)
	w.cat.log.Debug("template changed", zap.String("id", id), zap.String("op", event.Op.String()))
	w.notify(id)
}

func (w *Watcher) addDir(dir string) {
	if err := w.watcher.Add(dir); err != nil {
		w.cat.log.Warn("can not watch template dir", zap.String("dir", dir), zap.Error(err))
	}
}
