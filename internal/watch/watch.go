// Package watch reports glTF files that settle after being created or written
// anywhere under a directory tree.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/Faultbox/glbclean/pkg/formats"
)

// Handler is called with the path of a file that has not changed for the
// debounce window. Calls are sequential.
type Handler func(ctx context.Context, path string)

// Option customizes a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger, nop by default.
func WithLogger(log *zap.Logger) Option {
	return func(w *Watcher) { w.log = log }
}

// WithFilter selects the files passed to the handler, glTF files by default.
func WithFilter(match func(path string) bool) Option {
	return func(w *Watcher) { w.match = match }
}

// Watcher watches a directory tree recursively. New directories are added as
// they appear.
type Watcher struct {
	dir      string
	debounce time.Duration
	handler  Handler
	match    func(string) bool
	log      *zap.Logger

	watcher *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]time.Time
}

// New starts watching every directory under dir. Events are delivered once
// Run is called.
func New(dir string, debounce time.Duration, handler Handler, opts ...Option) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		dir:      dir,
		debounce: debounce,
		handler:  handler,
		match:    formats.IsGLTFFile,
		log:      zap.NewNop(),
		watcher:  fw,
		pending:  make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(w)
	}
	if err := w.addTree(dir, false); err != nil {
		fw.Close()
		return nil, err
	}
	return w, nil
}

// addTree watches root and every directory below it. With queue set, files
// already present are queued: they may have been written before the watch
// on their directory existed.
func (w *Watcher) addTree(root string, queue bool) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if err := w.watcher.Add(path); err != nil {
				return fmt.Errorf("watching %s: %w", path, err)
			}
			w.log.Debug("watching directory", zap.String("dir", path))
			return nil
		}
		if queue && w.match(path) {
			w.touch(path)
		}
		return nil
	})
}

// Dirs returns the directories being watched.
func (w *Watcher) Dirs() []string {
	return w.watcher.WatchList()
}

// Run delivers settled files to the handler until ctx is done or the
// watcher is closed.
func (w *Watcher) Run(ctx context.Context) error {
	tick := time.NewTicker(w.tickInterval())
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watch error", zap.Error(err))

		case <-tick.C:
			w.flush(ctx)
		}
	}
}

func (w *Watcher) tickInterval() time.Duration {
	d := w.debounce / 4
	return min(max(d, 10*time.Millisecond), 250*time.Millisecond)
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(event.Name, true); err != nil {
				w.log.Warn("watching new directory", zap.String("dir", event.Name), zap.Error(err))
			}
			return
		}
	}
	if w.match(event.Name) {
		w.log.Debug("file changed", zap.String("path", event.Name), zap.Stringer("op", event.Op))
		w.touch(event.Name)
	}
}

func (w *Watcher) touch(path string) {
	w.mu.Lock()
	w.pending[path] = time.Now()
	w.mu.Unlock()
}

// flush hands over the files whose last event is older than the debounce window.
func (w *Watcher) flush(ctx context.Context) {
	now := time.Now()
	var ready []string

	w.mu.Lock()
	for path, at := range w.pending {
		if now.Sub(at) >= w.debounce {
			ready = append(ready, path)
			delete(w.pending, path)
		}
	}
	w.mu.Unlock()

	for _, path := range ready {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		w.handler(ctx, path)
	}
}

// Close releases the underlying watcher and ends Run.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
