package groups

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/cgast/dispatchd/internal/logging"
)

// Watcher hot-reloads the store when its YAML file changes on disk. The
// parent directory is watched rather than the file itself so atomic
// rename-into-place saves keep working.
type Watcher struct {
	store *Store
	log   *logging.Logger
	fsw   *fsnotify.Watcher
}

// NewWatcher starts watching the directory containing the store's file.
func NewWatcher(store *Store, log *logging.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	dir := filepath.Dir(store.Path())
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	return &Watcher{store: store, log: log, fsw: fsw}, nil
}

// Run processes filesystem events until the context is cancelled. A failed
// reload keeps the previous snapshot.
func (w *Watcher) Run(ctx context.Context) {
	target := filepath.Clean(w.store.Path())

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			w.log.Debugf("fsnotify event=%s file=%s", event.Op, event.Name)
			if err := w.store.Load(); err != nil {
				w.log.Errorf("reload failed, keeping previous groups: %v", err)
				continue
			}
			w.log.Infof("groups reloaded from %s", target)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Errorf("fsnotify error=%v", err)
		}
	}
}

// Close stops the underlying filesystem watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
