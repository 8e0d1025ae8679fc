package policy

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch starts a background fsnotify watch on the engine's loaded policy
// file and calls Reload() whenever it changes, until ctx is cancelled.
// Watching the containing directory (rather than the file itself) survives
// editors that replace-by-rename instead of writing in place.
func (e *Engine) Watch(ctx context.Context) error {
	e.mu.RLock()
	path := e.path
	e.mu.RUnlock()
	if path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		target := filepath.Clean(path)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if err := e.Reload(); err != nil {
					e.logger.Warn("policy hot-reload failed", "error", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				e.logger.Warn("policy watch error", "error", err, slog.String("path", path))
			}
		}
	}()

	return nil
}
