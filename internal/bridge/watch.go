package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// FileWatcher observes the signal file written by a FileSignaler.
//
// The containing directory is watched rather than the file itself, since
// each signal replaces the file by rename.
type FileWatcher struct {
	path    string
	watcher *fsnotify.Watcher
}

// NewFileWatcher starts watching path's directory. Signals written after
// it returns are observed by Run.
func NewFileWatcher(path string) (*FileWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create signal watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	return &FileWatcher{path: abs, watcher: w}, nil
}

// Run calls handle for every signal until ctx is cancelled, then closes
// the watcher.
func (fw *FileWatcher) Run(ctx context.Context, handle func(context.Context, BatchCompleted)) error {
	defer fw.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-fw.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != fw.path || ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			b, err := ReadSignal(fw.path)
			if err != nil {
				// Partial writes are replaced by the next rename.
				slog.Debug("batch signal unreadable", "path", fw.path, "error", err)
				continue
			}
			handle(ctx, b)

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("signal watcher error", "path", fw.path, "error", err)
		}
	}
}

// Close stops watching without waiting for Run.
func (fw *FileWatcher) Close() error {
	return fw.watcher.Close()
}
