package config

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the configuration when its file changes.
type Watcher struct {
	loader   *Loader
	watcher  *fsnotify.Watcher
	onChange func(*Config)
	logger   *slog.Logger
}

// NewWatcher watches the loader's file. onChange receives each successfully
// reloaded configuration; invalid files are logged and ignored.
func NewWatcher(loader *Loader, onChange func(*Config), logger *slog.Logger) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// Watch the directory, not the file, to catch editors that replace it.
	if err := w.Add(filepath.Dir(loader.FilePath())); err != nil {
		_ = w.Close()
		return nil, err
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Watcher{
		loader:   loader,
		watcher:  w,
		onChange: onChange,
		logger:   logger,
	}, nil
}

// Run delivers reloads until ctx is done, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	target := filepath.Clean(w.loader.FilePath())
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("configuration watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := w.loader.Load()
	if err != nil {
		w.logger.Warn("ignoring invalid configuration", "file", w.loader.FilePath(), "error", err)
		return
	}
	w.logger.Info("configuration reloaded", "file", w.loader.FilePath())
	w.onChange(cfg)
}
