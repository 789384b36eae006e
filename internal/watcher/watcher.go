// Package watcher reloads logging settings when the config file changes on
// disk, so a running daemon can flip log levels without a restart.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/sydlexius/crossfade/internal/config"
	"github.com/sydlexius/crossfade/internal/logging"
)

// debounce coalesces the write bursts editors and atomic-save tools emit.
const debounce = 250 * time.Millisecond

// ConfigWatcher watches one config file and applies logging changes.
type ConfigWatcher struct {
	path    string
	manager *logging.Manager
	logger  *slog.Logger
}

// New creates a watcher for the config file at path.
func New(path string, manager *logging.Manager, logger *slog.Logger) *ConfigWatcher {
	return &ConfigWatcher{path: path, manager: manager, logger: logger}
}

// Watch blocks until ctx is cancelled, reapplying the file's logging
// section after each change. Reload failures keep the previous settings.
func (w *ConfigWatcher) Watch(ctx context.Context) error {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer fsWatcher.Close() //nolint:errcheck

	// Watch the directory rather than the file: atomic saves replace the
	// inode and would silently detach a file-level watch.
	if err := fsWatcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watching config directory: %w", err)
	}

	var timer *time.Timer
	pending := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-fsWatcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				select {
				case pending <- struct{}{}:
				default:
				}
			})
		case <-pending:
			w.reload()
		case err, ok := <-fsWatcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watcher error", slog.Any("error", err))
		}
	}
}

func (w *ConfigWatcher) reload() {
	cfg, err := config.Load(w.path)
	if err != nil {
		w.logger.Warn("config reload failed, keeping current settings",
			slog.Any("error", err))
		return
	}

	next := logging.Config{
		Level:    cfg.Logging.Level,
		Format:   cfg.Logging.Format,
		FilePath: cfg.Logging.FilePath,
	}
	if next == w.manager.Config() {
		return
	}
	w.manager.Reconfigure(next)
	w.logger.Info("logging reconfigured",
		slog.String("level", next.Level), slog.String("format", next.Format))
}
