package catalog

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher reloads the catalog when its file changes on disk.
type Watcher struct {
	catalog *Catalog
	logger  zerolog.Logger
	watcher *fsnotify.Watcher
}

// NewWatcher creates a watcher over a loaded catalog.
func NewWatcher(catalog *Catalog, logger zerolog.Logger) *Watcher {
	return &Watcher{
		catalog: catalog,
		logger:  logger.With().Str("component", "catalog-watcher").Logger(),
	}
}

// Watch starts watching the catalog file and reloads it on write. onReload,
// when non-nil, runs after every successful reload. Editors replace files by
// rename, so the parent directory is watched rather than the file itself.
func (w *Watcher) Watch(ctx context.Context, onReload func(*Catalog)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	w.watcher = watcher

	dir := filepath.Dir(w.catalog.path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	go w.processEvents(ctx, onReload)

	w.logger.Info().Str("path", w.catalog.path).Msg("watching model catalog")
	return nil
}

// processEvents debounces bursts of write events into one reload.
func (w *Watcher) processEvents(ctx context.Context, onReload func(*Catalog)) {
	var reloadTimer *time.Timer
	reloadDelay := 500 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			_ = w.watcher.Close()
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.catalog.path) {
				continue
			}

			w.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("catalog file changed")

			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(reloadDelay, func() {
				if err := w.catalog.Reload(); err != nil {
					w.logger.Error().Err(err).Msg("catalog reload failed, keeping previous entries")
					return
				}
				w.logger.Info().Int("models", w.catalog.Len()).Msg("catalog reloaded")
				if onReload != nil {
					onReload(w.catalog)
				}
			})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("watcher error")
		}
	}
}

// Stop stops watching.
func (w *Watcher) Stop() error {
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}
