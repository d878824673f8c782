package rsconfig

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the store whenever the configuration file changes. It
// watches the containing directory so editors that replace the file by
// rename are observed. Watch blocks until ctx is done.
func (s *Store) Watch(ctx context.Context, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("rsconfig: create watcher: %w", err)
	}
	defer func() { _ = w.Close() }()

	if err := w.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("rsconfig: watch %s: %w", s.path, err)
	}
	target := filepath.Clean(s.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := s.Reload(); err != nil {
				log.ErrorContext(ctx, "rsconfig.reload.fail", slog.String("path", s.path), slog.String("err", err.Error()))
				continue
			}
			log.InfoContext(ctx, "rsconfig.reload.ok", slog.String("path", s.path))
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.WarnContext(ctx, "rsconfig.watch.error", slog.String("err", err.Error()))
		}
	}
}
