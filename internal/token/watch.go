package token

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// WatchFile watches the live tokens file and invokes reload after external
// rewrites. The parent directory is watched too, because atomic replacement
// arrives as a rename, not a write. Events are debounced so a
// write-then-rename sequence reloads once.
//
// Returns an error only if the watcher cannot be established; runtime watch
// errors are logged and the watcher keeps going.
func WatchFile(ctx context.Context, path string, reload func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	path = filepath.Clean(path)
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}
	// Watching the file itself is best-effort; it may not exist yet when
	// auto-update is expected to create it.
	_ = watcher.Add(path)

	log.WithField("path", path).Info("tokens file watcher started")

	go func() {
		defer watcher.Close()

		var debounce *time.Timer
		const debounceDelay = 200 * time.Millisecond

		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != path {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(debounceDelay, reload)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.WithError(err).Warn("tokens file watcher error")
			case <-ctx.Done():
				if debounce != nil {
					debounce.Stop()
				}
				return
			}
		}
	}()
	return nil
}
