package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watch reloads the config file on change and invokes apply with the new
// config. Invalid files are logged and skipped; the last good config stays in
// effect. Editors often emit bursts of write/rename events, so changes are
// debounced before reloading.
func Watch(ctx context.Context, path string, log zerolog.Logger, apply func(Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// Watch the directory: rename-and-replace (the common editor save
	// strategy) drops inotify watches placed on the file itself.
	if err := w.Add(filepath.Dir(path)); err != nil {
		_ = w.Close()
		return err
	}

	go func() {
		defer w.Close()

		var (
			debounce = time.NewTimer(0)
			pending  bool
		)
		if !debounce.Stop() {
			<-debounce.C
		}

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if pending {
					if !debounce.Stop() {
						select {
						case <-debounce.C:
						default:
						}
					}
				}
				pending = true
				debounce.Reset(250 * time.Millisecond)
			case <-debounce.C:
				pending = false
				cfg, err := Load(path)
				if err != nil {
					log.Warn().Err(err).Str("path", path).Msg("config reload skipped")
					continue
				}
				log.Info().Str("path", path).Msg("config reloaded")
				apply(cfg)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Msg("config watcher error")
			}
		}
	}()
	return nil
}
