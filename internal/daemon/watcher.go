package daemon

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watcherDebounce = 500 * time.Millisecond

// StartWatcher watches the config file and triggers Reload when it changes.
// The containing directory is watched so editors that replace the file by
// rename are noticed. It blocks until the context is cancelled.
func (d *Daemon) StartWatcher(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(d.configPath)
	if err := watcher.Add(dir); err != nil {
		return err
	}
	target := filepath.Clean(d.configPath)

	d.logger.Info("watching config file for changes", "path", target)

	var debounceTimer *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			d.logger.Debug("config file changed", "op", event.Op)

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(watcherDebounce, func() {
				d.logger.Info("reloading config after file change")
				result, err := d.Reload(ctx)
				if err != nil {
					d.logger.Error("auto-reload failed", "error", err)
					return
				}
				if result.ServerChanged || result.PolicyChanged {
					d.logger.Info("auto-reload complete",
						"server_changed", result.ServerChanged,
						"restarted", result.Restarted,
						"policy_changed", result.PolicyChanged)
				} else {
					d.logger.Debug("auto-reload: no changes detected")
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			d.logger.Error("file watcher error", "error", err)
		}
	}
}
