package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

const debounceInterval = 200 * time.Millisecond

// Watch re-reads the config whenever the file at path changes and calls
// onChange with the fresh copy. It watches the parent directory because
// editors and the atomic writer replace the file by rename. The watch runs
// until ctx is cancelled.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		if cerr := watcher.Close(); cerr != nil {
			log.Warnf("error closing config watcher: %v", cerr)
		}
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	go func() {
		defer func() {
			if err := watcher.Close(); err != nil {
				log.Warnf("error closing config watcher: %v", err)
			}
		}()

		// coalesces the event bursts a single save produces
		var debounce *time.Timer
		reload := make(chan struct{}, 1)

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(path) {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(debounceInterval, func() {
					select {
					case reload <- struct{}{}:
					default:
					}
				})
			case <-reload:
				cfg, err := Load(path)
				if err != nil {
					log.Warnf("config at %s changed but could not be read: %v", path, err)
					continue
				}
				log.Infof("config %s reloaded", path)
				onChange(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warnf("config watcher error: %v", err)
			}
		}
	}()

	return nil
}
