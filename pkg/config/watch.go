package config

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/platinummonkey/assetguard/pkg/observability"
)

// reloadDebounce coalesces the truncate and write events of a single save
const reloadDebounce = 50 * time.Millisecond

// WatchLogLevel reloads the YAML file at path whenever it changes and applies
// its observability.log_level to logger. Other settings need a restart. The
// parent directory is watched so editors that replace the file atomically
// are still seen. Watching stops when ctx is cancelled.
func WatchLogLevel(ctx context.Context, path string, logger *observability.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	go func() {
		defer watcher.Close()
		var (
			timer  *time.Timer
			reload <-chan time.Time
		)
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(reloadDebounce)
				} else {
					timer.Reset(reloadDebounce)
				}
				reload = timer.C
			case <-reload:
				reload = nil
				reloadLogLevel(target, logger)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.WithError(err).Warn("config watcher error")
			}
		}
	}()

	return nil
}

// reloadLogLevel applies the file's log level. A file that does not set one,
// including a truncated file mid-save, leaves the current level alone.
func reloadLogLevel(path string, logger *observability.Logger) {
	var cfg Config
	if err := cfg.mergeFile(path); err != nil {
		logger.WithError(err).Warn("ignoring unreadable config change")
		return
	}
	if strings.TrimSpace(cfg.Observability.LogLevel) == "" {
		return
	}
	level, err := observability.ParseLogLevel(cfg.Observability.LogLevel)
	if err != nil {
		logger.WithError(err).Warn("ignoring invalid log level")
		return
	}
	logger.SetLevel(level)
	logger.WithField("level", level.String()).Info("log level reloaded")
}
