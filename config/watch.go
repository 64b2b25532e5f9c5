package config

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reports edits to the config file while a session is running.
// The session config is immutable once loaded, so the watcher never mutates
// live state; it tells the operator that a restart is needed and whether the
// edited file would even pass validation.
type Watcher struct {
	Path     string
	Cooldown time.Duration // suppress duplicate events from editors that write twice
}

// ChangeFunc receives the re-parsed config (zero value when invalid) and the
// validation error, if any.
type ChangeFunc func(cfg SessionConfig, err error)

// Start watches Path until ctx is cancelled, invoking onChange per edit.
func (w Watcher) Start(ctx context.Context, onChange ChangeFunc) error {
	if onChange == nil {
		return fmt.Errorf("onChange is required")
	}
	if w.Cooldown <= 0 {
		w.Cooldown = 2 * time.Second
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.Path); err != nil {
		return fmt.Errorf("watch config file: %w", err)
	}

	var lastFired time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if time.Since(lastFired) < w.Cooldown {
				continue
			}
			lastFired = time.Now()
			cfg, err := LoadWithEnvOverrides(w.Path)
			onChange(cfg, err)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			onChange(SessionConfig{}, fmt.Errorf("watch error: %w", err))
		}
	}
}
