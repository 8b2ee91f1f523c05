// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// =============================================================================
// CONFIG FILE WATCHER
// =============================================================================

// DefaultWatchDebounce absorbs the burst of events editors produce on save.
const DefaultWatchDebounce = 250 * time.Millisecond

// WatchFunc receives a freshly loaded configuration, or the error that
// prevented loading it. The previous configuration stays in effect on error.
type WatchFunc func(cfg *Config, err error)

// Watch reloads path whenever it changes and hands the result to fn.
// It blocks until ctx is cancelled.
//
// The parent directory is watched rather than the file itself so that
// atomic-rename saves (write temp file, rename over) are still seen.
func Watch(ctx context.Context, path string, debounce time.Duration, fn WatchFunc) error {
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve config path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	// Stopped timer; armed by the first relevant event.
	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fn(nil, fmt.Errorf("config watcher: %w", err))

		case <-timer.C:
			cfg, err := Load(abs)
			fn(cfg, err)
		}
	}
}
