// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultWatchDebounce batches the burst of events an install produces.
const DefaultWatchDebounce = 250 * time.Millisecond

// ChangeHandler receives the binary resolved after the store changed.
// found is false when the change left nothing usable.
type ChangeHandler func(bin InstalledBinary, found bool)

// Watch observes the store root and calls handler after installs, removals
// and pin changes made by this or another process.
//
// Description:
//
//	Creates root if needed and watches it along with each version
//	directory below it. An install creates {version} first and renames
//	the finished {version}/{target} into it later, so both levels are
//	needed; version directories created while watching are added as
//	they appear. Events are debounced by DefaultWatchDebounce. Hidden
//	staging and download entries are ignored.
//
// Inputs:
//
//	ctx - Watching stops when ctx is cancelled.
//	handler - Called from the watcher goroutine.
//
// Outputs:
//
//	error - Non-nil if the watcher could not be started.
func (s *Store) Watch(ctx context.Context, handler ChangeHandler) error {
	return s.watch(ctx, handler, DefaultWatchDebounce)
}

func (s *Store) watch(ctx context.Context, handler ChangeHandler, debounce time.Duration) error {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("create store root: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(s.root); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", s.root, err)
	}
	if entries, err := os.ReadDir(s.root); err == nil {
		for _, e := range entries {
			if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
				s.watchVersionDir(watcher, filepath.Join(s.root, e.Name()))
			}
		}
	}

	go func() {
		defer watcher.Close()

		var timer *time.Timer
		var fire <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Has(fsnotify.Create) && s.isVersionEntry(event.Name) {
					if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
						s.watchVersionDir(watcher, event.Name)
					}
				}
				if !s.relevant(event) {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(debounce)
				} else {
					timer.Reset(debounce)
				}
				fire = timer.C

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("store watcher error", slog.String("error", err.Error()))

			case <-fire:
				fire = nil
				bin, found, err := s.ResolveActivePath()
				if err != nil {
					s.logger.Warn("store changed but could not be listed", slog.String("error", err.Error()))
					continue
				}
				handler(bin, found)
			}
		}
	}()
	return nil
}

func (s *Store) watchVersionDir(watcher *fsnotify.Watcher, dir string) {
	if err := watcher.Add(dir); err != nil {
		s.logger.Debug("cannot watch version directory", slog.String("dir", dir), slog.String("error", err.Error()))
	}
}

// isVersionEntry reports whether path sits directly under the root and is
// not hidden.
func (s *Store) isVersionEntry(path string) bool {
	return filepath.Dir(filepath.Clean(path)) == filepath.Clean(s.root) &&
		!strings.HasPrefix(filepath.Base(path), ".")
}

func (s *Store) relevant(event fsnotify.Event) bool {
	name := filepath.Base(event.Name)
	if filepath.Dir(filepath.Clean(event.Name)) != filepath.Clean(s.root) {
		// Inside a version directory only the target subdirectory matters.
		return name == s.target.String()
	}
	if name == PinFileName {
		return true
	}
	if strings.HasPrefix(name, ".") {
		return false
	}
	return event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)
}
