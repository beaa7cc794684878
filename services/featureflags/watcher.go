// Copyright (C) 2026 Kodiak Systems (dev@kodiakmq.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package featureflags

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"
)

// =============================================================================
// Enabled-Record Watcher
// =============================================================================

// Watcher rebuilds the registry when the enabled-flags file changes
// outside the coordinator, e.g. an operator editing the record or a CLI
// mutator running against the data directory.
//
// # Description
//
// The store writes via rename, so the watcher observes the record's
// parent directory and filters events down to the record's filename.
// Events are coalesced: a change marks the record dirty, and a short
// ticker drains dirtiness through a rate limiter so an editor writing in
// bursts triggers one rebuild, not dozens. Rebuild failures are logged
// and the watcher keeps running; it is advisory, never load-bearing.
//
// # Thread Safety
//
// Start and Stop are safe for concurrent use.
type Watcher struct {
	coordinator *Coordinator
	path        string
	limiter     *rate.Limiter

	mu      sync.Mutex
	done    chan struct{}
	running bool
}

// watcherPollInterval drains the dirty mark; rebuilds still pass through
// the limiter.
const watcherPollInterval = 500 * time.Millisecond

// NewWatcher creates a watcher over the coordinator's file-backed store.
//
// # Inputs
//
//   - coordinator: rebuilt on record changes.
//   - path: the enabled-flags record location (FileStore.Path()).
//
// # Outputs
//
//   - *Watcher: ready to Start.
func NewWatcher(coordinator *Coordinator, path string) *Watcher {
	return &Watcher{
		coordinator: coordinator,
		path:        path,
		limiter:     rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

// Start begins watching. Returns an error when the watcher is already
// running or the parent directory cannot be observed.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("enabled-record watcher is already running")
	}
	w.running = true
	w.done = make(chan struct{})
	done := w.done
	w.mu.Unlock()

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.markStopped()
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		fsw.Close()
		w.markStopped()
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}

	slog.Info("enabled-record watcher starting", "path", w.path)
	go w.runLoop(ctx, fsw, done)
	return nil
}

// Stop halts the watcher. Safe to call multiple times.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	close(w.done)
	w.running = false
}

func (w *Watcher) markStopped() {
	w.mu.Lock()
	w.running = false
	w.mu.Unlock()
}

// runLoop is the watcher goroutine.
func (w *Watcher) runLoop(ctx context.Context, fsw *fsnotify.Watcher, done chan struct{}) {
	defer fsw.Close()

	ticker := time.NewTicker(watcherPollInterval)
	defer ticker.Stop()

	base := filepath.Base(w.path)
	dirty := false

	for {
		select {
		case <-ctx.Done():
			slog.Info("enabled-record watcher stopped (context cancelled)")
			return
		case <-done:
			slog.Info("enabled-record watcher stopped (stop requested)")
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) || event.Has(fsnotify.Rename) {
				dirty = true
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("enabled-record watcher error", "error", err)
		case <-ticker.C:
			if !dirty || !w.limiter.Allow() {
				continue
			}
			dirty = false
			if err := w.coordinator.Rebuild(ctx); err != nil {
				slog.Warn("registry rebuild after record change failed", "error", err)
				continue
			}
			slog.Info("registry rebuilt after out-of-band record change", "path", w.path)
		}
	}
}
