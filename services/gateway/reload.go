// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// PipelineWatcher hot-reloads the gateway's graph when the wiring file
// changes on disk.
//
// # Debouncing
//
// Editors and config management tools tend to emit bursts of events per
// save. Events are coalesced: the reload fires only after the debounce
// window passes without another change. A reload that fails leaves the
// previous graph serving.
//
// # Thread Safety
//
// Safe for concurrent use. Reloads run from a single goroutine.
type PipelineWatcher struct {
	server   *Server
	watcher  *fsnotify.Watcher
	debounce time.Duration

	pings    chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewPipelineWatcher creates a watcher for the server's configured
// pipeline file. The parent directory is watched because editors
// typically replace files by rename, which drops a watch held on the
// file itself.
func NewPipelineWatcher(s *Server) (*PipelineWatcher, error) {
	if s.cfg.PipelinePath == "" {
		return nil, fmt.Errorf("no pipeline path configured")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &PipelineWatcher{
		server:   s,
		watcher:  watcher,
		debounce: 200 * time.Millisecond,
		pings:    make(chan struct{}, 64),
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching. Both goroutines exit when Stop is called or
// the context is canceled.
func (w *PipelineWatcher) Start(ctx context.Context) error {
	dir := filepath.Dir(w.server.cfg.PipelinePath)
	if err := w.watcher.Add(dir); err != nil {
		return err
	}
	go w.processEvents(ctx)
	go w.debounceLoop(ctx)
	return nil
}

// Stop stops the watcher.
func (w *PipelineWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()
	})
}

// processEvents filters directory events down to the wiring file.
func (w *PipelineWatcher) processEvents(ctx context.Context) {
	target := filepath.Clean(w.server.cfg.PipelinePath)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			// Non-blocking; the debouncer only needs one pending ping.
			select {
			case w.pings <- struct{}{}:
			default:
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.server.logger.Warn("pipeline watcher error", slog.String("error", err.Error()))
		}
	}
}

// debounceLoop coalesces bursts of events into one reload.
func (w *PipelineWatcher) debounceLoop(ctx context.Context) {
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case <-w.pings:
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case <-timerC:
			timer = nil
			timerC = nil
			if err := w.server.ReloadPipeline(); err != nil {
				w.server.logger.Error("pipeline hot reload failed, keeping previous graph",
					slog.String("path", w.server.cfg.PipelinePath),
					slog.String("error", err.Error()))
			}
		}
	}
}
