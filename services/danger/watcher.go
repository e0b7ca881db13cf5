// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package danger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/dangerpath/services/danger/textio"
)

// DefaultDebounce is the reload debounce window when none is configured.
const DefaultDebounce = 200 * time.Millisecond

// FileOp is the kind of change seen on the edges file.
type FileOp int

const (
	FileOpCreate FileOp = iota
	FileOpWrite
	FileOpRemove
	FileOpRename
)

// String returns the string representation of the operation.
func (op FileOp) String() string {
	switch op {
	case FileOpCreate:
		return "create"
	case FileOpWrite:
		return "write"
	case FileOpRemove:
		return "remove"
	case FileOpRename:
		return "rename"
	default:
		return "unknown"
	}
}

// FileChange is one observed change to the edges file.
type FileChange struct {
	Path string
	Op   FileOp
	Time time.Time
}

// EdgesWatcher reloads the service whenever the edges file changes.
//
// # Description
//
// The parent directory is watched rather than the file itself so that
// editors which save by writing a temp file and renaming it over the
// original are still seen. Events for other files are ignored. Bursts of
// events are collapsed by a debounce window and trigger a single reload.
//
// A reload that fails to read, parse or build logs the error, publishes
// a reload_failed event and keeps the previous snapshot.
//
// # Thread Safety
//
// Safe for concurrent use. Reloads run on a single goroutine.
type EdgesWatcher struct {
	svc      *Service
	path     string
	debounce time.Duration
	watcher  *fsnotify.Watcher
	logger   *slog.Logger

	changes  chan FileChange
	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once

	mu       sync.Mutex
	reloads  int
	failures int
}

// WatchEdgesFile loads path now and keeps reloading it on change.
//
// # Inputs
//
//   - ctx: Watching stops when ctx is cancelled.
//   - path: The edges file.
//   - debounce: Quiet period before a reload. Zero uses DefaultDebounce.
//
// # Outputs
//
//   - *EdgesWatcher: Running watcher. Call Stop to release it.
//   - error: Initial load failure or watcher setup failure. Nothing is left
//     running on error.
func (s *Service) WatchEdgesFile(ctx context.Context, path string, debounce time.Duration) (*EdgesWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve edges path: %w", err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	w := &EdgesWatcher{
		svc:      s,
		path:     abs,
		debounce: debounce,
		logger:   s.logger.With(slog.String("edges_file", abs)),
		changes:  make(chan FileChange, 64),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}

	if err := w.reload(ctx); err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	w.watcher = fw

	go w.processEvents(ctx)
	go w.debounceLoop(ctx)

	w.logger.Info("watching edges file", slog.Duration("debounce", debounce))
	return w, nil
}

// Path returns the absolute path being watched.
func (w *EdgesWatcher) Path() string {
	return w.path
}

// Stats returns the number of successful and failed reloads, including
// the initial load.
func (w *EdgesWatcher) Stats() (reloads, failures int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads, w.failures
}

// Stop stops watching and waits for an in-flight reload to finish.
func (w *EdgesWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()
		<-w.stopped
	})
}

func (w *EdgesWatcher) processEvents(ctx context.Context) {
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
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			change := FileChange{Path: event.Name, Op: convertOp(event.Op), Time: time.Now()}
			select {
			case w.changes <- change:
			default:
				// A reload is already pending; it will read the latest contents.
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", slog.String("error", err.Error()))
		}
	}
}

func convertOp(op fsnotify.Op) FileOp {
	switch {
	case op.Has(fsnotify.Create):
		return FileOpCreate
	case op.Has(fsnotify.Write):
		return FileOpWrite
	case op.Has(fsnotify.Remove):
		return FileOpRemove
	case op.Has(fsnotify.Rename):
		return FileOpRename
	default:
		return FileOpWrite
	}
}

// debounceLoop collects changes and reloads once the window goes quiet.
func (w *EdgesWatcher) debounceLoop(ctx context.Context) {
	defer close(w.stopped)

	var batch []FileChange
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() {
		if timer != nil {
			timer.Stop()
			timer = nil
			timerC = nil
		}
		if len(batch) == 0 {
			return
		}
		last := batch[len(batch)-1]
		batch = batch[:0]
		if last.Op == FileOpRemove || last.Op == FileOpRename {
			// Replaced files show up again as a create.
			if _, err := os.Stat(w.path); err != nil {
				w.logger.Warn("edges file gone, keeping current map", slog.String("op", last.Op.String()))
				return
			}
		}
		_ = w.reload(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case change := <-w.changes:
			batch = append(batch, change)
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case <-timerC:
			flush()
		}
	}
}

// reload reads and loads the edges file, recording the outcome.
func (w *EdgesWatcher) reload(ctx context.Context) error {
	err := w.load(ctx)

	w.mu.Lock()
	if err != nil {
		w.failures++
	} else {
		w.reloads++
	}
	w.mu.Unlock()

	if err != nil {
		w.logger.Error("edges reload failed", slog.String("error", err.Error()))
		var gen uint64
		if cur := w.svc.Current(); cur != nil {
			gen = cur.Generation
		}
		w.svc.hub.Publish(Event{
			Type:       EventReloadFailed,
			Generation: gen,
			Source:     "file:" + w.path,
			Error:      err.Error(),
		})
	}
	return err
}

func (w *EdgesWatcher) load(ctx context.Context) error {
	f, err := os.Open(w.path)
	if err != nil {
		snapshotLoads.WithLabelValues("file", "read_error").Inc()
		return fmt.Errorf("open edges file: %w", err)
	}
	defer f.Close()

	records, err := textio.ParseEdges(f)
	if err != nil {
		snapshotLoads.WithLabelValues("file", "parse_error").Inc()
		return err
	}
	_, err = w.svc.Load(ctx, records, LoadOptions{Source: "file:" + w.path})
	return err
}
