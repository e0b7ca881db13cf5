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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/dangerpath/services/danger/graph"
)

// writeEdges replaces path atomically so a watcher never sees a
// half-written file.
func writeEdges(t *testing.T, path, content string) {
	t.Helper()
	tmp := path + ".tmp"
	require.NoError(t, os.WriteFile(tmp, []byte(content), 0o644))
	require.NoError(t, os.Rename(tmp, path))
}

func waitEvent(t *testing.T, events <-chan Event, typ string) Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case e := <-events:
			if e.Type == typ {
				return e
			}
		case <-deadline:
			t.Fatalf("no %s event", typ)
			return Event{}
		}
	}
}

func TestWatchEdgesFile_InitialLoadAndReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "edges.txt")
	writeEdges(t, path, sampleEdgesText)

	svc := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w, err := svc.WatchEdgesFile(ctx, path, 20*time.Millisecond)
	require.NoError(t, err)
	defer w.Stop()

	snap := svc.Current()
	require.NotNil(t, snap)
	assert.Equal(t, uint64(1), snap.Generation)
	assert.Equal(t, "file:"+w.Path(), snap.Source)

	_, events, unsub := svc.Hub().Subscribe()
	defer unsub()

	writeEdges(t, path, "1 2 40\n2 3 1\n")
	e := waitEvent(t, events, EventMapLoaded)
	assert.Equal(t, 3, e.NodeCount)

	batch, err := svc.Query(ctx, []graph.QueryPair{{U: 3, V: 1}})
	require.NoError(t, err)
	assert.Equal(t, graph.Danger(40), batch.Results[0].MaxDanger)
}

func TestWatchEdgesFile_BadReloadKeepsSnapshot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "edges.txt")
	writeEdges(t, path, sampleEdgesText)

	svc := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w, err := svc.WatchEdgesFile(ctx, path, 20*time.Millisecond)
	require.NoError(t, err)
	defer w.Stop()
	before := svc.Current()

	_, events, unsub := svc.Hub().Subscribe()
	defer unsub()

	writeEdges(t, path, "1 2 3\n2 3 3\n3 1 3\n")
	e := waitEvent(t, events, EventReloadFailed)
	assert.Contains(t, e.Error, "cycle")
	assert.Equal(t, before.Generation, e.Generation)

	assert.Same(t, before, svc.Current())
	_, failures := w.Stats()
	assert.Equal(t, 1, failures)
}

func TestWatchEdgesFile_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "edges.txt")
	writeEdges(t, path, sampleEdgesText)

	svc := newTestService(t)
	w, err := svc.WatchEdgesFile(context.Background(), path, 20*time.Millisecond)
	require.NoError(t, err)
	defer w.Stop()

	writeEdges(t, filepath.Join(dir, "other.txt"), "garbage\n")
	time.Sleep(150 * time.Millisecond)

	reloads, failures := w.Stats()
	assert.Equal(t, 1, reloads)
	assert.Equal(t, 0, failures)
	assert.Equal(t, uint64(1), svc.Current().Generation)
}

func TestWatchEdgesFile_InitialFailure(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.WatchEdgesFile(context.Background(), filepath.Join(t.TempDir(), "missing.txt"), 0)
	assert.Error(t, err)
	assert.Nil(t, svc.Current())

	dir := t.TempDir()
	path := filepath.Join(dir, "edges.txt")
	writeEdges(t, path, "1 2\n")
	_, err = svc.WatchEdgesFile(context.Background(), path, 0)
	assert.ErrorIs(t, err, graph.ErrInvalidEdgeFormat)
}

func TestFileOp_String(t *testing.T) {
	assert.Equal(t, "create", FileOpCreate.String())
	assert.Equal(t, "write", FileOpWrite.String())
	assert.Equal(t, "remove", FileOpRemove.String())
	assert.Equal(t, "rename", FileOpRename.String())
	assert.Equal(t, "unknown", FileOp(99).String())
}
