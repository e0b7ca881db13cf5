// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/dangerpath/services/danger/graph"
)

func newTestStore(t *testing.T) *MapStore {
	t.Helper()
	db, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := NewMapStore(db)
	require.NoError(t, err)
	return store
}

// TestOpenInMemory verifies in-memory database creation works.
func TestOpenInMemory(t *testing.T) {
	db, err := OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	assert.True(t, db.InMemory())
	assert.Empty(t, db.Path())

	err = db.WithTxn(context.Background(), func(txn *badger.Txn) error {
		return txn.Set([]byte("key"), []byte("value"))
	})
	require.NoError(t, err)
}

// TestOpen_PersistsAcrossReopen verifies saved maps survive a close.
func TestOpen_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	cfg := DefaultConfig(dir)
	cfg.GCInterval = time.Hour
	db, err := Open(cfg)
	require.NoError(t, err)

	store, err := NewMapStore(db)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, StoredMap{Name: "shire", Root: 1, Edges: []graph.EdgeRecord{{U: 1, V: 2, Danger: 3}}}))
	require.NoError(t, db.Close())

	db, err = Open(cfg)
	require.NoError(t, err)
	defer db.Close()

	store, err = NewMapStore(db)
	require.NoError(t, err)
	m, err := store.Load(ctx, "shire")
	require.NoError(t, err)
	assert.Equal(t, []graph.EdgeRecord{{U: 1, V: 2, Danger: 3}}, m.Edges)
}

// TestOpen_RequiresPath verifies a persistent store needs a directory.
func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

// TestMapStore_SaveLoad verifies a round trip keeps edges, root and order.
func TestMapStore_SaveLoad(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	edges := []graph.EdgeRecord{{U: 3, V: 1, Danger: 4}, {U: 1, V: 2, Danger: 9}}
	require.NoError(t, store.Save(ctx, StoredMap{Name: "mordor", Root: 3, Edges: edges}))

	m, err := store.Load(ctx, "mordor")
	require.NoError(t, err)
	assert.Equal(t, "mordor", m.Name)
	assert.Equal(t, graph.NodeID(3), m.Root)
	assert.Equal(t, edges, m.Edges)
	assert.False(t, m.SavedAt.IsZero())
}

// TestMapStore_Overwrite verifies saving under an existing name replaces it.
func TestMapStore_Overwrite(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, StoredMap{Name: "a", Edges: []graph.EdgeRecord{{U: 1, V: 2, Danger: 1}}}))
	require.NoError(t, store.Save(ctx, StoredMap{Name: "a", Edges: []graph.EdgeRecord{{U: 1, V: 2, Danger: 7}}}))

	m, err := store.Load(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, graph.Danger(7), m.Edges[0].Danger)
}

// TestMapStore_ListAndDelete verifies listing order and deletion.
func TestMapStore_ListAndDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	infos, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, infos)

	require.NoError(t, store.Save(ctx, StoredMap{Name: "rohan", Edges: []graph.EdgeRecord{{U: 1, V: 2, Danger: 1}}}))
	require.NoError(t, store.Save(ctx, StoredMap{Name: "gondor", Edges: []graph.EdgeRecord{{U: 1, V: 2, Danger: 1}, {U: 2, V: 3, Danger: 1}}}))

	infos, err = store.List(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "gondor", infos[0].Name)
	assert.Equal(t, 2, infos[0].EdgeCount)
	assert.Equal(t, "rohan", infos[1].Name)

	require.NoError(t, store.Delete(ctx, "gondor"))
	_, err = store.Load(ctx, "gondor")
	assert.ErrorIs(t, err, ErrMapNotFound)

	assert.ErrorIs(t, store.Delete(ctx, "gondor"), ErrMapNotFound)
}

// TestMapStore_InvalidName verifies names are checked before touching the store.
func TestMapStore_InvalidName(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"", "has space", "../escape", string(make([]byte, 200))} {
		assert.ErrorIs(t, store.Save(ctx, StoredMap{Name: name}), ErrInvalidMapName, "name %q", name)
		_, err := store.Load(ctx, name)
		assert.ErrorIs(t, err, ErrInvalidMapName)
	}
}

// TestMapStore_CancelledContext verifies cancelled calls do not run.
func TestMapStore_CancelledContext(t *testing.T) {
	store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := store.Save(ctx, StoredMap{Name: "x"})
	assert.ErrorIs(t, err, context.Canceled)
}
