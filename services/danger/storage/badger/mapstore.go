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
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/dangerpath/services/danger/graph"
)

// mapKeyPrefix namespaces saved maps in the keyspace.
const mapKeyPrefix = "map:"

var (
	// ErrMapNotFound is returned when no map is saved under a name.
	ErrMapNotFound = errors.New("map not found")

	// ErrInvalidMapName is returned for names outside [A-Za-z0-9._-]{1,128}.
	ErrInvalidMapName = errors.New("invalid map name")
)

var mapNamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,128}$`)

// StoredMap is a saved edge set.
type StoredMap struct {
	Name    string             `json:"name"`
	Root    graph.NodeID       `json:"root"`
	Edges   []graph.EdgeRecord `json:"edges"`
	SavedAt time.Time          `json:"saved_at"`
}

// MapInfo summarises a saved map without its edges.
type MapInfo struct {
	Name      string       `json:"name"`
	Root      graph.NodeID `json:"root"`
	EdgeCount int          `json:"edge_count"`
	SavedAt   time.Time    `json:"saved_at"`
}

// MapStore saves, lists and deletes named danger maps.
//
// Thread Safety: Safe for concurrent use.
type MapStore struct {
	db *DB
}

// NewMapStore creates a store over db.
func NewMapStore(db *DB) (*MapStore, error) {
	if db == nil {
		return nil, errors.New("db must not be nil")
	}
	return &MapStore{db: db}, nil
}

// ValidateMapName checks a map name against the allowed pattern.
func ValidateMapName(name string) error {
	if !mapNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidMapName, name)
	}
	return nil
}

// Save writes m, replacing any map with the same name. SavedAt is set
// to now when zero.
func (s *MapStore) Save(ctx context.Context, m StoredMap) error {
	if err := ValidateMapName(m.Name); err != nil {
		return err
	}
	if m.SavedAt.IsZero() {
		m.SavedAt = time.Now().UTC()
	}
	if m.Edges == nil {
		m.Edges = []graph.EdgeRecord{}
	}

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode map %s: %w", m.Name, err)
	}
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set(mapKey(m.Name), data)
	})
}

// Load reads the map saved under name.
func (s *MapStore) Load(ctx context.Context, name string) (*StoredMap, error) {
	if err := ValidateMapName(name); err != nil {
		return nil, err
	}

	var m StoredMap
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(mapKey(name))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrMapNotFound, name)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &m)
		})
	})
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// List returns every saved map in name order.
func (s *MapStore) List(ctx context.Context) ([]MapInfo, error) {
	infos := make([]MapInfo, 0)
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{
			PrefetchValues: true,
			PrefetchSize:   64,
			Prefix:         []byte(mapKeyPrefix),
		})
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var m StoredMap
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &m)
			})
			if err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			infos = append(infos, MapInfo{
				Name:      m.Name,
				Root:      m.Root,
				EdgeCount: len(m.Edges),
				SavedAt:   m.SavedAt,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return infos, nil
}

// Delete removes the map saved under name.
func (s *MapStore) Delete(ctx context.Context, name string) error {
	if err := ValidateMapName(name); err != nil {
		return err
	}
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(mapKey(name)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: %s", ErrMapNotFound, name)
			}
			return err
		}
		return txn.Delete(mapKey(name))
	})
}

func mapKey(name string) []byte {
	return []byte(mapKeyPrefix + name)
}
