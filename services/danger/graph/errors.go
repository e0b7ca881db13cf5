// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph implements the danger-map tree query engine.
//
// A danger map is a tree given as n-1 weighted edges over n nodes. The
// package ingests the edge list, roots the tree, builds binary-lifting
// tables and answers lowest-common-ancestor, path-maximum and path
// reconstruction queries in O(log n).
//
// # Lifecycle
//
//  1. BuildGraph validates the edge records and produces an immutable *Graph
//  2. Preprocess walks the tree once and produces immutable *LiftingTables
//  3. NewPathQueryEngine wraps both for querying
//
// A new edge set requires repeating all three steps; nothing is updated
// incrementally.
//
// # Thread Safety
//
// Graph, LiftingTables and PathQueryEngine are read-only after construction
// and safe for concurrent use.
package graph

import (
	"context"
	"errors"
)

// Sentinel errors for building the graph.
var (
	// ErrInvalidEdgeFormat is returned when an edge record is not three
	// integers with endpoints in [1, MaxNodeID] and a non-negative danger.
	ErrInvalidEdgeFormat = errors.New("invalid edge format")

	// ErrCycleDetected is returned when an edge joins two nodes that are
	// already connected, including self-loops and repeated edges.
	ErrCycleDetected = errors.New("edge set contains a cycle")

	// ErrDisconnectedGraph is returned when the edge set forms more than
	// one component.
	ErrDisconnectedGraph = errors.New("edge set is not connected")

	// ErrRootNotFound is returned when the requested root does not appear
	// in any edge.
	ErrRootNotFound = errors.New("root node not found")
)

// Sentinel errors for queries.
var (
	// ErrInvalidQueryFormat is returned when a raw query record is not two integers.
	ErrInvalidQueryFormat = errors.New("invalid query")

	// ErrUnknownNode is returned when a query names an id absent from the map.
	ErrUnknownNode = errors.New("unknown node")

	// ErrOutOfRange is returned when a query names a non-positive id or one
	// above the largest id of the map.
	ErrOutOfRange = errors.New("node id out of range")

	// ErrUnreachableNode is returned when a node was not reached from the
	// root. Only possible when the tree check was skipped at build time.
	ErrUnreachableNode = errors.New("node not reachable from root")

	// ErrTablesNotBuilt is returned when an engine is used without tables.
	ErrTablesNotBuilt = errors.New("lifting tables not built")
)

// Error kinds are stable tags for errors, used in JSON payloads and metric labels.
const (
	KindInvalidEdgeFormat  = "INVALID_EDGE_FORMAT"
	KindInvalidQueryFormat = "INVALID_QUERY_FORMAT"
	KindUnknownNode        = "UNKNOWN_NODE"
	KindOutOfRange         = "OUT_OF_RANGE"
	KindCycleDetected      = "CYCLE_DETECTED"
	KindDisconnectedGraph  = "DISCONNECTED_GRAPH"
	KindRootNotFound       = "ROOT_NOT_FOUND"
	KindUnreachableNode    = "UNREACHABLE_NODE"
	KindCanceled           = "CANCELED"
	KindInternal           = "INTERNAL"
)

// ErrorKind maps an error to its stable tag. Returns "" for a nil error.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidEdgeFormat):
		return KindInvalidEdgeFormat
	case errors.Is(err, ErrInvalidQueryFormat):
		return KindInvalidQueryFormat
	case errors.Is(err, ErrOutOfRange):
		return KindOutOfRange
	case errors.Is(err, ErrUnknownNode):
		return KindUnknownNode
	case errors.Is(err, ErrCycleDetected):
		return KindCycleDetected
	case errors.Is(err, ErrDisconnectedGraph):
		return KindDisconnectedGraph
	case errors.Is(err, ErrRootNotFound):
		return KindRootNotFound
	case errors.Is(err, ErrUnreachableNode):
		return KindUnreachableNode
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	default:
		return KindInternal
	}
}
