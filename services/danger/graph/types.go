// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"fmt"
	"math"
)

// NodeID identifies a location on the danger map.
//
// Valid identifiers are in [1, MaxNodeID]. Zero is reserved as the
// "no parent" sentinel and is never a valid input node. The type is wider
// than the supported range so that callers can hand over raw parsed values
// and get ErrOutOfRange back instead of a silent truncation.
type NodeID int64

// Danger is the non-negative weight of an edge.
type Danger int64

// NoParent is the sentinel reported for ancestors above the root.
const NoParent NodeID = 0

// MaxNodeID is the largest node identifier the engine accepts.
const MaxNodeID NodeID = math.MaxInt32

// DefaultRoot is the root used when BuildOptions.Root is zero.
const DefaultRoot NodeID = 1

// EdgeRecord is one raw input edge: an unordered pair plus its danger.
type EdgeRecord struct {
	U      NodeID `json:"u"`
	V      NodeID `json:"v"`
	Danger Danger `json:"danger"`
}

// String returns the record in the "u v w" line syntax.
func (e EdgeRecord) String() string {
	return fmt.Sprintf("%d %d %d", e.U, e.V, e.Danger)
}

// QueryPair is one (u, v) path query.
type QueryPair struct {
	U NodeID `json:"u"`
	V NodeID `json:"v"`
}

// Side tells which endpoint's climb produced a path edge.
type Side int

const (
	// SideU marks edges found while climbing from u to the LCA.
	SideU Side = iota

	// SideV marks edges found while climbing from v to the LCA.
	SideV
)

// String returns the string representation of the side.
func (s Side) String() string {
	switch s {
	case SideU:
		return "u"
	case SideV:
		return "v"
	default:
		return "unknown"
	}
}

// PathEdge is a tree edge on a query path.
//
// U is always the child endpoint and V its parent in the rooted tree,
// matching the direction in which the edge was traversed during the climb.
type PathEdge struct {
	U      NodeID `json:"u"`
	V      NodeID `json:"v"`
	Danger Danger `json:"danger"`
	Side   Side   `json:"-"`
}

// EdgeRef names an edge by its endpoints.
type EdgeRef struct {
	U NodeID `json:"u"`
	V NodeID `json:"v"`
}

// PathResult holds the edges of a u-v path and the edge with the highest danger.
//
// Edges are in "u-side then v-side" order: the climb from u toward the LCA,
// followed by the climb from v toward the LCA. Use InPathOrder for the
// sequence as walked from u to v.
type PathResult struct {
	Edges         []PathEdge
	MaxDanger     Danger
	MaxDangerEdge *EdgeRef
}

// InPathOrder returns the path edges in walking order from u to v.
//
// Description:
//
//	The u-side segment is already in walking order. The v-side segment is
//	reversed and each of its edges re-oriented so that every returned edge
//	satisfies edges[i].V == edges[i+1].U.
//
// Outputs:
//   - []PathEdge: A new slice. The receiver is not modified.
func (p PathResult) InPathOrder() []PathEdge {
	out := make([]PathEdge, 0, len(p.Edges))
	split := len(p.Edges)
	for i, e := range p.Edges {
		if e.Side == SideV {
			split = i
			break
		}
		out = append(out, e)
	}
	for i := len(p.Edges) - 1; i >= split; i-- {
		e := p.Edges[i]
		out = append(out, PathEdge{U: e.V, V: e.U, Danger: e.Danger, Side: e.Side})
	}
	return out
}

// QueryResult is the outcome of a single path query.
//
// When Err is non-nil the remaining fields other than U and V are zero.
type QueryResult struct {
	U             NodeID
	V             NodeID
	MaxDanger     Danger
	PathEdges     []PathEdge
	MaxDangerEdge *EdgeRef
	Err           error
}

// OK reports whether the query succeeded.
func (r QueryResult) OK() bool {
	return r.Err == nil
}
