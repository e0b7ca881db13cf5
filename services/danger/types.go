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
	"time"

	"github.com/AleutianAI/dangerpath/services/danger/graph"
	badgerstore "github.com/AleutianAI/dangerpath/services/danger/storage/badger"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// MapRequest is the request body for POST /v1/danger/map and
// PUT /v1/danger/maps/:name.
//
// Exactly one of Edges or Records should be set. Edges wins when both are.
type MapRequest struct {
	// Edges is "u v danger" lines.
	Edges string `json:"edges"`

	// Records is the structured alternative to Edges.
	Records []graph.EdgeRecord `json:"records" binding:"omitempty,dive"`

	// Root overrides the configured root (optional).
	Root int64 `json:"root" binding:"omitempty,min=1,max=2147483647"`
}

// QueryRequest is the request body for POST /v1/danger/query.
//
// Either Pairs or Queries must be set. Queries wins when both are.
type QueryRequest struct {
	// Pairs is a list of [u, v] pairs.
	Pairs [][2]int64 `json:"pairs"`

	// Queries is "u v" lines. Malformed lines produce error results.
	Queries string `json:"queries"`
}

// RunRequest is the request body for POST /v1/danger/run.
type RunRequest struct {
	Edges   string `json:"edges"`
	Queries string `json:"queries"`
	Root    int64  `json:"root" binding:"omitempty,min=1,max=2147483647"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// HealthResponse is the response for GET /v1/danger/health.
type HealthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Generation  uint64 `json:"generation"`
	NodeCount   int    `json:"node_count"`
	Subscribers int    `json:"subscribers"`
}

// MapSummary describes a loaded snapshot.
type MapSummary struct {
	Generation uint64       `json:"generation"`
	Source     string       `json:"source"`
	Root       graph.NodeID `json:"root"`
	NodeCount  int          `json:"node_count"`
	EdgeCount  int          `json:"edge_count"`
	Levels     int          `json:"levels"`
	MaxDepth   int          `json:"max_depth"`
	LoadedAt   time.Time    `json:"loaded_at"`
}

// QueryResultJSON is the wire form of one query result.
//
// PathEdges is always a list, empty on error. MaxDangerEdge is null when
// the path has no edges or the query failed.
type QueryResultJSON struct {
	U             graph.NodeID     `json:"u"`
	V             graph.NodeID     `json:"v"`
	MaxDanger     graph.Danger     `json:"max_danger"`
	PathEdges     []graph.PathEdge `json:"path_edges"`
	MaxDangerEdge *graph.EdgeRef   `json:"max_danger_edge"`
	Error         string           `json:"error,omitempty"`
	Code          string           `json:"code,omitempty"`
}

// QueryResponse is the response for POST /v1/danger/query.
type QueryResponse struct {
	Generation uint64            `json:"generation"`
	Results    []QueryResultJSON `json:"results"`
}

// RunResponse is the response for POST /v1/danger/run.
type RunResponse struct {
	Graph   graph.GraphData   `json:"graph"`
	Results []QueryResultJSON `json:"results"`
}

// MapListResponse is the response for GET /v1/danger/maps.
type MapListResponse struct {
	Maps []badgerstore.MapInfo `json:"maps"`
}

// StoredMapResponse is the response for GET /v1/danger/maps/:name.
type StoredMapResponse struct {
	Name    string             `json:"name"`
	Root    graph.NodeID       `json:"root"`
	Edges   []graph.EdgeRecord `json:"edges"`
	SavedAt time.Time          `json:"saved_at"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is the error code (optional).
	Code string `json:"code,omitempty"`

	// Details provides additional error context (optional).
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func summarize(s *Snapshot) MapSummary {
	g := s.Engine.Graph()
	t := s.Engine.Tables()
	return MapSummary{
		Generation: s.Generation,
		Source:     s.Source,
		Root:       g.Root(),
		NodeCount:  g.NodeCount(),
		EdgeCount:  g.EdgeCount(),
		Levels:     t.Levels(),
		MaxDepth:   t.MaxDepth(),
		LoadedAt:   s.LoadedAt,
	}
}

// ToResultJSON converts a query result to its wire form.
func ToResultJSON(r graph.QueryResult) QueryResultJSON {
	out := QueryResultJSON{
		U:         r.U,
		V:         r.V,
		PathEdges: []graph.PathEdge{},
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
		out.Code = graph.ErrorKind(r.Err)
		return out
	}
	out.MaxDanger = r.MaxDanger
	if len(r.PathEdges) > 0 {
		out.PathEdges = r.PathEdges
	}
	out.MaxDangerEdge = r.MaxDangerEdge
	return out
}

// ToResultsJSON converts results in order.
func ToResultsJSON(rs []graph.QueryResult) []QueryResultJSON {
	out := make([]QueryResultJSON, len(rs))
	for i, r := range rs {
		out[i] = ToResultJSON(r)
	}
	return out
}
