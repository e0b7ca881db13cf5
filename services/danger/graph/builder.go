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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// adjEntry is one directed half of an undirected edge.
type adjEntry struct {
	to     int32  // Dense index of the neighbor
	danger Danger // Weight of the edge
}

// Graph is the validated, immutable adjacency structure of a danger map.
//
// Description:
//
//	Node identifiers are mapped to dense indices [0, NodeCount) in
//	ascending id order, so every table downstream is sized to the nodes
//	actually present rather than to the largest identifier. Each input
//	edge is stored twice, once per direction, and per-node adjacency keeps
//	the input order.
//
// Invariants:
//   - ids is sorted ascending and len(ids) == len(adj) == len(index)
//   - ids[index[id]] == id for every present id
//   - rootIdx == -1 iff the graph is empty
//   - when treeChecked is true the edges form a single tree containing root
//
// Thread Safety:
//
//	Read-only after construction. Safe for concurrent use.
type Graph struct {
	ids   []NodeID         // ids[i] = node id at dense index i
	index map[NodeID]int32 // node id -> dense index
	adj   [][]adjEntry     // adj[i] = incident edges of node i, input order
	edges []EdgeRecord     // edges in input order

	maxID       NodeID
	root        NodeID
	rootIdx     int32
	treeChecked bool
	buildTime   time.Duration
}

// BuildOptions configures BuildGraph.
type BuildOptions struct {
	// Root is the node the tree is rooted at. Zero means DefaultRoot.
	Root NodeID

	// SkipTreeCheck disables the cycle and connectivity checks. Nodes not
	// reachable from the root are then reported as ErrUnreachableNode by
	// queries instead of failing the build.
	SkipTreeCheck bool

	// Logger receives build diagnostics. Nil means slog.Default().
	Logger *slog.Logger
}

// DefaultBuildOptions returns options rooting the tree at DefaultRoot with
// tree checks enabled.
func DefaultBuildOptions() BuildOptions {
	return BuildOptions{Root: DefaultRoot}
}

// BuildGraph validates edge records and builds the adjacency structure.
//
// Description:
//
//	Validates every record, maps node ids to dense indices, appends both
//	directions of each edge and checks that the edge set is a single tree
//	containing the root. Any failure aborts the whole build; no partial
//	graph is returned.
//
// Algorithm:
//
//	Time:  O(E log E) for sorting node ids, O(E α(V)) for the tree check
//	Space: O(V + E)
//
// Inputs:
//   - ctx: Context for tracing. Must not be nil.
//   - records: Edge records in input order. May be empty.
//   - opts: Build options. Zero value roots at DefaultRoot with checks on.
//
// Outputs:
//   - *Graph: The built graph. Empty (IsEmpty) when records is empty.
//   - error: ErrInvalidEdgeFormat, ErrCycleDetected, ErrDisconnectedGraph
//     or ErrRootNotFound, wrapped with the offending record or id.
//
// Example:
//
//	g, err := graph.BuildGraph(ctx, records, graph.DefaultBuildOptions())
//	if err != nil {
//	    return fmt.Errorf("build danger map: %w", err)
//	}
//
// Thread Safety: Safe for concurrent use with different inputs.
func BuildGraph(ctx context.Context, records []EdgeRecord, opts BuildOptions) (*Graph, error) {
	if ctx == nil {
		return nil, errors.New("ctx must not be nil")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	root := opts.Root
	if root == 0 {
		root = DefaultRoot
	}

	ctx, span := tracer.Start(ctx, "graph.BuildGraph",
		trace.WithAttributes(
			attribute.Int("edge_count", len(records)),
			attribute.Int64("root", int64(root)),
			attribute.Bool("skip_tree_check", opts.SkipTreeCheck),
		),
	)
	defer span.End()

	start := time.Now()
	g, err := buildGraph(records, root, opts.SkipTreeCheck)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "build failed")
		recordBuildMetrics(ctx, time.Since(start), 0, ErrorKind(err))
		logger.Warn("danger map build failed",
			slog.Int("edge_count", len(records)),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	g.buildTime = time.Since(start)

	span.SetAttributes(
		attribute.Int("node_count", g.NodeCount()),
		attribute.Int64("max_node_id", int64(g.maxID)),
	)
	span.SetStatus(codes.Ok, "graph built")
	recordBuildMetrics(ctx, g.buildTime, g.NodeCount(), "")

	logger.Debug("danger map built",
		slog.Int("node_count", g.NodeCount()),
		slog.Int("edge_count", g.EdgeCount()),
		slog.Int64("root", int64(root)),
		slog.Duration("duration", g.buildTime),
	)
	return g, nil
}

func buildGraph(records []EdgeRecord, root NodeID, skipTreeCheck bool) (*Graph, error) {
	g := &Graph{
		index:       make(map[NodeID]int32),
		root:        root,
		rootIdx:     -1,
		treeChecked: !skipTreeCheck,
	}
	if len(records) == 0 {
		return g, nil
	}

	for i, rec := range records {
		if err := validateRecord(rec); err != nil {
			return nil, fmt.Errorf("%w: record %d (%s): %v", ErrInvalidEdgeFormat, i+1, rec, err)
		}
		if _, ok := g.index[rec.U]; !ok {
			g.index[rec.U] = -1
		}
		if _, ok := g.index[rec.V]; !ok {
			g.index[rec.V] = -1
		}
	}

	// Dense indices in ascending id order keep table layouts deterministic.
	g.ids = make([]NodeID, 0, len(g.index))
	for id := range g.index {
		g.ids = append(g.ids, id)
	}
	slices.Sort(g.ids)
	for i, id := range g.ids {
		g.index[id] = int32(i)
	}
	g.maxID = g.ids[len(g.ids)-1]

	g.edges = slices.Clone(records)
	g.adj = make([][]adjEntry, len(g.ids))
	for _, rec := range records {
		u, v := g.index[rec.U], g.index[rec.V]
		g.adj[u] = append(g.adj[u], adjEntry{to: v, danger: rec.Danger})
		g.adj[v] = append(g.adj[v], adjEntry{to: u, danger: rec.Danger})
	}

	rootIdx, ok := g.index[root]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrRootNotFound, root)
	}
	g.rootIdx = rootIdx

	if !skipTreeCheck {
		if err := g.checkTree(); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// validateRecord checks endpoint ranges and the sign of the danger.
func validateRecord(rec EdgeRecord) error {
	if rec.U <= 0 || rec.U > MaxNodeID {
		return fmt.Errorf("endpoint %d outside [1, %d]", rec.U, MaxNodeID)
	}
	if rec.V <= 0 || rec.V > MaxNodeID {
		return fmt.Errorf("endpoint %d outside [1, %d]", rec.V, MaxNodeID)
	}
	if rec.Danger < 0 {
		return fmt.Errorf("negative danger %d", rec.Danger)
	}
	return nil
}

// checkTree verifies the edge set is acyclic and connected.
func (g *Graph) checkTree() error {
	uf := newUnionFind(len(g.ids))
	for i, rec := range g.edges {
		if !uf.union(g.index[rec.U], g.index[rec.V]) {
			return fmt.Errorf("%w: record %d (%s) closes a cycle", ErrCycleDetected, i+1, rec)
		}
	}
	if n := uf.count(); n > 1 {
		return fmt.Errorf("%w: %d components", ErrDisconnectedGraph, n)
	}
	return nil
}

// NodeCount returns the number of distinct nodes.
func (g *Graph) NodeCount() int {
	return len(g.ids)
}

// EdgeCount returns the number of input edges.
func (g *Graph) EdgeCount() int {
	return len(g.edges)
}

// IsEmpty reports whether the graph was built from zero records.
func (g *Graph) IsEmpty() bool {
	return len(g.ids) == 0
}

// Root returns the root node id.
func (g *Graph) Root() NodeID {
	return g.root
}

// MaxNodeID returns the largest node id present, or 0 for an empty graph.
func (g *Graph) MaxNodeID() NodeID {
	return g.maxID
}

// TreeChecked reports whether the cycle and connectivity checks ran.
func (g *Graph) TreeChecked() bool {
	return g.treeChecked
}

// BuildTime returns how long BuildGraph took.
func (g *Graph) BuildTime() time.Duration {
	return g.buildTime
}

// Has reports whether id appears in at least one edge.
func (g *Graph) Has(id NodeID) bool {
	_, ok := g.index[id]
	return ok
}

// Nodes returns all node ids in ascending order.
func (g *Graph) Nodes() []NodeID {
	return slices.Clone(g.ids)
}

// Edges returns the edge records in input order.
func (g *Graph) Edges() []EdgeRecord {
	return slices.Clone(g.edges)
}

// Neighbors returns the nodes adjacent to id in input order.
func (g *Graph) Neighbors(id NodeID) ([]NodeID, error) {
	idx, err := g.resolve(id)
	if err != nil {
		return nil, err
	}
	out := make([]NodeID, len(g.adj[idx]))
	for i, e := range g.adj[idx] {
		out[i] = g.ids[e.to]
	}
	return out, nil
}

// resolve maps a query id to its dense index.
func (g *Graph) resolve(id NodeID) (int32, error) {
	if id <= 0 || id > g.maxID {
		return -1, fmt.Errorf("%w: %d", ErrOutOfRange, id)
	}
	idx, ok := g.index[id]
	if !ok {
		return -1, fmt.Errorf("%w: %d", ErrUnknownNode, id)
	}
	return idx, nil
}
