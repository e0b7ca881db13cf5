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
	"runtime"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// batchChunkSize is the number of pairs one batch worker evaluates per task.
const batchChunkSize = 256

// PathQueryEngine answers path queries over a preprocessed danger map.
//
// Description:
//
//	Wraps a Graph and its LiftingTables. Every query resolves both
//	endpoints, then runs one of three algorithms sharing the tables:
//	lowest common ancestor, path maximum, and path reconstruction.
//
// Thread Safety:
//
//	Read-only. Any number of queries may run concurrently.
type PathQueryEngine struct {
	graph  *Graph
	tables *LiftingTables
}

// NewPathQueryEngine creates an engine over preprocessed tables.
//
// Outputs:
//   - *PathQueryEngine: Never nil on success.
//   - error: ErrTablesNotBuilt if tables is nil.
func NewPathQueryEngine(tables *LiftingTables) (*PathQueryEngine, error) {
	if tables == nil || tables.graph == nil {
		return nil, ErrTablesNotBuilt
	}
	return &PathQueryEngine{graph: tables.graph, tables: tables}, nil
}

// Graph returns the graph being queried.
func (e *PathQueryEngine) Graph() *Graph {
	return e.graph
}

// Tables returns the lifting tables being queried.
func (e *PathQueryEngine) Tables() *LiftingTables {
	return e.tables
}

// LCA returns the lowest common ancestor of u and v.
//
// Description:
//
//	Lifts the deeper node to the shallower node's depth by taking the
//	largest jumps that do not overshoot, then climbs both nodes together
//	while their ancestors differ. The LCA is the parent of either node
//	after the joint climb.
//
// Algorithm:
//
//	Time:  O(log D) where D is the maximum depth
//	Space: O(1)
//
// Inputs:
//   - ctx: Context for tracing. Must not be nil.
//   - u, v: Node ids.
//
// Outputs:
//   - NodeID: The LCA. Equal to u when u is an ancestor of v.
//   - error: ErrOutOfRange, ErrUnknownNode or ErrUnreachableNode.
//
// Thread Safety: Safe for concurrent use.
func (e *PathQueryEngine) LCA(ctx context.Context, u, v NodeID) (lca NodeID, err error) {
	_, span, start := e.startQuery(ctx, "lca", u, v)
	defer func() { e.endQuery(span, "lca", start, err) }()

	ui, vi, err := e.resolvePair(u, v)
	if err != nil {
		return NoParent, err
	}
	return e.graph.ids[e.lcaIndex(ui, vi)], nil
}

// MaxDanger returns the largest danger on the path between u and v.
//
// Description:
//
//	Same two-phase climb as LCA, folding the path maximum of every jump
//	taken. After the joint climb both nodes sit one edge below the LCA,
//	so their level-0 dangers are folded in as well. Zero when u == v.
//
// Algorithm:
//
//	Time:  O(log D)
//	Space: O(1)
//
// Inputs:
//   - ctx: Context for tracing. Must not be nil.
//   - u, v: Node ids.
//
// Outputs:
//   - Danger: The path maximum.
//   - error: ErrOutOfRange, ErrUnknownNode or ErrUnreachableNode.
//
// Thread Safety: Safe for concurrent use.
func (e *PathQueryEngine) MaxDanger(ctx context.Context, u, v NodeID) (maxDanger Danger, err error) {
	_, span, start := e.startQuery(ctx, "max_danger", u, v)
	defer func() { e.endQuery(span, "max_danger", start, err) }()

	ui, vi, err := e.resolvePair(u, v)
	if err != nil {
		return 0, err
	}
	return e.maxIndex(ui, vi), nil
}

// PathEdges reconstructs the edges of the u-v path.
//
// Description:
//
//	Computes the LCA, then walks from u up to it one parent edge at a
//	time, then from v. Edges come back in u-side then v-side order,
//	oriented child to parent. The max edge is the first edge seen with a
//	strictly greater danger than all before it, so ties keep the earliest
//	edge in that order.
//
// Algorithm:
//
//	Time:  O(log D + L) where L is the path length
//	Space: O(L)
//
// Inputs:
//   - ctx: Context for tracing. Must not be nil.
//   - u, v: Node ids.
//
// Outputs:
//   - PathResult: Empty edges and nil MaxDangerEdge when u == v.
//   - error: ErrOutOfRange, ErrUnknownNode or ErrUnreachableNode.
//
// Thread Safety: Safe for concurrent use.
func (e *PathQueryEngine) PathEdges(ctx context.Context, u, v NodeID) (res PathResult, err error) {
	_, span, start := e.startQuery(ctx, "path_edges", u, v)
	defer func() {
		span.SetAttributes(attribute.Int("path_length", len(res.Edges)))
		e.endQuery(span, "path_edges", start, err)
	}()

	ui, vi, err := e.resolvePair(u, v)
	if err != nil {
		return PathResult{}, err
	}
	return e.pathIndex(ui, vi), nil
}

// Distance returns the number of edges on the u-v path.
func (e *PathQueryEngine) Distance(ctx context.Context, u, v NodeID) (dist int, err error) {
	_, span, start := e.startQuery(ctx, "distance", u, v)
	defer func() { e.endQuery(span, "distance", start, err) }()

	ui, vi, err := e.resolvePair(u, v)
	if err != nil {
		return 0, err
	}
	l := e.lcaIndex(ui, vi)
	d := e.tables.depth
	return int(d[ui] + d[vi] - 2*d[l]), nil
}

// Query answers a full path query: maximum, edges and max edge.
//
// Description:
//
//	Runs MaxDanger and PathEdges for the pair. Errors are captured in
//	the result instead of being returned, so a batch can carry on past a
//	bad pair.
//
// Thread Safety: Safe for concurrent use.
func (e *PathQueryEngine) Query(ctx context.Context, u, v NodeID) QueryResult {
	res := QueryResult{U: u, V: v}
	maxDanger, err := e.MaxDanger(ctx, u, v)
	if err != nil {
		res.Err = err
		return res
	}
	path, err := e.PathEdges(ctx, u, v)
	if err != nil {
		res.Err = err
		return res
	}
	res.MaxDanger = maxDanger
	res.PathEdges = path.Edges
	res.MaxDangerEdge = path.MaxDangerEdge
	return res
}

// BatchQuery answers many pairs in parallel.
//
// Description:
//
//	Splits pairs into chunks evaluated by at most workers goroutines.
//	Results are in input order; a failing pair only affects its own
//	result.
//
// Inputs:
//   - ctx: Context for cancellation. Must not be nil.
//   - pairs: Query pairs.
//   - workers: Maximum parallelism. <= 0 means GOMAXPROCS.
//
// Outputs:
//   - []QueryResult: One result per pair.
//   - error: Non-nil only if ctx is nil or cancelled.
//
// Thread Safety: Safe for concurrent use.
func (e *PathQueryEngine) BatchQuery(ctx context.Context, pairs []QueryPair, workers int) ([]QueryResult, error) {
	if ctx == nil {
		return nil, errors.New("ctx must not be nil")
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	ctx, span := tracer.Start(ctx, "graph.BatchQuery",
		trace.WithAttributes(
			attribute.Int("pair_count", len(pairs)),
			attribute.Int("workers", workers),
		),
	)
	defer span.End()

	results := make([]QueryResult, len(pairs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for lo := 0; lo < len(pairs); lo += batchChunkSize {
		hi := min(lo+batchChunkSize, len(pairs))
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				results[i] = e.Query(gctx, pairs[i].U, pairs[i].V)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "batch cancelled")
		return nil, fmt.Errorf("batch query: %w", err)
	}
	span.SetStatus(codes.Ok, "batch complete")
	return results, nil
}

// resolvePair maps both endpoints to dense indices.
func (e *PathQueryEngine) resolvePair(u, v NodeID) (int32, int32, error) {
	ui, err := e.tables.resolve(u)
	if err != nil {
		return -1, -1, err
	}
	vi, err := e.tables.resolve(v)
	if err != nil {
		return -1, -1, err
	}
	return ui, vi, nil
}

// lcaIndex is LCA over dense indices. Both must be reached nodes.
func (e *PathQueryEngine) lcaIndex(u, v int32) int32 {
	t := e.tables
	n := t.n
	du, dv := int(t.depth[u]), int(t.depth[v])
	if du < dv {
		u, v = v, u
		du, dv = dv, du
	}

	for k := t.levels - 1; k >= 0; k-- {
		if du-1<<k >= dv {
			u = t.up[k*n+int(u)]
			du -= 1 << k
		}
	}
	if u == v {
		return u
	}

	for k := t.levels - 1; k >= 0; k-- {
		au, av := t.up[k*n+int(u)], t.up[k*n+int(v)]
		if au != -1 && au != av {
			u, v = au, av
		}
	}
	return t.up[u]
}

// maxIndex is MaxDanger over dense indices. Both must be reached nodes.
func (e *PathQueryEngine) maxIndex(u, v int32) Danger {
	t := e.tables
	n := t.n
	var best Danger
	du, dv := int(t.depth[u]), int(t.depth[v])
	if du < dv {
		u, v = v, u
		du, dv = dv, du
	}

	for k := t.levels - 1; k >= 0; k-- {
		if du-1<<k >= dv {
			best = max(best, t.maxUp[k*n+int(u)])
			u = t.up[k*n+int(u)]
			du -= 1 << k
		}
	}
	if u == v {
		return best
	}

	for k := t.levels - 1; k >= 0; k-- {
		au, av := t.up[k*n+int(u)], t.up[k*n+int(v)]
		if au != -1 && au != av {
			best = max(best, t.maxUp[k*n+int(u)], t.maxUp[k*n+int(v)])
			u, v = au, av
		}
	}
	// Both nodes are now children of the LCA; their last edges are not yet folded.
	return max(best, t.maxUp[u], t.maxUp[v])
}

// pathIndex is PathEdges over dense indices. Both must be reached nodes.
func (e *PathQueryEngine) pathIndex(u, v int32) PathResult {
	t := e.tables
	ids := e.graph.ids
	l := e.lcaIndex(u, v)

	length := int(t.depth[u] + t.depth[v] - 2*t.depth[l])
	res := PathResult{Edges: make([]PathEdge, 0, length)}
	best := Danger(-1)

	climb := func(from int32, side Side) {
		for cur := from; cur != l; {
			p := t.up[cur]
			d := t.maxUp[cur]
			res.Edges = append(res.Edges, PathEdge{U: ids[cur], V: ids[p], Danger: d, Side: side})
			if d > best {
				best = d
				res.MaxDangerEdge = &EdgeRef{U: ids[cur], V: ids[p]}
			}
			cur = p
		}
	}
	climb(u, SideU)
	climb(v, SideV)

	res.MaxDanger = max(best, 0)
	return res
}

// startQuery opens the span for a single query.
func (e *PathQueryEngine) startQuery(ctx context.Context, op string, u, v NodeID) (context.Context, trace.Span, time.Time) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := tracer.Start(ctx, "graph.PathQueryEngine."+op,
		trace.WithAttributes(
			attribute.Int64("u", int64(u)),
			attribute.Int64("v", int64(v)),
		),
	)
	return ctx, span, time.Now()
}

// endQuery records the outcome of a single query and closes its span.
func (e *PathQueryEngine) endQuery(span trace.Span, op string, start time.Time, err error) {
	observeQuery(op, time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, ErrorKind(err))
	}
	span.End()
}
