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
	"math/bits"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ctxCheckInterval is how many DFS pops happen between cancellation checks.
const ctxCheckInterval = 1024

// LiftingTables holds the binary-lifting tables of a rooted danger map.
//
// Description:
//
//	For every node i and level k, up[k*n+i] is the dense index of the
//	ancestor reached by walking 2^k parent edges from i, or -1 when that
//	walk leaves the tree. maxUp[k*n+i] is the largest danger crossed by
//	the same walk. Level 0 is the immediate parent and the danger of the
//	edge to it.
//
// Invariants:
//   - len(depth) == n, len(up) == len(maxUp) == levels*n
//   - depth[root] == 0, up[root] == -1 at every level
//   - depth[i] == -1 iff i was not reached from the root
//   - 2^(levels-1) >= maxDepth, so one jump per level covers any climb
//
// Thread Safety:
//
//	Read-only after construction. Safe for concurrent queries.
type LiftingTables struct {
	graph *Graph

	n        int
	levels   int
	depth    []int32
	up       []int32
	maxUp    []Danger
	maxDepth int32
	reached  int

	buildTime time.Duration
}

// dfsFrame is a pending visit in the explicit-stack traversal.
type dfsFrame struct {
	v      int32  // Node to visit
	p      int32  // Node we arrived from, -1 for the root
	d      int32  // Depth of v
	danger Danger // Danger of the edge p-v, 0 for the root
}

// Preprocess roots the graph and builds its binary-lifting tables.
//
// Description:
//
//	Walks the tree once from the root with an explicit stack, assigning
//	depth, immediate parent and incoming danger to every reached node,
//	then doubles the tables level by level.
//
// Algorithm:
//
//	Time:  O(V log D) where D is the maximum depth
//	Space: O(V log D) for the tables, O(V) for the traversal stack
//
// Inputs:
//   - ctx: Context for cancellation and tracing. Must not be nil.
//   - g: Graph from BuildGraph. Must not be nil.
//
// Outputs:
//   - *LiftingTables: Tables ready for NewPathQueryEngine. Never nil on success.
//   - error: Non-nil if ctx is cancelled or g is nil.
//
// Thread Safety: Safe for concurrent use with different graphs.
func Preprocess(ctx context.Context, g *Graph) (*LiftingTables, error) {
	if ctx == nil {
		return nil, errors.New("ctx must not be nil")
	}
	if g == nil {
		return nil, errors.New("graph must not be nil")
	}

	ctx, span := tracer.Start(ctx, "graph.Preprocess",
		trace.WithAttributes(
			attribute.Int("node_count", g.NodeCount()),
			attribute.Int64("root", int64(g.root)),
		),
	)
	defer span.End()

	start := time.Now()
	t := &LiftingTables{graph: g, n: g.NodeCount(), levels: 1}
	if g.IsEmpty() {
		span.SetStatus(codes.Ok, "empty graph")
		return t, nil
	}

	span.AddEvent("rooting_tree")
	parent, danger, err := t.root(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "traversal failed")
		return nil, err
	}

	span.AddEvent("doubling_tables")
	if err := t.double(ctx, parent, danger); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "doubling failed")
		return nil, err
	}

	t.buildTime = time.Since(start)
	span.SetAttributes(
		attribute.Int("levels", t.levels),
		attribute.Int("max_depth", int(t.maxDepth)),
		attribute.Int("reached", t.reached),
	)
	span.SetStatus(codes.Ok, "tables built")
	recordPreprocessMetrics(ctx, t.buildTime, t.levels)

	if t.reached != t.n {
		slog.Warn("danger map has nodes unreachable from root",
			slog.Int64("root", int64(g.root)),
			slog.Int("reached", t.reached),
			slog.Int("node_count", t.n),
		)
	}
	return t, nil
}

// root runs the iterative DFS and returns the level-0 parent and danger arrays.
func (t *LiftingTables) root(ctx context.Context) ([]int32, []Danger, error) {
	g := t.graph
	t.depth = make([]int32, t.n)
	parent := make([]int32, t.n)
	danger := make([]Danger, t.n)
	for i := range t.depth {
		t.depth[i] = -1
		parent[i] = -1
	}

	stack := []dfsFrame{{v: g.rootIdx, p: -1, d: 0, danger: 0}}
	pops := 0
	for len(stack) > 0 {
		pops++
		if pops%ctxCheckInterval == 0 {
			select {
			case <-ctx.Done():
				return nil, nil, fmt.Errorf("root tree: %w", ctx.Err())
			default:
			}
		}

		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		// Only reachable twice when the tree check was skipped on a cyclic input.
		if t.depth[f.v] != -1 {
			continue
		}
		t.depth[f.v] = f.d
		parent[f.v] = f.p
		danger[f.v] = f.danger
		t.reached++
		if f.d > t.maxDepth {
			t.maxDepth = f.d
		}

		// Pushed in reverse so children pop in adjacency order.
		adj := g.adj[f.v]
		for i := len(adj) - 1; i >= 0; i-- {
			e := adj[i]
			if e.to == f.p {
				continue
			}
			stack = append(stack, dfsFrame{v: e.to, p: f.v, d: f.d + 1, danger: e.danger})
		}
	}
	return parent, danger, nil
}

// double fills levels 1..levels-1 from level 0.
func (t *LiftingTables) double(ctx context.Context, parent []int32, danger []Danger) error {
	n := t.n
	t.levels = 1
	if t.maxDepth > 0 {
		t.levels += bits.Len32(uint32(t.maxDepth - 1))
	}
	t.up = make([]int32, t.levels*n)
	t.maxUp = make([]Danger, t.levels*n)
	copy(t.up[:n], parent)
	copy(t.maxUp[:n], danger)

	for k := 1; k < t.levels; k++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("double tables at level %d: %w", k, ctx.Err())
		default:
		}

		prev, cur := (k-1)*n, k*n
		for i := 0; i < n; i++ {
			mid := t.up[prev+i]
			if mid == -1 {
				t.up[cur+i] = -1
				continue
			}
			t.up[cur+i] = t.up[prev+int(mid)]
			t.maxUp[cur+i] = max(t.maxUp[prev+i], t.maxUp[prev+int(mid)])
		}
	}
	return nil
}

// Graph returns the graph the tables were built from.
func (t *LiftingTables) Graph() *Graph {
	return t.graph
}

// Levels returns the number of lifting levels.
func (t *LiftingTables) Levels() int {
	return t.levels
}

// MaxDepth returns the depth of the deepest reached node.
func (t *LiftingTables) MaxDepth() int {
	return int(t.maxDepth)
}

// Reached returns how many nodes the traversal reached from the root.
func (t *LiftingTables) Reached() int {
	return t.reached
}

// BuildTime returns how long Preprocess took.
func (t *LiftingTables) BuildTime() time.Duration {
	return t.buildTime
}

// Depth returns the depth of id below the root.
func (t *LiftingTables) Depth(id NodeID) (int, error) {
	idx, err := t.resolve(id)
	if err != nil {
		return 0, err
	}
	return int(t.depth[idx]), nil
}

// Ancestor returns the ancestor 2^k parent edges above id, or NoParent
// when that walk leaves the tree or k is outside [0, Levels).
func (t *LiftingTables) Ancestor(id NodeID, k int) (NodeID, error) {
	idx, err := t.resolve(id)
	if err != nil {
		return NoParent, err
	}
	if k < 0 || k >= t.levels {
		return NoParent, nil
	}
	a := t.up[k*t.n+int(idx)]
	if a == -1 {
		return NoParent, nil
	}
	return t.graph.ids[a], nil
}

// MaxUp returns the largest danger on the 2^k-edge climb above id.
// Zero when the climb leaves the tree or k is outside [0, Levels).
func (t *LiftingTables) MaxUp(id NodeID, k int) (Danger, error) {
	idx, err := t.resolve(id)
	if err != nil {
		return 0, err
	}
	if k < 0 || k >= t.levels || t.up[k*t.n+int(idx)] == -1 {
		return 0, nil
	}
	return t.maxUp[k*t.n+int(idx)], nil
}

// resolve maps an id to a dense index reached by the traversal.
func (t *LiftingTables) resolve(id NodeID) (int32, error) {
	idx, err := t.graph.resolve(id)
	if err != nil {
		return -1, err
	}
	if t.depth[idx] == -1 {
		return -1, fmt.Errorf("%w: %d", ErrUnreachableNode, id)
	}
	return idx, nil
}
