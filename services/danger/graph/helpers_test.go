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
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"
)

// sampleEdges is the reference danger map:
//
//	        1
//	   5 /     \ 10
//	    2       3
//	 3 / \8  12/ \4
//	  4   5   6   7
//	   7 / \1  15/ \2
//	    8   9   10  11
func sampleEdges() []EdgeRecord {
	return []EdgeRecord{
		{U: 1, V: 2, Danger: 5},
		{U: 1, V: 3, Danger: 10},
		{U: 2, V: 4, Danger: 3},
		{U: 2, V: 5, Danger: 8},
		{U: 3, V: 6, Danger: 12},
		{U: 3, V: 7, Danger: 4},
		{U: 5, V: 8, Danger: 7},
		{U: 5, V: 9, Danger: 1},
		{U: 7, V: 10, Danger: 15},
		{U: 7, V: 11, Danger: 2},
	}
}

// buildEngine builds a ready engine from records, failing the test on error.
func buildEngine(t *testing.T, records []EdgeRecord) *PathQueryEngine {
	t.Helper()
	engine, err := BuildEngine(context.Background(), records, DefaultBuildOptions())
	require.NoError(t, err)
	return engine
}

// buildSampleEngine builds an engine over sampleEdges.
func buildSampleEngine(t *testing.T) *PathQueryEngine {
	t.Helper()
	return buildEngine(t, sampleEdges())
}

// chainEdges returns the path 1-2-...-n with danger(i, i+1) = danger(i).
func chainEdges(n int, danger func(i int) Danger) []EdgeRecord {
	records := make([]EdgeRecord, 0, n-1)
	for i := 1; i < n; i++ {
		records = append(records, EdgeRecord{U: NodeID(i), V: NodeID(i + 1), Danger: danger(i)})
	}
	return records
}

// randomTree returns a random tree over ids 1..n with non-sequential
// shape, in shuffled edge order.
func randomTree(rng *rand.Rand, n int, maxDanger int64) []EdgeRecord {
	records := make([]EdgeRecord, 0, n-1)
	for i := 2; i <= n; i++ {
		parent := 1 + rng.IntN(i-1)
		records = append(records, EdgeRecord{
			U:      NodeID(i),
			V:      NodeID(parent),
			Danger: Danger(rng.Int64N(maxDanger + 1)),
		})
	}
	rng.Shuffle(len(records), func(i, j int) { records[i], records[j] = records[j], records[i] })
	return records
}

// oracle answers path questions by running Dijkstra on a gonum copy of the
// tree. In a tree the shortest path is the only path, so it is independent
// of the lifting tables.
type oracle struct {
	g *simple.WeightedUndirectedGraph
}

func newOracle(records []EdgeRecord) *oracle {
	g := simple.NewWeightedUndirectedGraph(0, math.Inf(1))
	for _, r := range records {
		g.SetWeightedEdge(g.NewWeightedEdge(simple.Node(r.U), simple.Node(r.V), float64(r.Danger)))
	}
	return &oracle{g: g}
}

// path returns the node sequence from u to v.
func (o *oracle) path(u, v NodeID) []NodeID {
	shortest := path.DijkstraFrom(simple.Node(u), o.g)
	nodes, _ := shortest.To(int64(v))
	out := make([]NodeID, len(nodes))
	for i, n := range nodes {
		out[i] = NodeID(n.ID())
	}
	return out
}

// maxDanger returns the largest edge weight on the u-v path.
func (o *oracle) maxDanger(u, v NodeID) Danger {
	nodes := o.path(u, v)
	var best Danger
	for i := 0; i+1 < len(nodes); i++ {
		w, _ := o.g.Weight(int64(nodes[i]), int64(nodes[i+1]))
		best = max(best, Danger(w))
	}
	return best
}
