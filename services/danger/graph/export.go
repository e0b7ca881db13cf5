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
	"fmt"
	"strconv"
)

// VisNode is a node in the renderer payload.
type VisNode struct {
	ID string `json:"id"`
}

// VisLink is an edge in the renderer payload.
type VisLink struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Danger Danger `json:"danger"`
}

// GraphData is the node/link payload consumed by force-directed renderers.
type GraphData struct {
	Nodes []VisNode `json:"nodes"`
	Links []VisLink `json:"links"`
}

// Export returns the renderer payload for g.
//
// Nodes are listed in ascending id order and links in input order, with
// ids rendered as decimal strings. An empty graph yields empty, non-nil
// slices so the JSON form is {"nodes":[],"links":[]}.
func (g *Graph) Export() GraphData {
	data := GraphData{
		Nodes: make([]VisNode, 0, len(g.ids)),
		Links: make([]VisLink, 0, len(g.edges)),
	}
	for _, id := range g.ids {
		data.Nodes = append(data.Nodes, VisNode{ID: strconv.FormatInt(int64(id), 10)})
	}
	for _, e := range g.edges {
		data.Links = append(data.Links, VisLink{
			Source: strconv.FormatInt(int64(e.U), 10),
			Target: strconv.FormatInt(int64(e.V), 10),
			Danger: e.Danger,
		})
	}
	return data
}

// BuildEngine runs BuildGraph, Preprocess and NewPathQueryEngine in order.
//
// Description:
//
//	Convenience for callers that only need a ready engine. Errors from
//	each stage are returned wrapped so errors.Is still matches the
//	sentinels.
//
// Thread Safety: Safe for concurrent use with different inputs.
func BuildEngine(ctx context.Context, records []EdgeRecord, opts BuildOptions) (*PathQueryEngine, error) {
	g, err := BuildGraph(ctx, records, opts)
	if err != nil {
		return nil, fmt.Errorf("build graph: %w", err)
	}
	tables, err := Preprocess(ctx, g)
	if err != nil {
		return nil, fmt.Errorf("preprocess: %w", err)
	}
	return NewPathQueryEngine(tables)
}
