// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/dangerpath/services/danger"
	"github.com/AleutianAI/dangerpath/services/danger/graph"
)

type queryOptions struct {
	edges         string
	queries       string
	root          int64
	json          bool
	workers       int
	skipTreeCheck bool
}

func newQueryCmd(a *app) *cobra.Command {
	o := &queryOptions{}
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Answer path queries against an edges file",
		Long: `Builds the danger map in the edges file and prints, for every query,
the largest danger on the path between its two locations.

A malformed query line is reported in place and does not stop the run.
A malformed edges file, or one that is not a tree, fails the command.`,
		Example: `  dangerpath query --edges map.txt --queries queries.txt
  printf '8 11\n9 10\n' | dangerpath query --edges map.txt --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runQuery(cmd, o)
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.edges, "edges", "", `Edges file, one "u v danger" per line; - reads stdin`)
	f.StringVar(&o.queries, "queries", "-", `Queries file, one "u v" per line; - reads stdin`)
	f.Int64Var(&o.root, "root", int64(graph.DefaultRoot), "Node the map is rooted at")
	f.BoolVar(&o.json, "json", false, "Print results as JSON")
	f.IntVar(&o.workers, "workers", 0, "Parallel query workers (0 uses every CPU)")
	f.BoolVar(&o.skipTreeCheck, "skip-tree-check", false, "Skip cycle and connectivity checks")
	_ = cmd.MarkFlagRequired("edges")
	return cmd
}

func (a *app) runQuery(cmd *cobra.Command, o *queryOptions) error {
	if o.edges == "-" && o.queries == "-" {
		return errors.New("--edges and --queries cannot both read stdin; pass --queries FILE")
	}
	edges, err := readInput(cmd.InOrStdin(), o.edges)
	if err != nil {
		return err
	}
	queries, err := readInput(cmd.InOrStdin(), o.queries)
	if err != nil {
		return err
	}

	cfg := danger.DefaultServiceConfig()
	cfg.Workers = o.workers
	cfg.SkipTreeCheck = o.skipTreeCheck
	cfg.CacheSize = 0
	cfg.MaxPairs = 0
	svc := danger.NewService(cfg, a.logger)

	res, err := svc.Run(cmd.Context(), edges, queries, graph.NodeID(o.root))
	if err != nil {
		return fmt.Errorf("build danger map: %w", err)
	}

	if o.json {
		return writeJSON(cmd.OutOrStdout(), danger.ToResultsJSON(res.Results))
	}
	a.printer.Title(fmt.Sprintf("%d locations, %d queries", len(res.Graph.Nodes), len(res.Results)))
	a.printResults(res.Results)
	return nil
}

func (a *app) printResults(results []graph.QueryResult) {
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		u := strconv.FormatInt(int64(r.U), 10)
		v := strconv.FormatInt(int64(r.V), 10)
		if r.Err != nil {
			rows = append(rows, []string{u, v, "ERROR", "-", r.Err.Error()})
			continue
		}
		edge := "-"
		if r.MaxDangerEdge != nil {
			edge = fmt.Sprintf("%d-%d", r.MaxDangerEdge.U, r.MaxDangerEdge.V)
		}
		rows = append(rows, []string{
			u, v,
			strconv.FormatInt(int64(r.MaxDanger), 10),
			edge,
			strconv.Itoa(len(r.PathEdges)),
		})
	}
	a.printer.Table([]string{"U", "V", "MAX DANGER", "MAX EDGE", "PATH"}, rows)
}

type exportOptions struct {
	edges string
	root  int64
}

func newExportCmd(a *app) *cobra.Command {
	o := &exportOptions{}
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Print the node/link JSON of an edges file for graph renderers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			edges, err := readInput(cmd.InOrStdin(), o.edges)
			if err != nil {
				return err
			}
			svc := danger.NewService(danger.DefaultServiceConfig(), a.logger)
			res, err := svc.Run(cmd.Context(), edges, "", graph.NodeID(o.root))
			if err != nil {
				return fmt.Errorf("build danger map: %w", err)
			}
			return writeJSON(cmd.OutOrStdout(), res.Graph)
		},
	}
	cmd.Flags().StringVar(&o.edges, "edges", "-", `Edges file, one "u v danger" per line; - reads stdin`)
	cmd.Flags().Int64Var(&o.root, "root", int64(graph.DefaultRoot), "Node the map is rooted at")
	return cmd
}
