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
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/dangerpath/services/danger"
	badgerstore "github.com/AleutianAI/dangerpath/services/danger/storage/badger"
	"github.com/AleutianAI/dangerpath/services/danger/graph"
	"github.com/AleutianAI/dangerpath/services/danger/textio"
)

// DBPathEnvVar overrides the default --db path.
const DBPathEnvVar = "DANGERPATH_DB_PATH"

type mapsOptions struct {
	dbPath string
}

func newMapsCmd(a *app) *cobra.Command {
	o := &mapsOptions{}
	cmd := &cobra.Command{
		Use:   "maps",
		Short: "Manage saved danger maps",
		Long: `Saved maps live in a local BadgerDB directory and can be loaded into a
running server with POST /v1/danger/maps/{name}/load.`,
	}
	cmd.PersistentFlags().StringVar(&o.dbPath, "db", "", "Map store directory (default $"+DBPathEnvVar+" or ./dangerpath.db)")

	cmd.AddCommand(
		newMapsSaveCmd(a, o),
		newMapsListCmd(a, o),
		newMapsShowCmd(a, o),
		newMapsDeleteCmd(a, o),
	)
	return cmd
}

// path resolves the store directory after the env file has been loaded.
func (o *mapsOptions) path() string {
	if o.dbPath != "" {
		return o.dbPath
	}
	if p := os.Getenv(DBPathEnvVar); p != "" {
		return p
	}
	return "dangerpath.db"
}

// withStore opens the map store, runs fn against a storage-backed service
// and closes the store.
func (a *app) withStore(o *mapsOptions, fn func(svc *danger.Service) error) error {
	dbCfg := badgerstore.DefaultConfig(o.path())
	dbCfg.GCInterval = 0
	dbCfg.Logger = a.logger
	db, err := badgerstore.Open(dbCfg)
	if err != nil {
		return fmt.Errorf("open map store: %w", err)
	}
	defer db.Close()

	store, err := badgerstore.NewMapStore(db)
	if err != nil {
		return err
	}
	svc := danger.NewService(danger.DefaultServiceConfig(), a.logger).WithStore(store)
	return fn(svc)
}

func newMapsSaveCmd(a *app, o *mapsOptions) *cobra.Command {
	var (
		edgesPath string
		root      int64
	)
	cmd := &cobra.Command{
		Use:   "save NAME",
		Short: "Validate an edges file and save it under NAME",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(cmd.InOrStdin(), edgesPath)
			if err != nil {
				return err
			}
			records, err := textio.ParseEdgesString(text)
			if err != nil {
				return err
			}
			return a.withStore(o, func(svc *danger.Service) error {
				info, err := svc.SaveMap(cmd.Context(), args[0], records, graph.NodeID(root))
				if err != nil {
					return err
				}
				a.printer.Success(fmt.Sprintf("saved %s (%d edges, root %d)", info.Name, info.EdgeCount, info.Root))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&edgesPath, "edges", "", `Edges file, one "u v danger" per line; - reads stdin`)
	cmd.Flags().Int64Var(&root, "root", int64(graph.DefaultRoot), "Node the map is rooted at")
	_ = cmd.MarkFlagRequired("edges")
	return cmd
}

func newMapsListCmd(a *app, o *mapsOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List saved maps",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(o, func(svc *danger.Service) error {
				maps, err := svc.ListMaps(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					if maps == nil {
						maps = []badgerstore.MapInfo{}
					}
					return writeJSON(cmd.OutOrStdout(), maps)
				}
				if len(maps) == 0 {
					a.printer.Info("no saved maps")
					return nil
				}
				rows := make([][]string, 0, len(maps))
				for _, m := range maps {
					rows = append(rows, []string{
						m.Name,
						strconv.Itoa(m.EdgeCount),
						strconv.FormatInt(int64(m.Root), 10),
						m.SavedAt.Format(time.RFC3339),
					})
				}
				a.printer.Table([]string{"NAME", "EDGES", "ROOT", "SAVED"}, rows)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}

func newMapsShowCmd(a *app, o *mapsOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show NAME",
		Short: "Print a saved map",
		Long:  "Prints a saved map. Plain output is an edges file that query --edges accepts.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(o, func(svc *danger.Service) error {
				m, err := svc.GetMap(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), m)
				}
				a.printer.Title(fmt.Sprintf("%s: %d edges, root %d", m.Name, len(m.Edges), m.Root))
				return textio.FormatEdges(cmd.OutOrStdout(), m.Edges)
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}

func newMapsDeleteCmd(a *app, o *mapsOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a saved map",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(o, func(svc *danger.Service) error {
				if err := svc.DeleteMap(cmd.Context(), args[0]); err != nil {
					return err
				}
				a.printer.Success("deleted " + args[0])
				return nil
			})
		},
	}
}
