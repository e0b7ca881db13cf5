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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/dangerpath/pkg/ux"
	"github.com/AleutianAI/dangerpath/services/danger/config"
)

// app carries the state shared by every subcommand.
type app struct {
	outputMode string
	envFile    string
	logLevel   string

	printer *ux.Printer
	logger  *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "dangerpath",
		Short: "Maximum-danger path queries over tree-shaped danger maps",
		Long: `dangerpath answers "what is the most dangerous stretch between u and v"
for any pair of locations on a tree of weighted edges, after a single
preprocessing pass over the map.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.outputMode, "output", "", "Output style: rich or plain (default: rich on a terminal)")
	pf.StringVar(&a.envFile, "env-file", ".env", "Environment file loaded before configuration is read")
	pf.StringVar(&a.logLevel, "log-level", "warn", "Log level: debug, info, warn, error")

	root.AddCommand(
		newQueryCmd(a),
		newExportCmd(a),
		newServeCmd(a),
		newMapsCmd(a),
	)
	return root
}

// setup loads the env file and builds the printer and logger.
func (a *app) setup(cmd *cobra.Command) error {
	if err := loadEnvFile(a.envFile); err != nil {
		return err
	}

	mode := ux.ParseMode(a.outputMode)
	if a.outputMode != "" && mode == "" {
		return fmt.Errorf("unknown output style %q (want rich or plain)", a.outputMode)
	}
	if mode == "" {
		f, _ := cmd.OutOrStdout().(*os.File)
		mode = ux.DetectMode(f)
	}
	a.printer = ux.NewPrinter(cmd.OutOrStdout(), cmd.ErrOrStderr(), mode)

	level := strings.ToLower(a.logLevel)
	switch level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", a.logLevel)
	}
	a.logger = config.LogConfig{Level: level, Format: "text"}.NewLogger(cmd.ErrOrStderr())
	return nil
}

// loadEnvFile loads path into the environment without overriding
// variables that are already set. A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// readInput reads a file, or r when path is "-".
func readInput(r io.Reader, path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(r)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}
