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
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/dangerpath/services/danger"
	"github.com/AleutianAI/dangerpath/services/danger/config"
	"github.com/AleutianAI/dangerpath/services/danger/graph"
)

const harborEdges = `1 2 5
1 3 10
2 4 3
2 5 8
3 6 12
3 7 4
5 8 7
5 9 1
7 10 15
7 11 2
`

func init() {
	gin.SetMode(gin.TestMode)
}

// execute runs the CLI with args and returns stdout, stderr and the error.
func execute(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(append([]string{"--output", "plain", "--env-file", ""}, args...))
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestQuery_Plain(t *testing.T) {
	edges := writeFile(t, "map.txt", harborEdges)
	queries := writeFile(t, "queries.txt", "8 11\n9 10\n4 6\n")

	out, _, err := execute(t, "", "query", "--edges", edges, "--queries", queries)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "8\t11\t10\t"), lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "9\t10\t15\t"), lines[1])
	assert.True(t, strings.HasPrefix(lines[2], "4\t6\t12\t"), lines[2])
}

func TestQuery_JSONFromStdin(t *testing.T) {
	edges := writeFile(t, "map.txt", harborEdges)

	out, _, err := execute(t, "8 11\nbad line\n", "query", "--edges", edges, "--json")
	require.NoError(t, err)

	var results []danger.QueryResultJSON
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 2)

	assert.Equal(t, graph.Danger(10), results[0].MaxDanger)
	assert.Len(t, results[0].PathEdges, 6)
	require.NotNil(t, results[0].MaxDangerEdge)
	assert.Empty(t, results[0].Error)

	assert.NotEmpty(t, results[1].Error)
	assert.Equal(t, graph.KindInvalidQueryFormat, results[1].Code)
}

func TestQuery_QueryErrorsDoNotFail(t *testing.T) {
	edges := writeFile(t, "map.txt", harborEdges)

	out, _, err := execute(t, "1 99\n", "query", "--edges", edges)
	require.NoError(t, err)
	assert.Contains(t, out, "ERROR")
}

func TestQuery_BuildErrors(t *testing.T) {
	tests := []struct {
		name  string
		edges string
		kind  string
	}{
		{"malformed", "1 2 5\n1 x 3\n", graph.KindInvalidEdgeFormat},
		{"cycle", "1 2 5\n2 3 4\n3 1 2\n", graph.KindCycleDetected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			edges := writeFile(t, "map.txt", tt.edges)
			_, _, err := execute(t, "1 2\n", "query", "--edges", edges)
			require.Error(t, err)
			assert.Equal(t, tt.kind, graph.ErrorKind(err))
		})
	}
}

func TestQuery_RequiresEdges(t *testing.T) {
	_, _, err := execute(t, "", "query")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "edges")
}

func TestQuery_RejectsStdinForBoth(t *testing.T) {
	out, _, err := execute(t, harborEdges, "query", "--edges", "-")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stdin")
	assert.Empty(t, out)
}

func TestQuery_EdgesFromStdin(t *testing.T) {
	queries := writeFile(t, "queries.txt", "9 10\n")

	out, _, err := execute(t, harborEdges, "query", "--edges", "-", "--queries", queries)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "9\t10\t15\t"), out)
}

func TestQuery_MissingFile(t *testing.T) {
	_, _, err := execute(t, "", "query", "--edges", filepath.Join(t.TempDir(), "nope.txt"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRoot_RejectsUnknownOutput(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"--output", "sparkly", "--env-file", "", "export"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(harborEdges))
	assert.Error(t, cmd.Execute())
}

func TestExport(t *testing.T) {
	edges := writeFile(t, "map.txt", harborEdges)

	out, _, err := execute(t, "", "export", "--edges", edges)
	require.NoError(t, err)

	var data graph.GraphData
	require.NoError(t, json.Unmarshal([]byte(out), &data))
	assert.Len(t, data.Nodes, 11)
	assert.Len(t, data.Links, 10)
}

func TestExport_Empty(t *testing.T) {
	out, _, err := execute(t, "", "export")
	require.NoError(t, err)
	assert.JSONEq(t, `{"nodes":[],"links":[]}`, out)
}

func TestMaps_Lifecycle(t *testing.T) {
	db := filepath.Join(t.TempDir(), "maps")
	edges := writeFile(t, "map.txt", harborEdges)

	out, _, err := execute(t, "", "maps", "--db", db, "save", "harbor", "--edges", edges)
	require.NoError(t, err)
	assert.Contains(t, out, "saved harbor (10 edges, root 1)")

	out, _, err = execute(t, "", "maps", "--db", db, "list")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "harbor\t10\t1\t"), out)

	out, _, err = execute(t, "", "maps", "--db", db, "show", "harbor")
	require.NoError(t, err)
	assert.Equal(t, harborEdges, out)

	_, _, err = execute(t, "", "maps", "--db", db, "delete", "harbor")
	require.NoError(t, err)

	out, _, err = execute(t, "", "maps", "--db", db, "list", "--json")
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, out)

	_, _, err = execute(t, "", "maps", "--db", db, "show", "harbor")
	assert.Error(t, err)
}

func TestMaps_SaveRejectsInvalidMap(t *testing.T) {
	db := filepath.Join(t.TempDir(), "maps")
	edges := writeFile(t, "map.txt", "1 2 5\n2 3 4\n3 1 2\n")

	_, _, err := execute(t, "", "maps", "--db", db, "save", "loop", "--edges", edges)
	require.Error(t, err)
	assert.Equal(t, graph.KindCycleDetected, graph.ErrorKind(err))
}

func TestMaps_DBPathFromEnvFile(t *testing.T) {
	if _, ok := os.LookupEnv(DBPathEnvVar); ok {
		t.Skip(DBPathEnvVar + " already set")
	}
	t.Cleanup(func() { os.Unsetenv(DBPathEnvVar) })

	db := filepath.Join(t.TempDir(), "from-env")
	envFile := writeFile(t, ".env", DBPathEnvVar+"="+db+"\n")

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs([]string{"--output", "plain", "--env-file", envFile, "maps", "list", "--json"})
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	require.NoError(t, cmd.Execute())

	assert.JSONEq(t, `[]`, out.String())
	assert.DirExists(t, db)
}

func TestBuildServer(t *testing.T) {
	cfg, err := config.Default()
	require.NoError(t, err)
	cfg.Storage.Enabled = true
	cfg.Storage.InMemory = true
	cfg.Server.RateLimit = 100
	cfg.Server.RateBurst = 10
	cfg.Watch.EdgesFile = writeFile(t, "map.txt", harborEdges)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := buildServer(ctx, cfg, nil)
	require.NoError(t, err)
	defer s.close()

	require.NotNil(t, s.svc.Current())
	assert.Equal(t, cfg.Server.Addr(), s.http.Addr)

	rec := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/danger/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var health danger.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, 11, health.NodeCount)

	rec = httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/danger/maps", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBuildServer_BadWatchFile(t *testing.T) {
	cfg, err := config.Default()
	require.NoError(t, err)
	cfg.Watch.EdgesFile = writeFile(t, "map.txt", "1 2 5\n2 1 4\n")

	_, err = buildServer(context.Background(), cfg, nil)
	assert.Error(t, err)
}
