// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

// TestDefault verifies the embedded defaults parse and validate.
func TestDefault(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, int64(1), cfg.Engine.Root)
	assert.Equal(t, 4096, cfg.Engine.CacheSize)
	assert.False(t, cfg.Storage.Enabled)
	assert.Equal(t, 200*time.Millisecond, cfg.Watch.Debounce)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "dangerpath", cfg.Telemetry.ServiceName)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
}

// TestLoad_FileOverridesDefaults verifies a partial file keeps unspecified defaults.
func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9191
engine:
  root: 7
  workers: 4
storage:
  enabled: true
  path: /var/lib/dangerpath
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, int64(7), cfg.Engine.Root)
	assert.Equal(t, 4, cfg.Engine.Workers)
	assert.Equal(t, "/var/lib/dangerpath", cfg.Storage.Path)
	assert.Equal(t, 4096, cfg.Engine.CacheSize, "untouched default kept")
	assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout)
}

// TestLoad_EnvOverridesFile verifies environment wins over the file.
func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9191\n")
	t.Setenv("DANGERPATH_PORT", "7070")
	t.Setenv("DANGERPATH_ROOT", "3")
	t.Setenv("DANGERPATH_DB_PATH", "/tmp/maps")
	t.Setenv("DANGERPATH_LOG_LEVEL", "DEBUG")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, int64(3), cfg.Engine.Root)
	assert.True(t, cfg.Storage.Enabled)
	assert.Equal(t, "/tmp/maps", cfg.Storage.Path)
	assert.Equal(t, "debug", cfg.Log.Level)
}

// TestLoad_InvalidEnv verifies unparsable overrides are rejected.
func TestLoad_InvalidEnv(t *testing.T) {
	t.Setenv("DANGERPATH_PORT", "eighty")

	_, err := Load("")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "DANGERPATH_PORT")
}

// TestLoad_ValidationFailures verifies struct constraints.
func TestLoad_ValidationFailures(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"port out of range", "server:\n  port: 70000\n"},
		{"root zero", "engine:\n  root: 0\n"},
		{"negative workers", "engine:\n  workers: -1\n"},
		{"storage without path", "storage:\n  enabled: true\n"},
		{"bad log level", "log:\n  level: loud\n"},
		{"bad exporter", "telemetry:\n  trace_exporter: zipkin\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

// TestLoad_InMemoryStorageNeedsNoPath verifies the in-memory exemption.
func TestLoad_InMemoryStorageNeedsNoPath(t *testing.T) {
	cfg, err := Load(writeConfig(t, "storage:\n  enabled: true\n  in_memory: true\n"))
	require.NoError(t, err)
	assert.True(t, cfg.Storage.InMemory)
}

// TestLoad_FileErrors verifies missing, oversized and malformed files.
func TestLoad_FileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	big := writeConfig(t, "# "+strings.Repeat("x", MaxConfigFileSize))
	_, err = Load(big)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")

	_, err = Load(writeConfig(t, "server: [unclosed"))
	assert.Error(t, err)
}

// TestLogConfig_NewLogger verifies level and format selection.
func TestLogConfig_NewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := LogConfig{Level: "warn", Format: "json"}.NewLogger(&buf)

	logger.Info("dropped")
	assert.Empty(t, buf.String())

	logger.Warn("kept", "node_count", 11)
	assert.Contains(t, buf.String(), `"msg":"kept"`)
	assert.Contains(t, buf.String(), `"node_count":11`)
}
