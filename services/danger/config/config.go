// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the danger path service configuration.
//
// Layers, lowest precedence first:
//
//  1. The embedded default.yaml
//  2. An optional YAML file
//  3. DANGERPATH_* environment variables
//
// The merged result is validated before it is returned.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/dangerpath/services/danger/telemetry"
)

// MaxConfigFileSize is the largest config file Load accepts (1MB).
const MaxConfigFileSize = 1024 * 1024

//go:embed default.yaml
var defaultYAML []byte

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

var validate = validator.New()

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Engine    EngineConfig     `yaml:"engine"`
	Storage   StorageConfig    `yaml:"storage"`
	Watch     WatchConfig      `yaml:"watch"`
	Log       LogConfig        `yaml:"log"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`

	// MaxBodyBytes bounds request bodies, including edge text.
	MaxBodyBytes int64 `yaml:"max_body_bytes" validate:"gt=0"`

	// RateLimit is the sustained requests per second allowed per client IP.
	// Zero disables rate limiting.
	RateLimit float64 `yaml:"rate_limit" validate:"gte=0"`
	RateBurst int     `yaml:"rate_burst" validate:"gte=0"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// EngineConfig configures map building and querying.
type EngineConfig struct {
	// Root is the node the tree is rooted at.
	Root int64 `yaml:"root" validate:"min=1,max=2147483647"`

	// SkipTreeCheck disables cycle and connectivity checks at build time.
	SkipTreeCheck bool `yaml:"skip_tree_check"`

	// Workers bounds batch query parallelism. Zero means GOMAXPROCS.
	Workers int `yaml:"workers" validate:"gte=0"`

	// CacheSize is the number of query results kept in the LRU cache.
	// Zero disables the cache.
	CacheSize int `yaml:"cache_size" validate:"gte=0"`

	// MaxPairs bounds the number of pairs in one query request.
	MaxPairs int `yaml:"max_pairs" validate:"gt=0"`
}

// StorageConfig configures persisted named maps.
type StorageConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Path       string        `yaml:"path" validate:"required_if=Enabled true InMemory false"`
	InMemory   bool          `yaml:"in_memory"`
	GCInterval time.Duration `yaml:"gc_interval" validate:"gte=0"`
}

// WatchConfig configures hot reload of an edges file.
type WatchConfig struct {
	// EdgesFile is reloaded whenever it changes. Empty disables watching.
	EdgesFile string        `yaml:"edges_file"`
	Debounce  time.Duration `yaml:"debounce" validate:"gte=0"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// Default returns the embedded defaults with environment overrides applied.
func Default() (*Config, error) {
	return Load("")
}

// Load reads configuration from path layered over the embedded defaults.
//
// Description:
//
//	An empty path loads only the defaults. Environment overrides are
//	applied last, then the result is validated.
//
// Outputs:
//   - *Config: The merged configuration. Never nil on success.
//   - error: Read, parse, or validation failure. Validation errors wrap ErrInvalidConfig.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(defaultYAML, &cfg); err != nil {
		return nil, fmt.Errorf("parse embedded defaults: %w", err)
	}

	if path != "" {
		data, err := readFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

func readFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat config: %w", err)
	}
	if info.Size() > MaxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), MaxConfigFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return data, nil
}

// applyEnvOverrides applies DANGERPATH_* variables on top of cfg.
func applyEnvOverrides(cfg *Config) error {
	var errs []error

	if v, ok := lookupEnv("DANGERPATH_HOST"); ok {
		cfg.Server.Host = v
	}
	if v, ok := lookupEnv("DANGERPATH_PORT"); ok {
		n, err := strconv.Atoi(v)
		errs = append(errs, envErr("DANGERPATH_PORT", err))
		cfg.Server.Port = n
	}
	if v, ok := lookupEnv("DANGERPATH_RATE_LIMIT"); ok {
		f, err := strconv.ParseFloat(v, 64)
		errs = append(errs, envErr("DANGERPATH_RATE_LIMIT", err))
		cfg.Server.RateLimit = f
	}
	if v, ok := lookupEnv("DANGERPATH_ROOT"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		errs = append(errs, envErr("DANGERPATH_ROOT", err))
		cfg.Engine.Root = n
	}
	if v, ok := lookupEnv("DANGERPATH_WORKERS"); ok {
		n, err := strconv.Atoi(v)
		errs = append(errs, envErr("DANGERPATH_WORKERS", err))
		cfg.Engine.Workers = n
	}
	if v, ok := lookupEnv("DANGERPATH_CACHE_SIZE"); ok {
		n, err := strconv.Atoi(v)
		errs = append(errs, envErr("DANGERPATH_CACHE_SIZE", err))
		cfg.Engine.CacheSize = n
	}
	if v, ok := lookupEnv("DANGERPATH_DB_PATH"); ok {
		cfg.Storage.Enabled = true
		cfg.Storage.Path = v
	}
	if v, ok := lookupEnv("DANGERPATH_WATCH"); ok {
		cfg.Watch.EdgesFile = v
	}
	if v, ok := lookupEnv("DANGERPATH_LOG_LEVEL"); ok {
		cfg.Log.Level = strings.ToLower(v)
	}
	if v, ok := lookupEnv("DANGERPATH_LOG_FORMAT"); ok {
		cfg.Log.Format = strings.ToLower(v)
	}

	return errors.Join(errs...)
}

func lookupEnv(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func envErr(key string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err)
}

// NewLogger builds a slog.Logger writing to w.
func (l LogConfig) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: l.level()}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func (l LogConfig) level() slog.Level {
	switch l.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
