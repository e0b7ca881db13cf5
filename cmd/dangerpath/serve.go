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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/dangerpath/services/danger"
	"github.com/AleutianAI/dangerpath/services/danger/config"
	badgerstore "github.com/AleutianAI/dangerpath/services/danger/storage/badger"
	"github.com/AleutianAI/dangerpath/services/danger/telemetry"
)

type serveOptions struct {
	configPath string
	port       int
	watch      string
}

func newServeCmd(a *app) *cobra.Command {
	o := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the danger map query API over HTTP",
		Long: `Starts the HTTP API. Maps are loaded with POST /v1/danger/map, from the
saved map store, or from an edges file that is reloaded whenever it
changes (--watch). Map changes are streamed on GET /v1/danger/events.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(o.configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = o.port
			}
			if o.watch != "" {
				cfg.Watch.EdgesFile = o.watch
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return a.serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&o.configPath, "config", "", "YAML config file layered over the defaults")
	cmd.Flags().IntVar(&o.port, "port", 0, "Listen port (overrides the config file)")
	cmd.Flags().StringVar(&o.watch, "watch", "", "Edges file to load and reload on change")
	return cmd
}

// server is everything serve starts, so it can be torn down in order.
type server struct {
	http    *http.Server
	svc     *danger.Service
	db      *badgerstore.DB
	watcher *danger.EdgesWatcher
	limiter *danger.RateLimiter
}

// buildServer wires the service, its optional store and watcher, and the
// HTTP server from cfg. The caller owns the result and must call close.
func buildServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*server, error) {
	s := &server{
		svc: danger.NewService(danger.ServiceConfigFrom(cfg.Engine), logger),
	}

	if cfg.Storage.Enabled {
		dbCfg := badgerstore.InMemoryConfig()
		if !cfg.Storage.InMemory {
			dbCfg = badgerstore.DefaultConfig(cfg.Storage.Path)
			dbCfg.GCInterval = cfg.Storage.GCInterval
		}
		dbCfg.Logger = logger
		db, err := badgerstore.Open(dbCfg)
		if err != nil {
			return nil, fmt.Errorf("open map store: %w", err)
		}
		s.db = db
		store, err := badgerstore.NewMapStore(db)
		if err != nil {
			s.close()
			return nil, err
		}
		s.svc.WithStore(store)
	}

	if cfg.Watch.EdgesFile != "" {
		w, err := s.svc.WatchEdgesFile(ctx, cfg.Watch.EdgesFile, cfg.Watch.Debounce)
		if err != nil {
			s.close()
			return nil, fmt.Errorf("watch %s: %w", cfg.Watch.EdgesFile, err)
		}
		s.watcher = w
	}

	if cfg.Server.RateLimit > 0 {
		s.limiter = danger.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst)
	}

	router := danger.NewRouter(s.svc, danger.RouterOptions{
		ServiceName:  cfg.Telemetry.ServiceName,
		Limiter:      s.limiter,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		Metrics:      true,
	})
	s.http = &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return s, nil
}

func (s *server) close() {
	if s.watcher != nil {
		s.watcher.Stop()
	}
	if s.limiter != nil {
		s.limiter.Stop()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
}

func (a *app) serve(ctx context.Context, cfg *config.Config) error {
	logger := cfg.Log.NewLogger(a.printer.ErrOut())
	slog.SetDefault(logger)

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(tctx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	gin.SetMode(gin.ReleaseMode)
	s, err := buildServer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer s.close()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("danger API listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
