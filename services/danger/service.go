// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package danger serves path queries over a danger map.
//
// The Service owns the currently loaded map as an immutable Snapshot.
// Loading a new edge set builds a complete snapshot off to the side and
// swaps it in atomically, so a query always sees one consistent map.
// HTTP handlers, a websocket event stream and an edges-file watcher sit
// on top of the Service.
package danger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/dangerpath/services/danger/config"
	"github.com/AleutianAI/dangerpath/services/danger/graph"
	badgerstore "github.com/AleutianAI/dangerpath/services/danger/storage/badger"
	"github.com/AleutianAI/dangerpath/services/danger/textio"
)

// ServiceVersion is the danger path service version.
const ServiceVersion = "1.0.0"

// ServiceConfig configures the Service.
type ServiceConfig struct {
	// Root is the default root for loads that do not name one.
	// Default: 1
	Root graph.NodeID

	// SkipTreeCheck disables cycle and connectivity checks on load.
	SkipTreeCheck bool

	// Workers bounds batch query parallelism. Zero means GOMAXPROCS.
	Workers int

	// CacheSize is the result cache capacity. Zero disables the cache.
	// Default: 4096
	CacheSize int

	// MaxPairs bounds the pairs in one Query or Run call. Zero means unlimited.
	// Default: 100000
	MaxPairs int
}

// DefaultServiceConfig returns the defaults used when no config file is given.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Root:      graph.DefaultRoot,
		CacheSize: 4096,
		MaxPairs:  100000,
	}
}

// ServiceConfigFrom converts the engine section of a loaded config.
func ServiceConfigFrom(c config.EngineConfig) ServiceConfig {
	return ServiceConfig{
		Root:          graph.NodeID(c.Root),
		SkipTreeCheck: c.SkipTreeCheck,
		Workers:       c.Workers,
		CacheSize:     c.CacheSize,
		MaxPairs:      c.MaxPairs,
	}
}

// Snapshot is one loaded danger map, ready for queries.
//
// Thread Safety: Immutable. Safe for concurrent use.
type Snapshot struct {
	// Engine answers queries over this map.
	Engine *graph.PathQueryEngine

	// Generation increases by one with every successful load.
	Generation uint64

	// Source describes where the edges came from: "inline", "file:<path>"
	// or "map:<name>".
	Source string

	// LoadedAt is when the snapshot was swapped in.
	LoadedAt time.Time
}

// Graph returns the snapshot's graph.
func (s *Snapshot) Graph() *graph.Graph {
	return s.Engine.Graph()
}

// LoadOptions configures a single load.
type LoadOptions struct {
	// Root overrides ServiceConfig.Root when non-zero.
	Root graph.NodeID

	// Source is recorded on the snapshot. Default: "inline".
	Source string
}

// QueryBatch is the answer to a batch of queries against one snapshot.
type QueryBatch struct {
	Generation uint64
	Results    []graph.QueryResult
}

// RunResult is the outcome of a stateless Run.
type RunResult struct {
	Graph   graph.GraphData
	Results []graph.QueryResult
}

// Service manages the current danger map and answers queries over it.
//
// Thread Safety: Safe for concurrent use. Queries never block on loads.
type Service struct {
	config ServiceConfig
	logger *slog.Logger

	current    atomic.Pointer[Snapshot]
	generation uint64
	swapMu     sync.Mutex // orders generation assignment with the swap

	cache *LRUCache[resultKey, graph.QueryResult]
	hub   *Hub
	store *badgerstore.MapStore
}

// NewService creates a service with no map loaded.
func NewService(cfg ServiceConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Root == 0 {
		cfg.Root = graph.DefaultRoot
	}
	s := &Service{
		config: cfg,
		logger: logger,
		hub:    NewHub(logger),
	}
	if cfg.CacheSize > 0 {
		s.cache = NewLRUCache[resultKey, graph.QueryResult](cfg.CacheSize)
	}
	return s
}

// WithStore enables named-map operations backed by store.
func (s *Service) WithStore(store *badgerstore.MapStore) *Service {
	s.store = store
	return s
}

// Config returns the service configuration.
func (s *Service) Config() ServiceConfig {
	return s.config
}

// Hub returns the event hub.
func (s *Service) Hub() *Hub {
	return s.hub
}

// Current returns the snapshot being served, or nil before the first load.
func (s *Service) Current() *Snapshot {
	return s.current.Load()
}

// Load builds a snapshot from records and makes it current.
//
// Description:
//
//	Builds the graph, preprocesses it and only then swaps it in. On any
//	failure the previous snapshot stays current. A successful load
//	purges the result cache and publishes a map_loaded event.
//
// Inputs:
//   - ctx: Context for cancellation and tracing.
//   - records: Edge records. May be empty, which serves an empty map.
//   - opts: Root and source label.
//
// Outputs:
//   - *Snapshot: The new current snapshot.
//   - error: Build or preprocess failure, matching the graph sentinels.
//
// Thread Safety: Safe for concurrent use. Concurrent loads are swapped
// in the order they finish.
func (s *Service) Load(ctx context.Context, records []graph.EdgeRecord, opts LoadOptions) (*Snapshot, error) {
	source := opts.Source
	if source == "" {
		source = "inline"
	}
	root := opts.Root
	if root == 0 {
		root = s.config.Root
	}

	ctx, span := tracer.Start(ctx, "danger.Service.Load",
		trace.WithAttributes(
			attribute.String("source", source),
			attribute.Int("edge_count", len(records)),
		),
	)
	defer span.End()

	engine, err := graph.BuildEngine(ctx, records, graph.BuildOptions{
		Root:          root,
		SkipTreeCheck: s.config.SkipTreeCheck,
		Logger:        s.logger,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, graph.ErrorKind(err))
		snapshotLoads.WithLabelValues(sourceKind(source), graph.ErrorKind(err)).Inc()
		return nil, err
	}

	s.swapMu.Lock()
	s.generation++
	snap := &Snapshot{
		Engine:     engine,
		Generation: s.generation,
		Source:     source,
		LoadedAt:   time.Now().UTC(),
	}
	s.current.Store(snap)
	s.swapMu.Unlock()

	if s.cache != nil {
		s.cache.Purge()
	}

	g := engine.Graph()
	snapshotLoads.WithLabelValues(sourceKind(source), "ok").Inc()
	snapshotGeneration.Set(float64(snap.Generation))
	snapshotNodes.Set(float64(g.NodeCount()))
	span.SetAttributes(attribute.Int64("generation", int64(snap.Generation)))
	span.SetStatus(codes.Ok, "loaded")

	s.logger.Info("danger map loaded",
		slog.Uint64("generation", snap.Generation),
		slog.String("source", source),
		slog.Int("node_count", g.NodeCount()),
		slog.Int("edge_count", g.EdgeCount()),
		slog.Int("levels", engine.Tables().Levels()),
	)
	s.hub.Publish(Event{
		Type:       EventMapLoaded,
		Generation: snap.Generation,
		NodeCount:  g.NodeCount(),
		EdgeCount:  g.EdgeCount(),
		Source:     source,
	})
	return snap, nil
}

// LoadText parses "u v danger" lines and loads them.
func (s *Service) LoadText(ctx context.Context, edges string, opts LoadOptions) (*Snapshot, error) {
	records, err := textio.ParseEdgesString(edges)
	if err != nil {
		return nil, err
	}
	return s.Load(ctx, records, opts)
}

// Query answers pairs against the current snapshot.
//
// Description:
//
//	Loads the current snapshot once, so every pair in the batch is
//	answered from the same map. Cached answers are reused; the rest are
//	evaluated in parallel. Per-pair errors are carried in the results.
//
// Outputs:
//   - *QueryBatch: Results in input order plus the generation answered.
//   - error: ErrNoMapLoaded, ErrTooManyPairs, or cancellation.
func (s *Service) Query(ctx context.Context, pairs []graph.QueryPair) (*QueryBatch, error) {
	snap := s.current.Load()
	if snap == nil {
		return nil, ErrNoMapLoaded
	}
	if s.config.MaxPairs > 0 && len(pairs) > s.config.MaxPairs {
		return nil, fmt.Errorf("%w: %d (max %d)", ErrTooManyPairs, len(pairs), s.config.MaxPairs)
	}

	ctx, span := tracer.Start(ctx, "danger.Service.Query",
		trace.WithAttributes(
			attribute.Int("pair_count", len(pairs)),
			attribute.Int64("generation", int64(snap.Generation)),
		),
	)
	defer span.End()

	results, err := s.query(ctx, snap, pairs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query failed")
		return nil, err
	}
	return &QueryBatch{Generation: snap.Generation, Results: results}, nil
}

// QueryText answers "u v" lines against the current snapshot. Malformed
// lines yield an error result with u = v = 0 in their position.
func (s *Service) QueryText(ctx context.Context, text string) (*QueryBatch, error) {
	lines, err := textio.ParseQueriesString(text)
	if err != nil {
		return nil, err
	}

	pairs := make([]graph.QueryPair, 0, len(lines))
	for _, l := range lines {
		if l.Err == nil {
			pairs = append(pairs, l.Pair)
		}
	}
	batch, err := s.Query(ctx, pairs)
	if err != nil {
		return nil, err
	}
	batch.Results = mergeLines(lines, batch.Results)
	return batch, nil
}

// query evaluates pairs on snap, going through the result cache when enabled.
func (s *Service) query(ctx context.Context, snap *Snapshot, pairs []graph.QueryPair) ([]graph.QueryResult, error) {
	if s.cache == nil {
		return snap.Engine.BatchQuery(ctx, pairs, s.config.Workers)
	}

	results := make([]graph.QueryResult, len(pairs))
	missIdx := make([]int, 0, len(pairs))
	missPairs := make([]graph.QueryPair, 0, len(pairs))
	for i, p := range pairs {
		if r, ok := s.cache.Get(resultKey{gen: snap.Generation, u: p.U, v: p.V}); ok {
			results[i] = cloneResult(r)
			continue
		}
		missIdx = append(missIdx, i)
		missPairs = append(missPairs, p)
	}
	cacheLookups.WithLabelValues("hit").Add(float64(len(pairs) - len(missPairs)))
	cacheLookups.WithLabelValues("miss").Add(float64(len(missPairs)))

	if len(missPairs) == 0 {
		return results, nil
	}
	fresh, err := snap.Engine.BatchQuery(ctx, missPairs, s.config.Workers)
	if err != nil {
		return nil, err
	}
	for j, r := range fresh {
		results[missIdx[j]] = r
		s.cache.Set(resultKey{gen: snap.Generation, u: r.U, v: r.V}, cloneResult(r))
	}
	return results, nil
}

// cloneResult copies the slices and pointers of r so cache entries never
// share memory with results handed to callers.
func cloneResult(r graph.QueryResult) graph.QueryResult {
	if r.PathEdges != nil {
		r.PathEdges = append([]graph.PathEdge(nil), r.PathEdges...)
	}
	if r.MaxDangerEdge != nil {
		ref := *r.MaxDangerEdge
		r.MaxDangerEdge = &ref
	}
	return r
}

// Run evaluates queries against edges without touching the current map.
//
// Description:
//
//	Parses and builds the edges, then answers every query line in order.
//	A malformed query line produces an INVALID_QUERY_FORMAT result with
//	u = v = 0 in its position and does not stop the run. Empty edges give
//	an empty graph and no results, whatever the queries say.
//
// Inputs:
//   - ctx: Context for cancellation and tracing.
//   - edgesText: "u v danger" lines.
//   - queriesText: "u v" lines.
//   - root: Root override. Zero means the configured root.
//
// Outputs:
//   - *RunResult: The renderer payload and one result per non-blank query line.
//   - error: Edge parse or build failure, ErrTooManyPairs, or cancellation.
func (s *Service) Run(ctx context.Context, edgesText, queriesText string, root graph.NodeID) (*RunResult, error) {
	ctx, span := tracer.Start(ctx, "danger.Service.Run",
		trace.WithAttributes(
			attribute.Int("edges_bytes", len(edgesText)),
			attribute.Int("queries_bytes", len(queriesText)),
		),
	)
	defer span.End()

	empty := &RunResult{
		Graph:   graph.GraphData{Nodes: []graph.VisNode{}, Links: []graph.VisLink{}},
		Results: []graph.QueryResult{},
	}

	records, err := textio.ParseEdgesString(edgesText)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, graph.ErrorKind(err))
		return nil, err
	}
	if len(records) == 0 {
		return empty, nil
	}

	if root == 0 {
		root = s.config.Root
	}
	engine, err := graph.BuildEngine(ctx, records, graph.BuildOptions{
		Root:          root,
		SkipTreeCheck: s.config.SkipTreeCheck,
		Logger:        s.logger,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, graph.ErrorKind(err))
		return nil, err
	}

	res := &RunResult{Graph: engine.Graph().Export(), Results: []graph.QueryResult{}}
	if strings.TrimSpace(queriesText) == "" {
		return res, nil
	}

	lines, err := textio.ParseQueriesString(queriesText)
	if err != nil {
		return nil, err
	}
	pairs := make([]graph.QueryPair, 0, len(lines))
	for _, l := range lines {
		if l.Err == nil {
			pairs = append(pairs, l.Pair)
		}
	}
	if s.config.MaxPairs > 0 && len(pairs) > s.config.MaxPairs {
		err := fmt.Errorf("%w: %d (max %d)", ErrTooManyPairs, len(pairs), s.config.MaxPairs)
		span.RecordError(err)
		span.SetStatus(codes.Error, "too many pairs")
		return nil, err
	}
	answers, err := engine.BatchQuery(ctx, pairs, s.config.Workers)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "run cancelled")
		return nil, err
	}
	res.Results = mergeLines(lines, answers)
	span.SetStatus(codes.Ok, "run complete")
	return res, nil
}

// mergeLines places answers for well-formed lines back among the error
// results of malformed ones. answers must be in well-formed line order.
func mergeLines(lines []textio.QueryLine, answers []graph.QueryResult) []graph.QueryResult {
	out := make([]graph.QueryResult, 0, len(lines))
	next := 0
	for _, l := range lines {
		if l.Err != nil {
			out = append(out, graph.QueryResult{Err: l.Err})
			continue
		}
		out = append(out, answers[next])
		next++
	}
	return out
}

// SaveMap validates records by building them, then stores them under name.
func (s *Service) SaveMap(ctx context.Context, name string, records []graph.EdgeRecord, root graph.NodeID) (*badgerstore.MapInfo, error) {
	if s.store == nil {
		return nil, ErrStorageDisabled
	}
	if err := badgerstore.ValidateMapName(name); err != nil {
		return nil, err
	}
	if root == 0 {
		root = s.config.Root
	}
	if _, err := graph.BuildGraph(ctx, records, graph.BuildOptions{
		Root:          root,
		SkipTreeCheck: s.config.SkipTreeCheck,
		Logger:        s.logger,
	}); err != nil {
		return nil, err
	}

	m := badgerstore.StoredMap{Name: name, Root: root, Edges: records, SavedAt: time.Now().UTC()}
	if err := s.store.Save(ctx, m); err != nil {
		return nil, fmt.Errorf("save map %s: %w", name, err)
	}
	s.logger.Info("danger map saved", slog.String("name", name), slog.Int("edge_count", len(records)))
	return &badgerstore.MapInfo{Name: name, Root: root, EdgeCount: len(records), SavedAt: m.SavedAt}, nil
}

// ListMaps returns the saved maps in name order.
func (s *Service) ListMaps(ctx context.Context) ([]badgerstore.MapInfo, error) {
	if s.store == nil {
		return nil, ErrStorageDisabled
	}
	return s.store.List(ctx)
}

// GetMap returns a saved map with its edges.
func (s *Service) GetMap(ctx context.Context, name string) (*badgerstore.StoredMap, error) {
	if s.store == nil {
		return nil, ErrStorageDisabled
	}
	return s.store.Load(ctx, name)
}

// LoadMap makes a saved map current.
func (s *Service) LoadMap(ctx context.Context, name string) (*Snapshot, error) {
	m, err := s.GetMap(ctx, name)
	if err != nil {
		return nil, err
	}
	return s.Load(ctx, m.Edges, LoadOptions{Root: m.Root, Source: "map:" + name})
}

// DeleteMap removes a saved map. The current snapshot is unaffected.
func (s *Service) DeleteMap(ctx context.Context, name string) error {
	if s.store == nil {
		return ErrStorageDisabled
	}
	return s.store.Delete(ctx, name)
}

// CacheStats returns result cache hits, misses and evictions. All zero
// when the cache is disabled.
func (s *Service) CacheStats() (hits, misses, evictions int64) {
	if s.cache == nil {
		return 0, 0, 0
	}
	return s.cache.Stats()
}

// sourceKind reduces a source label to a low-cardinality metric label.
func sourceKind(source string) string {
	kind, _, _ := strings.Cut(source, ":")
	return kind
}

