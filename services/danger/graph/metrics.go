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
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level tracer and meter for danger map operations.
var (
	tracer = otel.Tracer("dangerpath.graph")
	meter  = otel.Meter("dangerpath.graph")
)

// Build metrics (otel instruments, exported through the configured MeterProvider).
var (
	buildLatency      metric.Float64Histogram
	buildTotal        metric.Int64Counter
	nodesBuilt        metric.Int64Histogram
	preprocessLatency metric.Float64Histogram
	liftingLevels     metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// Query metrics.
var (
	// queryTotal counts queries by operation and result kind ("ok" on success).
	queryTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dangerpath_queries_total",
		Help: "Total path queries by operation and result",
	}, []string{"op", "result"})

	queryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dangerpath_query_duration_seconds",
		Help:    "Path query duration by operation",
		Buckets: []float64{0.000001, 0.00001, 0.0001, 0.001, 0.01},
	}, []string{"op"})
)

// initMetrics initializes the otel instruments. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		buildLatency, err = meter.Float64Histogram(
			"dangerpath_build_duration_seconds",
			metric.WithDescription("Duration of danger map builds"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		buildTotal, err = meter.Int64Counter(
			"dangerpath_build_total",
			metric.WithDescription("Total danger map builds by result"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		nodesBuilt, err = meter.Int64Histogram(
			"dangerpath_build_nodes",
			metric.WithDescription("Number of nodes per built danger map"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		preprocessLatency, err = meter.Float64Histogram(
			"dangerpath_preprocess_duration_seconds",
			metric.WithDescription("Duration of lifting table construction"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		liftingLevels, err = meter.Int64Histogram(
			"dangerpath_lifting_levels",
			metric.WithDescription("Number of lifting levels per preprocessed map"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordBuildMetrics records one BuildGraph call. kind is "" on success.
func recordBuildMetrics(ctx context.Context, duration time.Duration, nodeCount int, kind string) {
	if err := initMetrics(); err != nil {
		return
	}
	result := kind
	if result == "" {
		result = "ok"
	}
	attrs := metric.WithAttributes(attribute.String("result", result))

	buildLatency.Record(ctx, duration.Seconds(), attrs)
	buildTotal.Add(ctx, 1, attrs)
	if kind == "" {
		nodesBuilt.Record(ctx, int64(nodeCount))
	}
}

// recordPreprocessMetrics records one successful Preprocess call.
func recordPreprocessMetrics(ctx context.Context, duration time.Duration, levels int) {
	if err := initMetrics(); err != nil {
		return
	}
	preprocessLatency.Record(ctx, duration.Seconds())
	liftingLevels.Record(ctx, int64(levels))
}

// observeQuery records one query outcome.
func observeQuery(op string, duration time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = ErrorKind(err)
	}
	queryTotal.WithLabelValues(op, result).Inc()
	queryDuration.WithLabelValues(op).Observe(duration.Seconds())
}
