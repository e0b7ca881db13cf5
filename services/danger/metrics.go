// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package danger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("dangerpath.service")

var (
	snapshotLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dangerpath_snapshot_loads_total",
		Help: "Danger map loads by source kind and result",
	}, []string{"source", "result"})

	snapshotGeneration = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dangerpath_snapshot_generation",
		Help: "Generation of the currently served danger map",
	})

	snapshotNodes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dangerpath_snapshot_nodes",
		Help: "Node count of the currently served danger map",
	})

	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dangerpath_result_cache_lookups_total",
		Help: "Query result cache lookups by outcome",
	}, []string{"outcome"})

	eventSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dangerpath_event_subscribers",
		Help: "Connected map event subscribers",
	})

	rateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dangerpath_http_rate_limited_total",
		Help: "Requests rejected by the per-client rate limiter",
	})
)
