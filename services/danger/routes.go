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
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/dangerpath/services/danger/telemetry"
)

// RegisterRoutes registers all danger path routes with the router.
//
// Description:
//
//	Registers all /v1/danger/* endpoints with the given Gin router group.
//	The router group should already have any required middleware applied.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Map Endpoints:
//
//	POST /v1/danger/map - Load a danger map and make it current
//	GET  /v1/danger/graph - Renderer payload for the current map
//	POST /v1/danger/query - Path queries against the current map
//	POST /v1/danger/run - Stateless build and query
//
// Saved Map Endpoints:
//
//	GET    /v1/danger/maps - List saved maps
//	GET    /v1/danger/maps/:name - Get a saved map
//	PUT    /v1/danger/maps/:name - Save a map
//	DELETE /v1/danger/maps/:name - Delete a saved map
//	POST   /v1/danger/maps/:name/load - Make a saved map current
//
// Other Endpoints:
//
//	GET /v1/danger/health - Health check
//	GET /v1/danger/events - Websocket stream of map events
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	d := rg.Group("/danger")
	{
		d.GET("/health", handlers.HandleHealth)

		d.POST("/map", handlers.HandleLoadMap)
		d.GET("/graph", handlers.HandleGetGraph)
		d.POST("/query", handlers.HandleQuery)
		d.POST("/run", handlers.HandleRun)

		maps := d.Group("/maps")
		{
			maps.GET("", handlers.HandleListMaps)
			maps.GET("/:name", handlers.HandleGetMap)
			maps.PUT("/:name", handlers.HandleSaveMap)
			maps.DELETE("/:name", handlers.HandleDeleteMap)
			maps.POST("/:name/load", handlers.HandleLoadSavedMap)
		}

		d.GET("/events", handlers.HandleEvents)
	}
}

// RouterOptions configures NewRouter.
type RouterOptions struct {
	// ServiceName is reported by the tracing middleware.
	// Default: "dangerpath"
	ServiceName string

	// Limiter rate limits the API when non-nil.
	Limiter *RateLimiter

	// MaxBodyBytes caps request bodies. Zero means no cap.
	MaxBodyBytes int64

	// Metrics mounts GET /metrics when true.
	Metrics bool
}

// NewRouter builds the full HTTP router for svc.
func NewRouter(svc *Service, opts RouterOptions) *gin.Engine {
	if opts.ServiceName == "" {
		opts.ServiceName = "dangerpath"
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(opts.ServiceName))

	if opts.Metrics {
		router.GET("/metrics", gin.WrapH(telemetry.MetricsHandler()))
	}

	v1 := router.Group("/v1")
	if opts.Limiter != nil {
		v1.Use(opts.Limiter.Middleware())
	}
	v1.Use(BodyLimit(opts.MaxBodyBytes))
	RegisterRoutes(v1, NewHandlers(svc))
	return router
}
