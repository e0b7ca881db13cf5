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
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/dangerpath/services/danger/graph"
	badgerstore "github.com/AleutianAI/dangerpath/services/danger/storage/badger"
	"github.com/AleutianAI/dangerpath/services/danger/textio"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// Handlers contains the HTTP handlers for the danger path service.
type Handlers struct {
	svc *Service
}

// NewHandlers creates handlers for the given service.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// HandleHealth handles GET /v1/danger/health.
//
// Description:
//
//	Always returns 200 while the process is up. Generation and node count
//	are zero before the first load.
//
// Response:
//
//	200 OK: HealthResponse
func (h *Handlers) HandleHealth(c *gin.Context) {
	resp := HealthResponse{
		Status:      "healthy",
		Version:     ServiceVersion,
		Subscribers: h.svc.Hub().Count(),
	}
	if snap := h.svc.Current(); snap != nil {
		resp.Generation = snap.Generation
		resp.NodeCount = snap.Graph().NodeCount()
	}
	c.JSON(http.StatusOK, resp)
}

// HandleLoadMap handles POST /v1/danger/map.
//
// Description:
//
//	Builds a new danger map from edge text or records and makes it the
//	current map. The previous map keeps serving if the build fails.
//
// Request Body:
//
//	MapRequest
//
// Response:
//
//	200 OK: MapSummary
//	400 Bad Request: Malformed body or a map that is not a valid tree
func (h *Handlers) HandleLoadMap(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleLoadMap")

	var req MapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Code:    "INVALID_REQUEST",
			Details: err.Error(),
		})
		return
	}

	records, err := req.records()
	if err != nil {
		writeError(c, logger, "Map rejected", err)
		return
	}

	snap, err := h.svc.Load(c.Request.Context(), records, LoadOptions{Root: graph.NodeID(req.Root)})
	if err != nil {
		writeError(c, logger, "Map rejected", err)
		return
	}

	logger.Info("Loaded map", "generation", snap.Generation, "node_count", snap.Graph().NodeCount())
	c.JSON(http.StatusOK, summarize(snap))
}

// HandleGetGraph handles GET /v1/danger/graph.
//
// Response:
//
//	200 OK: graph.GraphData
//	409 Conflict: No map loaded
func (h *Handlers) HandleGetGraph(c *gin.Context) {
	snap := h.svc.Current()
	if snap == nil {
		writeError(c, slog.With("handler", "HandleGetGraph"), "Graph unavailable", ErrNoMapLoaded)
		return
	}
	c.JSON(http.StatusOK, snap.Graph().Export())
}

// HandleQuery handles POST /v1/danger/query.
//
// Description:
//
//	Answers path queries against the current map. Per-pair failures are
//	reported inside the results; only request-level problems fail the
//	whole call.
//
// Request Body:
//
//	QueryRequest
//
// Response:
//
//	200 OK: QueryResponse
//	400 Bad Request: Neither pairs nor queries, or too many pairs
//	409 Conflict: No map loaded
func (h *Handlers) HandleQuery(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleQuery")

	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Code:    "INVALID_REQUEST",
			Details: err.Error(),
		})
		return
	}

	var (
		batch *QueryBatch
		err   error
	)
	switch {
	case req.Queries != "":
		batch, err = h.svc.QueryText(c.Request.Context(), req.Queries)
	case req.Pairs != nil:
		pairs := make([]graph.QueryPair, len(req.Pairs))
		for i, p := range req.Pairs {
			pairs[i] = graph.QueryPair{U: graph.NodeID(p[0]), V: graph.NodeID(p[1])}
		}
		batch, err = h.svc.Query(c.Request.Context(), pairs)
	default:
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "pairs or queries required",
			Code:  "INVALID_REQUEST",
		})
		return
	}
	if err != nil {
		writeError(c, logger, "Query failed", err)
		return
	}

	logger.Debug("Answered queries", "count", len(batch.Results), "generation", batch.Generation)
	c.JSON(http.StatusOK, QueryResponse{
		Generation: batch.Generation,
		Results:    ToResultsJSON(batch.Results),
	})
}

// HandleRun handles POST /v1/danger/run.
//
// Description:
//
//	Builds the given edges and answers the given queries without
//	touching the current map.
//
// Response:
//
//	200 OK: RunResponse
//	400 Bad Request: Malformed edges or a map that is not a valid tree
func (h *Handlers) HandleRun(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleRun")

	var req RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Code:    "INVALID_REQUEST",
			Details: err.Error(),
		})
		return
	}

	res, err := h.svc.Run(c.Request.Context(), req.Edges, req.Queries, graph.NodeID(req.Root))
	if err != nil {
		writeError(c, logger, "Run failed", err)
		return
	}
	c.JSON(http.StatusOK, RunResponse{Graph: res.Graph, Results: ToResultsJSON(res.Results)})
}

// HandleListMaps handles GET /v1/danger/maps.
//
// Response:
//
//	200 OK: MapListResponse
//	503 Service Unavailable: Storage not configured
func (h *Handlers) HandleListMaps(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleListMaps")

	maps, err := h.svc.ListMaps(c.Request.Context())
	if err != nil {
		writeError(c, logger, "List maps failed", err)
		return
	}
	if maps == nil {
		maps = []badgerstore.MapInfo{}
	}
	c.JSON(http.StatusOK, MapListResponse{Maps: maps})
}

// HandleGetMap handles GET /v1/danger/maps/:name.
func (h *Handlers) HandleGetMap(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleGetMap")

	m, err := h.svc.GetMap(c.Request.Context(), c.Param("name"))
	if err != nil {
		writeError(c, logger, "Get map failed", err)
		return
	}
	c.JSON(http.StatusOK, StoredMapResponse{Name: m.Name, Root: m.Root, Edges: m.Edges, SavedAt: m.SavedAt})
}

// HandleSaveMap handles PUT /v1/danger/maps/:name.
//
// Description:
//
//	Validates the map by building it, then stores it under the name.
//	Saving does not change the current map.
//
// Response:
//
//	200 OK: badger.MapInfo
//	400 Bad Request: Invalid name, malformed body or invalid map
//	503 Service Unavailable: Storage not configured
func (h *Handlers) HandleSaveMap(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	name := c.Param("name")
	logger := slog.With("request_id", requestID, "handler", "HandleSaveMap", "map", name)

	var req MapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Code:    "INVALID_REQUEST",
			Details: err.Error(),
		})
		return
	}

	records, err := req.records()
	if err != nil {
		writeError(c, logger, "Map rejected", err)
		return
	}

	info, err := h.svc.SaveMap(c.Request.Context(), name, records, graph.NodeID(req.Root))
	if err != nil {
		writeError(c, logger, "Save map failed", err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// HandleLoadSavedMap handles POST /v1/danger/maps/:name/load.
//
// Response:
//
//	200 OK: MapSummary
//	404 Not Found: No such map
//	503 Service Unavailable: Storage not configured
func (h *Handlers) HandleLoadSavedMap(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	name := c.Param("name")
	logger := slog.With("request_id", requestID, "handler", "HandleLoadSavedMap", "map", name)

	snap, err := h.svc.LoadMap(c.Request.Context(), name)
	if err != nil {
		writeError(c, logger, "Load map failed", err)
		return
	}

	logger.Info("Loaded saved map", "generation", snap.Generation)
	c.JSON(http.StatusOK, summarize(snap))
}

// HandleDeleteMap handles DELETE /v1/danger/maps/:name.
//
// Response:
//
//	204 No Content: Deleted
//	404 Not Found: No such map
//	503 Service Unavailable: Storage not configured
func (h *Handlers) HandleDeleteMap(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	name := c.Param("name")
	logger := slog.With("request_id", requestID, "handler", "HandleDeleteMap", "map", name)

	if err := h.svc.DeleteMap(c.Request.Context(), name); err != nil {
		writeError(c, logger, "Delete map failed", err)
		return
	}

	logger.Info("Deleted map")
	c.Status(http.StatusNoContent)
}

// HandleEvents handles GET /v1/danger/events.
//
// Description:
//
//	Upgrades to a websocket and streams map lifecycle events as JSON
//	text frames until the client disconnects. Client messages are read
//	and discarded.
func (h *Handlers) HandleEvents(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleEvents")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("failed to upgrade the websocket", "error", err)
		return
	}

	id, events, cancel := h.svc.Hub().Subscribe()
	defer cancel()
	defer ws.Close()
	logger.Info("Event subscriber connected", "subscriber", id)

	_ = ws.SetReadDeadline(time.Now().Add(wsPongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.Warn("websocket read error", "error", err)
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			logger.Info("Event subscriber disconnected", "subscriber", id)
			return
		case e, ok := <-events:
			if !ok {
				_ = ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := ws.WriteJSON(e); err != nil {
				logger.Warn("websocket write failed", "error", err)
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// records resolves the request's edges to records.
func (r MapRequest) records() ([]graph.EdgeRecord, error) {
	switch {
	case r.Edges != "":
		return textio.ParseEdgesString(r.Edges)
	case r.Records != nil:
		return r.Records, nil
	default:
		return nil, ErrEmptyMapInput
	}
}

// errorStatus maps a service error to an HTTP status and error code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ErrNoMapLoaded):
		return http.StatusConflict, "NO_MAP_LOADED"
	case errors.Is(err, ErrStorageDisabled):
		return http.StatusServiceUnavailable, "STORAGE_DISABLED"
	case errors.Is(err, badgerstore.ErrMapNotFound):
		return http.StatusNotFound, "MAP_NOT_FOUND"
	case errors.Is(err, badgerstore.ErrInvalidMapName):
		return http.StatusBadRequest, "INVALID_MAP_NAME"
	case errors.Is(err, ErrTooManyPairs):
		return http.StatusBadRequest, "TOO_MANY_PAIRS"
	case errors.Is(err, ErrEmptyMapInput):
		return http.StatusBadRequest, "INVALID_REQUEST"
	}

	switch kind := graph.ErrorKind(err); kind {
	case graph.KindCanceled:
		return http.StatusRequestTimeout, kind
	case graph.KindInternal:
		return http.StatusInternalServerError, kind
	default:
		return http.StatusBadRequest, kind
	}
}

func writeError(c *gin.Context, logger *slog.Logger, msg string, err error) {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		logger.Error(msg, "error", err, "code", code)
	} else {
		logger.Warn(msg, "error", err, "code", code)
	}
	c.JSON(status, ErrorResponse{
		Error: err.Error(),
		Code:  code,
	})
}

// getOrCreateRequestID extracts or generates a request ID.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}
