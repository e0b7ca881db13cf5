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
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event types published by the service.
const (
	EventMapLoaded    = "map_loaded"
	EventReloadFailed = "reload_failed"
)

const (
	subscriberBufSize = 32
	wsPingPeriod      = 30 * time.Second
	wsPongWait        = 2 * wsPingPeriod
	wsWriteWait       = 10 * time.Second
)

// Event is a map lifecycle notification.
type Event struct {
	Type       string    `json:"type"`
	Generation uint64    `json:"generation"`
	NodeCount  int       `json:"node_count"`
	EdgeCount  int       `json:"edge_count"`
	Source     string    `json:"source,omitempty"`
	Error      string    `json:"error,omitempty"`
	Time       time.Time `json:"time"`
}

// Hub fans events out to subscribers.
//
// Description:
//
//	Each subscriber owns a buffered channel. Publish never blocks: an
//	event for a subscriber whose buffer is full is dropped for that
//	subscriber only.
//
// Thread Safety: Safe for concurrent use.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]chan Event
	logger *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{subs: make(map[string]chan Event), logger: logger}
}

// Subscribe registers a subscriber and returns its id, its event channel
// and a cancel function that unregisters it and closes the channel.
func (h *Hub) Subscribe() (string, <-chan Event, func()) {
	id := uuid.NewString()
	ch := make(chan Event, subscriberBufSize)

	h.mu.Lock()
	h.subs[id] = ch
	n := len(h.subs)
	h.mu.Unlock()
	eventSubscribers.Set(float64(n))

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			n := len(h.subs)
			h.mu.Unlock()
			close(ch)
			eventSubscribers.Set(float64(n))
		})
	}
	return id, ch, cancel
}

// Publish delivers e to every subscriber without blocking.
func (h *Hub) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, ch := range h.subs {
		select {
		case ch <- e:
		default:
			h.logger.Warn("event subscriber buffer full, dropping event",
				slog.String("subscriber", id),
				slog.String("type", e.Type),
			)
		}
	}
}

// Count returns the number of live subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
