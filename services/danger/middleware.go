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
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	limiterSweepInterval = 60 * time.Second
	limiterStaleAfter    = 5 * time.Minute
)

type limiterEntry struct {
	limiter  *rate.Limiter
	mu       sync.Mutex
	lastSeen time.Time
}

// RateLimiter tracks per-client request rates with a token bucket each.
//
// Thread Safety: Safe for concurrent use. Call Stop to end the sweeper.
type RateLimiter struct {
	rate    rate.Limit
	burst   int
	clients sync.Map // map[string]*limiterEntry

	stop     chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter allows r requests per second per client with the given
// burst. A background goroutine forgets clients idle for five minutes.
func NewRateLimiter(r float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	l := &RateLimiter{
		rate:  rate.Limit(r),
		burst: burst,
		stop:  make(chan struct{}),
	}
	go l.sweep()
	return l
}

// Allow reports whether a request from client should be served.
func (l *RateLimiter) Allow(client string) bool {
	now := time.Now()
	v, _ := l.clients.LoadOrStore(client, &limiterEntry{
		limiter:  rate.NewLimiter(l.rate, l.burst),
		lastSeen: now,
	})
	e := v.(*limiterEntry)
	e.mu.Lock()
	e.lastSeen = now
	e.mu.Unlock()
	return e.limiter.Allow()
}

// Stop terminates the sweeper goroutine.
func (l *RateLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *RateLimiter) sweep() {
	ticker := time.NewTicker(limiterSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case now := <-ticker.C:
			l.clients.Range(func(key, value any) bool {
				e := value.(*limiterEntry)
				e.mu.Lock()
				stale := now.Sub(e.lastSeen) > limiterStaleAfter
				e.mu.Unlock()
				if stale {
					l.clients.Delete(key)
				}
				return true
			})
		}
	}
}

// Middleware rejects requests over the client's rate with 429 RATE_LIMITED.
func (l *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow(c.ClientIP()) {
			rateLimited.Inc()
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
				Error: "Rate limit exceeded",
				Code:  "RATE_LIMITED",
			})
			return
		}
		c.Next()
	}
}

// BodyLimit caps request bodies at maxBytes. Reads past the cap fail,
// which surfaces as a bind error in the handler.
func BodyLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxBytes > 0 && c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}
