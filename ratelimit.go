package main

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// RateLimiter is a sliding-window per-client rate limiter. State is
// in-memory and best-effort: it tolerates being lost on restart and is
// not shared across processes.
type RateLimiter struct {
	requestsPerWindow int
	window            time.Duration

	mu              sync.Mutex
	requests        map[string][]time.Time
	lastFullCleanup time.Time
	cleanupInterval time.Duration
}

// NewRateLimiter creates a limiter; requestsPerWindow <= 0 disables it.
func NewRateLimiter(requestsPerWindow int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requestsPerWindow: requestsPerWindow,
		window:            window,
		requests:          make(map[string][]time.Time),
		lastFullCleanup:   time.Now(),
		cleanupInterval:   5 * time.Minute,
	}
}

// Allow checks and records one request for the client. When rejected it
// also reports how long the client should wait before retrying.
func (l *RateLimiter) Allow(clientID string) (bool, time.Duration) {
	if l.requestsPerWindow <= 0 {
		return true, 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	l.periodicCleanupLocked(now)

	cutoff := now.Add(-l.window)
	kept := l.requests[clientID][:0]
	for _, t := range l.requests[clientID] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) < l.requestsPerWindow {
		l.requests[clientID] = append(kept, now)
		return true, 0
	}

	l.requests[clientID] = kept
	oldest := kept[0]
	retryAfter := oldest.Add(l.window).Sub(now) + time.Second
	return false, retryAfter
}

// periodicCleanupLocked drops stale clients so the map does not grow
// without bound; callers hold l.mu.
func (l *RateLimiter) periodicCleanupLocked(now time.Time) {
	if now.Sub(l.lastFullCleanup) < l.cleanupInterval {
		return
	}

	cutoff := now.Add(-l.window)
	for clientID, timestamps := range l.requests {
		stale := true
		for _, t := range timestamps {
			if t.After(cutoff) {
				stale = false
				break
			}
		}
		if stale {
			delete(l.requests, clientID)
		}
	}
	l.lastFullCleanup = now
}

// clientID identifies the caller, preferring the original client in an
// X-Forwarded-For chain when running behind a proxy.
func clientID(c *gin.Context) string {
	if forwarded := c.GetHeader("X-Forwarded-For"); forwarded != "" {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	return c.ClientIP()
}

// RateLimitMiddleware rejects over-limit requests with 429 and a
// Retry-After hint.
func RateLimitMiddleware(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, retryAfter := limiter.Allow(clientID(c))
		if !allowed {
			c.Header("Retry-After", fmt.Sprintf("%d", int(retryAfter.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "Rate limit exceeded. Please slow down.",
			})
			return
		}
		c.Next()
	}
}
