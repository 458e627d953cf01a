// Package ratelimit provides two limiters devflow needs: a fixed-window
// per-caller limiter for the HTTP API surface, kept close to the
// teacher's server/ratelimit.go, and a token-bucket limiter
// (golang.org/x/time/rate) for sandbox session creation bursts, the one
// concern the teacher's hand-rolled limiter was never asked to cover.
package ratelimit

import (
	"net/http"
	"sync"
	"time"
)

const (
	DefaultMaxRequests = 100
	DefaultWindow      = time.Minute
)

type windowEntry struct {
	windowStart time.Time
	count       int
}

// FixedWindow is a per-caller fixed-window request limiter.
type FixedWindow struct {
	mutex       sync.Mutex
	requests    map[string]windowEntry
	maxRequests int
	window      time.Duration
	now         func() time.Time
}

// NewFixedWindow constructs a limiter allowing maxRequests per window per
// caller key. now defaults to time.Now when nil.
func NewFixedWindow(maxRequests int, window time.Duration, now func() time.Time) *FixedWindow {
	if now == nil {
		now = time.Now
	}
	return &FixedWindow{
		requests:    make(map[string]windowEntry),
		maxRequests: maxRequests,
		window:      window,
		now:         now,
	}
}

// Allow reports whether a request from key is permitted, counting
// against its window if so. An empty key is always allowed, matching
// the teacher's "unauthenticated routes are protected elsewhere" rule.
func (l *FixedWindow) Allow(key string) bool {
	if key == "" {
		return true
	}

	now := l.now()

	l.mutex.Lock()
	defer l.mutex.Unlock()

	entry, exists := l.requests[key]
	if !exists || now.Sub(entry.windowStart) >= l.window {
		l.requests[key] = windowEntry{windowStart: now, count: 1}
		return true
	}

	if entry.count >= l.maxRequests {
		return false
	}

	entry.count++
	l.requests[key] = entry
	return true
}

// Middleware wraps an http.Handler, rejecting callers over the limit
// with 429. keyFunc extracts the rate-limit key from the request (e.g.
// an authenticated user ID or API token).
func Middleware(limiter *FixedWindow, keyFunc func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(keyFunc(r)) {
				http.Error(w, "Too many requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
