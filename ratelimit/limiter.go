// Package ratelimit implements a fixed-window request counter keyed by
// an arbitrary string, with a cleanup cron for stale windows.
package ratelimit

import (
	"sync"
	"time"
)

// DefaultCleanupRetention is how long a window is kept once it has
// expired, before the cleanup cron purges it.
const DefaultCleanupRetention = 48 * time.Hour

// DefaultCleanupBatch bounds how many records a single cleanup pass
// removes.
const DefaultCleanupBatch = 500

// DefaultCleanupMaxPasses bounds how many batches a single Cleanup
// call runs, so a huge backlog cannot block the caller indefinitely.
const DefaultCleanupMaxPasses = 5

// Result is the outcome of a CheckAndRecord call.
type Result struct {
	Allowed      bool
	Remaining    int
	RetryAfterMS int64 // only meaningful when !Allowed
}

// Stats is the outcome of a GetStats call.
type Stats struct {
	Limit     int
	Remaining int
	ResetMS   int64
}

type window struct {
	count     int
	windowEnd time.Time
}

// Limiter is a fixed-window rate limiter: each key has its own window
// that resets windowMs after its first hit. Safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

// NewLimiter builds an empty Limiter. now defaults to time.Now.
func NewLimiter(now func() time.Time) *Limiter {
	if now == nil {
		now = time.Now
	}
	return &Limiter{windows: make(map[string]*window), now: now}
}

// CheckAndRecord atomically increments key's counter within its
// current windowMs-wide window (starting a new window if the prior one
// expired), and reports whether the request at position count is
// within maxRequests.
func (l *Limiter) CheckAndRecord(key string, windowMs int64, maxRequests int) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || !now.Before(w.windowEnd) {
		w = &window{count: 0, windowEnd: now.Add(time.Duration(windowMs) * time.Millisecond)}
		l.windows[key] = w
	}
	w.count++

	if w.count > maxRequests {
		return Result{Allowed: false, Remaining: 0, RetryAfterMS: w.windowEnd.Sub(now).Milliseconds()}
	}
	return Result{Allowed: true, Remaining: maxRequests - w.count}
}

// GetStats reports a key's current window state without recording a
// new hit.
func (l *Limiter) GetStats(key string, windowMs int64, maxRequests int) Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || !now.Before(w.windowEnd) {
		return Stats{Limit: maxRequests, Remaining: maxRequests, ResetMS: windowMs}
	}
	remaining := maxRequests - w.count
	if remaining < 0 {
		remaining = 0
	}
	return Stats{Limit: maxRequests, Remaining: remaining, ResetMS: w.windowEnd.Sub(now).Milliseconds()}
}

// Cleanup purges windows that expired more than retention ago, in
// batches of at most batchSize, running at most maxPasses batches.
// It returns the total number of windows removed.
func (l *Limiter) Cleanup(retention time.Duration, batchSize, maxPasses int) int {
	if retention <= 0 {
		retention = DefaultCleanupRetention
	}
	if batchSize <= 0 {
		batchSize = DefaultCleanupBatch
	}
	if maxPasses <= 0 {
		maxPasses = DefaultCleanupMaxPasses
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for pass := 0; pass < maxPasses; pass++ {
		n := 0
		for key, w := range l.windows {
			if n >= batchSize {
				break
			}
			if now.Sub(w.windowEnd) > retention {
				delete(l.windows, key)
				n++
			}
		}
		removed += n
		if n < batchSize {
			break
		}
	}
	return removed
}
