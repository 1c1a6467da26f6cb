// Package ratelimit admits upstream-bound requests under a per-operation
// quota measured over a sliding one second window.
package ratelimit

import (
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Window is the span over which admissions are counted.
const Window = time.Second

// DefaultOperation is the bucket shared by requests that do not name their
// own operation.
const DefaultOperation = "default"

// ExceededError is returned when an operation has used its quota for the
// current window. Callers can retry once the window has moved on.
type ExceededError struct {
	Operation string
	Quota     int
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s: %d requests per second", e.Operation, e.Quota)
}

// Status implements HTTPStatuser so the handler can report the limit to the
// client.
func (e *ExceededError) Status() (int, string) {
	return http.StatusTooManyRequests, fmt.Sprintf("rate limit exceeded: %d requests per second", e.Quota)
}

// Limiter tracks recent admissions for each operation name.
type Limiter struct {
	mu      sync.Mutex
	quota   int
	windows map[string][]time.Time
	now     func() time.Time
}

// New creates a limiter admitting quota requests per operation per second.
func New(quota int) *Limiter {
	return &Limiter{
		quota:   quota,
		windows: map[string][]time.Time{},
		now:     time.Now,
	}
}

// Allow admits a request for operation, or returns an *ExceededError if the
// quota for the window is already used. A denied request is not counted.
func (l *Limiter) Allow(operation string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	recent := prune(l.windows[operation], now)

	if len(recent) >= l.quota {
		l.windows[operation] = recent
		return &ExceededError{Operation: operation, Quota: l.quota}
	}

	l.windows[operation] = append(recent, now)
	return nil
}

// prune drops timestamps that have left the window. Timestamps are appended
// in order, so the retained entries are a suffix.
func prune(stamps []time.Time, now time.Time) []time.Time {
	for i, ts := range stamps {
		if now.Sub(ts) < Window {
			return stamps[i:]
		}
	}
	return stamps[:0]
}

// SetQuota replaces the quota. Admissions already recorded still count
// against the new quota.
func (l *Limiter) SetQuota(quota int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.quota = quota
}

func (l *Limiter) Quota() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.quota
}

// Stats reports the number of admissions recorded per operation, as last
// observed. Stale timestamps are only pruned on admission.
func (l *Limiter) Stats() map[string]int {
	l.mu.Lock()
	defer l.mu.Unlock()

	stats := make(map[string]int, len(l.windows))
	for op, stamps := range l.windows {
		stats[op] = len(stamps)
	}
	return stats
}
