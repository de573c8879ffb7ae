// Package ratelimit throttles control requests per client. A UI dragging a
// slider or toggling selections quickly would otherwise force one poll and
// one round of pw-link calls per request.
package ratelimit

import (
	"sync"
	"time"

	"grimm.is/audiolink/internal/clock"
)

// Limiter hands out a fixed number of requests per window to each key.
type Limiter struct {
	limit    int
	interval time.Duration

	mu      sync.Mutex
	windows map[string]*window
}

type window struct {
	remaining int
	start     time.Time
}

// New allows limit requests per key in every interval. A limit of zero or
// less disables limiting.
func New(limit int, interval time.Duration) *Limiter {
	return &Limiter{
		limit:    limit,
		interval: interval,
		windows:  make(map[string]*window),
	}
}

// Allow reports whether one more request for key fits the current window.
func (l *Limiter) Allow(key string) bool {
	if l == nil || l.limit <= 0 {
		return true
	}
	now := clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= l.interval {
		w = &window{remaining: l.limit, start: now}
		l.windows[key] = w
	}
	if w.remaining <= 0 {
		return false
	}
	w.remaining--
	return true
}

// RetryAfter returns how long key must wait for its window to reset.
func (l *Limiter) RetryAfter(key string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.windows[key]
	if !ok {
		return 0
	}
	if d := l.interval - clock.Since(w.start); d > 0 {
		return d
	}
	return 0
}

// Prune drops windows that ended more than maxAge ago and returns how many
// were removed.
func (l *Limiter) Prune(maxAge time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := clock.Now()
	removed := 0
	for key, w := range l.windows {
		if now.Sub(w.start) > l.interval+maxAge {
			delete(l.windows, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}
