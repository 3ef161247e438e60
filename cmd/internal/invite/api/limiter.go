package api

import (
	"sync"
	"time"
)

const maxLimiterKeys = 10_000

// keyedLimiter is a per-key sliding-window limiter (one window per client IP).
type keyedLimiter struct {
	mu     sync.Mutex
	events map[string][]time.Time
	limit  int
	window time.Duration
}

// newKeyedLimiter returns nil when limit <= 0, which disables limiting.
func newKeyedLimiter(limit int, window time.Duration) *keyedLimiter {
	if limit <= 0 {
		return nil
	}
	if window <= 0 {
		window = time.Minute
	}
	return &keyedLimiter{
		events: make(map[string][]time.Time),
		limit:  limit,
		window: window,
	}
}

// Allow reports whether an event for key at now is permitted, and if not, when to retry.
func (l *keyedLimiter) Allow(key string, now time.Time) (bool, time.Duration) {
	if l == nil {
		return true, 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	cut := now.Add(-l.window)
	evs := prune(l.events[key], cut)

	if len(evs) >= l.limit {
		l.events[key] = evs
		return false, evs[0].Add(l.window).Sub(now)
	}

	if _, ok := l.events[key]; !ok && len(l.events) >= maxLimiterKeys {
		l.sweep(cut)
	}
	l.events[key] = append(evs, now)
	return true, 0
}

// sweep drops keys with no events inside the window.
func (l *keyedLimiter) sweep(cut time.Time) {
	for k, evs := range l.events {
		if evs = prune(evs, cut); len(evs) == 0 {
			delete(l.events, k)
		} else {
			l.events[k] = evs
		}
	}
}

func prune(evs []time.Time, cut time.Time) []time.Time {
	dst := evs[:0]
	for _, t := range evs {
		if t.After(cut) {
			dst = append(dst, t)
		}
	}
	return dst
}
