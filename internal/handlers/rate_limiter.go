package handlers

import (
	"strings"
	"sync"
	"time"
)

// rateLimiter admits or refuses a request for key. When it refuses, it reports how long until the
// key's window resets.
type rateLimiter interface {
	Allow(key string) (time.Duration, bool)
}

// windowRateLimiter counts requests per key in fixed windows that start on the key's first hit.
type windowRateLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu        sync.Mutex
	windows   map[string]rateWindow
	lastPrune time.Time
}

type rateWindow struct {
	count int
	reset time.Time
}

func newWindowRateLimiter(limit int, window time.Duration, clock func() time.Time) rateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &windowRateLimiter{
		limit:   limit,
		window:  window,
		clock:   clock,
		windows: make(map[string]rateWindow),
	}
}

func (l *windowRateLimiter) Allow(key string) (time.Duration, bool) {
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}
	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked(now)

	current, ok := l.windows[key]
	if !ok || !now.Before(current.reset) {
		l.windows[key] = rateWindow{count: 1, reset: now.Add(l.window)}
		return 0, true
	}
	if current.count >= l.limit {
		return current.reset.Sub(now), false
	}
	current.count++
	l.windows[key] = current
	return 0, true
}

// pruneLocked drops expired windows at most once per window length.
func (l *windowRateLimiter) pruneLocked(now time.Time) {
	if now.Sub(l.lastPrune) < l.window {
		return
	}
	l.lastPrune = now
	for key, w := range l.windows {
		if !now.Before(w.reset) {
			delete(l.windows, key)
		}
	}
}
