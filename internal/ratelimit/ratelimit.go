// Package ratelimit implements a per-client sliding-window request
// counter. Stale entries are evicted on every check, so the window state
// stays bounded by actual recent traffic.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter enforces per-minute and per-hour request ceilings per client
// key. A single mutex guards all state.
type Limiter struct {
	perMinute int
	perHour   int

	mu      sync.Mutex
	clients map[string][]time.Time
	now     func() time.Time
}

// New constructs a limiter. Non-positive limits disable that window.
func New(perMinute, perHour int) *Limiter {
	return &Limiter{
		perMinute: perMinute,
		perHour:   perHour,
		clients:   make(map[string][]time.Time),
		now:       time.Now,
	}
}

// Allow records one request for the client key and reports whether it is
// within both windows. Timestamps older than an hour are evicted; clients
// with no recent requests are dropped entirely.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	hourAgo := now.Add(-time.Hour)
	minuteAgo := now.Add(-time.Minute)

	kept := l.clients[key][:0]
	minuteCount := 0
	for _, t := range l.clients[key] {
		if t.Before(hourAgo) {
			continue
		}
		kept = append(kept, t)
		if t.After(minuteAgo) {
			minuteCount++
		}
	}

	if l.perMinute > 0 && minuteCount >= l.perMinute {
		l.store(key, kept)
		return false
	}
	if l.perHour > 0 && len(kept) >= l.perHour {
		l.store(key, kept)
		return false
	}

	l.store(key, append(kept, now))
	return true
}

func (l *Limiter) store(key string, stamps []time.Time) {
	if len(stamps) == 0 {
		delete(l.clients, key)
		return
	}
	l.clients[key] = stamps
}
