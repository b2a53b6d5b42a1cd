package handlers

import (
	"strings"
	"sync"
	"time"
)

// rateLimiter throttles review submissions per user so a single account
// cannot flood a medicine's review stream.
type rateLimiter interface {
	Allow(key string) bool
}

// simpleRateLimiter keeps a sliding window of submission times per key.
// State is in-process only; with several replicas the effective limit is
// limit × replicas, which is acceptable for an abuse brake.
type simpleRateLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	history map[string][]time.Time
}

func newSimpleRateLimiter(limit int, window time.Duration, clock func() time.Time) rateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &simpleRateLimiter{
		limit:   limit,
		window:  window,
		clock:   clock,
		history: make(map[string][]time.Time),
	}
}

func (l *simpleRateLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}

	now := l.clock()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	recent := l.history[key][:0]
	for _, at := range l.history[key] {
		if at.After(cutoff) {
			recent = append(recent, at)
		}
	}

	if len(recent) >= l.limit {
		l.history[key] = recent
		return false
	}

	l.history[key] = append(recent, now)
	l.dropIdleLocked(cutoff)
	return true
}

// dropIdleLocked evicts keys whose entire history fell out of the window.
func (l *simpleRateLimiter) dropIdleLocked(cutoff time.Time) {
	for key, times := range l.history {
		if len(times) == 0 {
			delete(l.history, key)
			continue
		}
		if !times[len(times)-1].After(cutoff) {
			delete(l.history, key)
		}
	}
}
