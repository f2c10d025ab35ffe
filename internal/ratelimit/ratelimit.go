// Package ratelimit implements the Action Dispatcher's per-actor
// token-bucket rate limiter for throttle outcomes: one
// golang.org/x/time/rate.Limiter per actor, refilling at
// capacity/window tokens per second in O(1) per check, plus eviction
// of limiters unused for longer than the window so memory stays
// bounded by active actors rather than growing forever.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config controls the per-actor token bucket.
type Config struct {
	WindowSeconds int
	MaxRequests   int
}

// DefaultConfig returns the default: 5 tokens per 60s window.
func DefaultConfig() Config {
	return Config{WindowSeconds: 60, MaxRequests: 5}
}

type actorEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter is a per-actor token-bucket rate limiter.
type Limiter struct {
	mu      sync.Mutex
	actors  map[string]*actorEntry
	ratePS  rate.Limit
	burst   int
	window  time.Duration
	nowFunc func() time.Time
}

// New constructs a Limiter from Config.
func New(cfg Config) *Limiter {
	if cfg.WindowSeconds <= 0 {
		cfg.WindowSeconds = 60
	}
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = 5
	}
	return &Limiter{
		actors:  make(map[string]*actorEntry),
		ratePS:  rate.Limit(float64(cfg.MaxRequests) / float64(cfg.WindowSeconds)),
		burst:   cfg.MaxRequests,
		window:  time.Duration(cfg.WindowSeconds) * time.Second,
		nowFunc: time.Now,
	}
}

// Allow consults (and lazily creates) actorID's bucket, consuming a
// token if one is available. It also evicts any other actor entry
// that has been idle longer than the window, bounding memory to active
// actors.
func (l *Limiter) Allow(actorID string) bool {
	now := l.nowFunc()

	l.mu.Lock()
	defer l.mu.Unlock()

	ae, ok := l.actors[actorID]
	if !ok {
		ae = &actorEntry{limiter: rate.NewLimiter(l.ratePS, l.burst)}
		l.actors[actorID] = ae
	}
	ae.lastSeen = now
	allowed := ae.limiter.AllowN(now, 1)

	l.evictIdleLocked(now)

	return allowed
}

func (l *Limiter) evictIdleLocked(now time.Time) {
	cutoff := now.Add(-l.window)
	for id, ae := range l.actors {
		if ae.lastSeen.Before(cutoff) {
			delete(l.actors, id)
		}
	}
}

// TrackedActors returns the number of actors currently holding a bucket
// entry, for observability/tests.
func (l *Limiter) TrackedActors() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.actors)
}
