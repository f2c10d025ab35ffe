// Package aiqueue implements the bounded-concurrency dispatcher that
// bridges the synchronous pipeline to the asynchronous, rate-limited
// AI backend. Concurrency is enforced with
// golang.org/x/sync/semaphore.Weighted; the queue's logical depth
// (in-flight plus waiting) is tracked with an explicit atomic counter
// independent of the semaphore's internal state.
package aiqueue

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// Config controls concurrency bounds and backoff shape.
type Config struct {
	MaxConcurrent    int
	MaxQueue         int
	InitialBackoffMS int
	MaxBackoffMS     int
}

// DefaultConfig returns the defaults: 10 concurrent, 100 total depth,
// 1s initial backoff capped at 30s.
func DefaultConfig() Config {
	return Config{MaxConcurrent: 10, MaxQueue: 100, InitialBackoffMS: 1000, MaxBackoffMS: 30000}
}

// Func is the AI call itself; Fallback is invoked in its place on
// overflow, cancellation, or any AI error.
type Func func(ctx context.Context) (interface{}, error)
type Fallback func(ctx context.Context) interface{}

// Stats is a snapshot of queue counters.
type Stats struct {
	Submitted   int64
	Completed   int64
	Overflowed  int64
	RateLimited int64
	Depth       int64
	BackoffMS   int64
}

// Queue is the bounded-concurrency AI request dispatcher.
type Queue struct {
	sem *semaphore.Weighted

	maxQueue    int64
	depth       int64
	submitted   int64
	completed   int64
	overflowed  int64
	rateLimited int64

	mu             sync.Mutex
	backoff        time.Duration
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// New constructs a Queue from Config.
func New(cfg Config) *Queue {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 10
	}
	if cfg.MaxQueue <= 0 {
		cfg.MaxQueue = 100
	}
	if cfg.InitialBackoffMS <= 0 {
		cfg.InitialBackoffMS = 1000
	}
	if cfg.MaxBackoffMS <= 0 {
		cfg.MaxBackoffMS = 30000
	}
	return &Queue{
		sem:            semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		maxQueue:       int64(cfg.MaxQueue),
		initialBackoff: time.Duration(cfg.InitialBackoffMS) * time.Millisecond,
		maxBackoff:     time.Duration(cfg.MaxBackoffMS) * time.Millisecond,
	}
}

// Submit runs fn under the queue's concurrency and backoff discipline,
// falling back to fallback on overflow, cancellation, or any fn error.
// On a rate-limit-shaped error (text containing "rate", "429", or
// "quota", case-insensitive) the queue's backoff advances; on any
// success it resets to zero.
func (q *Queue) Submit(ctx context.Context, fn Func, fallback Fallback) interface{} {
	atomic.AddInt64(&q.submitted, 1)

	if atomic.AddInt64(&q.depth, 1) > q.maxQueue {
		atomic.AddInt64(&q.depth, -1)
		atomic.AddInt64(&q.overflowed, 1)
		return fallback(ctx)
	}
	defer atomic.AddInt64(&q.depth, -1)

	if wait := q.currentBackoff(); wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return fallback(ctx)
		}
	}

	if err := q.sem.Acquire(ctx, 1); err != nil {
		return fallback(ctx)
	}
	defer q.sem.Release(1)

	result, err := fn(ctx)
	if err == nil {
		atomic.AddInt64(&q.completed, 1)
		q.resetBackoff()
		return result
	}

	if isRateLimitShaped(err) {
		atomic.AddInt64(&q.rateLimited, 1)
		q.advanceBackoff()
	}
	return fallback(ctx)
}

func isRateLimitShaped(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate") || strings.Contains(msg, "429") || strings.Contains(msg, "quota")
}

func (q *Queue) currentBackoff() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.backoff
}

func (q *Queue) resetBackoff() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.backoff = 0
}

func (q *Queue) advanceBackoff() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.backoff == 0 {
		q.backoff = q.initialBackoff
	} else {
		q.backoff *= 2
	}
	if q.backoff > q.maxBackoff {
		q.backoff = q.maxBackoff
	}
}

// Stats returns the queue counters. Each field is loaded atomically on
// its own; the fields are not read together as one atomic snapshot.
func (q *Queue) Stats() Stats {
	return Stats{
		Submitted:   atomic.LoadInt64(&q.submitted),
		Completed:   atomic.LoadInt64(&q.completed),
		Overflowed:  atomic.LoadInt64(&q.overflowed),
		RateLimited: atomic.LoadInt64(&q.rateLimited),
		Depth:       atomic.LoadInt64(&q.depth),
		BackoffMS:   q.currentBackoff().Milliseconds(),
	}
}
