package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiter_AllowsBurstThenDenies(t *testing.T) {
	l := New(Config{WindowSeconds: 60, MaxRequests: 3})

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("actor-1"), "request %d within burst should be allowed", i)
	}
	assert.False(t, l.Allow("actor-1"), "fourth request should exceed the bucket")
}

func TestLimiter_RefillsOverTime(t *testing.T) {
	l := New(Config{WindowSeconds: 60, MaxRequests: 60})
	fake := time.Unix(1_700_000_000, 0)
	l.nowFunc = func() time.Time { return fake }

	for i := 0; i < 60; i++ {
		assert.True(t, l.Allow("actor-1"))
	}
	assert.False(t, l.Allow("actor-1"))

	fake = fake.Add(1 * time.Second)
	assert.True(t, l.Allow("actor-1"), "one token per second should have refilled")
}

func TestLimiter_ActorsAreIndependent(t *testing.T) {
	l := New(Config{WindowSeconds: 60, MaxRequests: 1})

	assert.True(t, l.Allow("actor-a"))
	assert.False(t, l.Allow("actor-a"))
	assert.True(t, l.Allow("actor-b"), "actor-b should have its own bucket")
}

func TestLimiter_EvictsIdleActors(t *testing.T) {
	l := New(Config{WindowSeconds: 10, MaxRequests: 5})
	fake := time.Unix(1_700_000_000, 0)
	l.nowFunc = func() time.Time { return fake }

	l.Allow("actor-a")
	assert.Equal(t, 1, l.TrackedActors())

	fake = fake.Add(30 * time.Second)
	l.Allow("actor-b")
	assert.Equal(t, 1, l.TrackedActors(), "actor-a's idle entry should have been evicted")
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 60, cfg.WindowSeconds)
	assert.Equal(t, 5, cfg.MaxRequests)
}
