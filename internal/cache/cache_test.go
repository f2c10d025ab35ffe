package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redwing-381/moment/internal/models"
)

func TestFingerprint_IgnoresActorIdentity(t *testing.T) {
	fp1 := Fingerprint("bulk_export", "developer", 0.55, []string{"geographic_anomaly"}, true, models.SensitivityHigh)
	fp2 := Fingerprint("bulk_export", "developer", 0.55, []string{"geographic_anomaly"}, true, models.SensitivityHigh)
	assert.Equal(t, fp1, fp2, "identical patterns must fingerprint identically")
}

func TestFingerprint_OrderIndependentFactors(t *testing.T) {
	fp1 := Fingerprint("data_delete", "support", 0.6, []string{"a", "b"}, false, models.SensitivityMedium)
	fp2 := Fingerprint("data_delete", "support", 0.6, []string{"b", "a"}, false, models.SensitivityMedium)
	assert.Equal(t, fp1, fp2)
}

func TestFingerprint_DifferentScoreBucketDiffers(t *testing.T) {
	fp1 := Fingerprint("login", "analyst", 0.31, nil, false, models.SensitivityLow)
	fp2 := Fingerprint("login", "analyst", 0.49, nil, false, models.SensitivityLow)
	assert.NotEqual(t, fp1, fp2)
}

func TestCache_PutGetRebindsCallerIdentity(t *testing.T) {
	c := New(DefaultConfig())
	fp := Fingerprint("config_change", "analyst", 0.55, nil, false, models.SensitivityMedium)

	c.Put(fp, models.DecisionResult{
		Decision:      models.DecisionThrottle,
		Confidence:    0.8,
		Reason:        "from AI",
		Source:        models.SourceAI,
		CorrelationID: "original-correlation",
		ActorID:       "original-actor",
	})

	result, ok := c.Get(fp, "new-correlation", "new-actor")
	require.True(t, ok)
	assert.Equal(t, "new-correlation", result.CorrelationID)
	assert.Equal(t, "new-actor", result.ActorID)
	assert.Equal(t, models.SourceCache, result.Source)
	assert.Equal(t, models.DecisionThrottle, result.Decision)
}

func TestCache_MissOnUnknownFingerprint(t *testing.T) {
	c := New(DefaultConfig())
	_, ok := c.Get("never-put", "c1", "a1")
	assert.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, int64(0), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestCache_TTLExpiry(t *testing.T) {
	c := New(Config{MaxSize: 10, TTLSeconds: 1})
	now := time.Unix(1_700_000_000, 0)
	c.nowFunc = func() time.Time { return now }

	fp := "fixed-fingerprint"
	c.Put(fp, models.DecisionResult{Decision: models.DecisionAllow, Source: models.SourceAI})

	c.nowFunc = func() time.Time { return now.Add(2 * time.Second) }
	_, ok := c.Get(fp, "c1", "a1")
	assert.False(t, ok, "entry should have expired")
	assert.Equal(t, 0, c.Size(), "expired entry should be evicted on access")
}

func TestCache_SizeBoundedLRUEviction(t *testing.T) {
	c := New(Config{MaxSize: 2, TTLSeconds: 300})
	c.Put("fp1", models.DecisionResult{Decision: models.DecisionAllow})
	c.Put("fp2", models.DecisionResult{Decision: models.DecisionAllow})
	c.Put("fp3", models.DecisionResult{Decision: models.DecisionAllow})

	assert.Equal(t, 2, c.Size())
	_, ok := c.Get("fp1", "c", "a")
	assert.False(t, ok, "oldest entry should have been evicted")
}

func TestCache_Stats(t *testing.T) {
	c := New(DefaultConfig())
	fp := Fingerprint("login", "analyst", 0.4, nil, false, models.SensitivityLow)
	c.Put(fp, models.DecisionResult{Decision: models.DecisionAllow})

	_, _ = c.Get(fp, "c1", "a1")
	_, _ = c.Get("unknown", "c2", "a2")

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 50.0, stats.HitRatePct, 0.01)
}
