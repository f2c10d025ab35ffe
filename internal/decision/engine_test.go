package decision

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redwing-381/moment/internal/aiclient"
	"github.com/redwing-381/moment/internal/aiqueue"
	"github.com/redwing-381/moment/internal/cache"
	"github.com/redwing-381/moment/internal/metrics"
	"github.com/redwing-381/moment/internal/models"
)

func newTestEngine(t *testing.T, mode models.Mode, client aiclient.Client) *Engine {
	t.Helper()
	c := cache.New(cache.DefaultConfig())
	q := aiqueue.New(aiqueue.DefaultConfig())
	counters := &metrics.Counters{}
	return New(Config{
		ThresholdLow: 0.3, ThresholdHigh: 0.8, Mode: mode, SkipCacheOnParseFailure: true,
	}, c, q, client, counters)
}

func signalWithScore(score float64) models.RiskSignal {
	return models.RiskSignal{
		ActorID:       "actor-1",
		RiskScore:     score,
		RiskFactors:   []string{"geographic_anomaly"},
		CorrelationID: "corr-1",
		OriginalEvent: models.Event{
			Action: "bulk_export", Role: "developer",
			ResourceSensitivity: models.SensitivityHigh, GeoChange: true,
		},
	}
}

func TestDecide_LowScoreRuleAllow(t *testing.T) {
	e := newTestEngine(t, models.ModeHybrid, nil)
	result := e.Decide(context.Background(), signalWithScore(0.1))
	assert.Equal(t, models.DecisionAllow, result.Decision)
	assert.Equal(t, models.SourceRule, result.Source)
}

func TestDecide_HighScoreRuleBlock(t *testing.T) {
	e := newTestEngine(t, models.ModeHybrid, nil)
	result := e.Decide(context.Background(), signalWithScore(0.95))
	assert.Equal(t, models.DecisionBlock, result.Decision)
	assert.Equal(t, models.SourceRule, result.Source)
}

func TestDecide_MidScoreRuleThrottle(t *testing.T) {
	e := newTestEngine(t, models.ModeFast, nil)
	result := e.Decide(context.Background(), signalWithScore(0.65))
	assert.Equal(t, models.DecisionThrottle, result.Decision)
	assert.Equal(t, models.SourceRule, result.Source)
}

func TestDecide_FastModeNeverCallsAI(t *testing.T) {
	fake := aiclient.NewFakeClient("block", 0.9, "should never be called")
	e := newTestEngine(t, models.ModeFast, fake)

	result := e.Decide(context.Background(), signalWithScore(0.5))
	assert.Equal(t, models.SourceRule, result.Source)
	assert.Equal(t, 0, fake.Calls())
}

func TestDecide_HybridAmbiguousCallsAIOnCacheMiss(t *testing.T) {
	fake := aiclient.NewFakeClient("throttle", 0.8, "ai says throttle")
	e := newTestEngine(t, models.ModeHybrid, fake)

	result := e.Decide(context.Background(), signalWithScore(0.5))
	require.Equal(t, models.SourceAI, result.Source)
	assert.Equal(t, models.DecisionThrottle, result.Decision)
	assert.Equal(t, 1, fake.Calls())
}

func TestDecide_HybridCacheHitSkipsAI(t *testing.T) {
	fake := aiclient.NewFakeClient("throttle", 0.8, "ai says throttle")
	e := newTestEngine(t, models.ModeHybrid, fake)

	sig1 := signalWithScore(0.5)
	sig1.ActorID = "actor-1"
	sig1.CorrelationID = "corr-1"
	first := e.Decide(context.Background(), sig1)
	require.Equal(t, models.SourceAI, first.Source)

	sig2 := signalWithScore(0.5)
	sig2.ActorID = "actor-2"
	sig2.CorrelationID = "corr-2"
	second := e.Decide(context.Background(), sig2)

	assert.Equal(t, models.SourceCache, second.Source)
	assert.Equal(t, "actor-2", second.ActorID)
	assert.Equal(t, "corr-2", second.CorrelationID)
	assert.Equal(t, 1, fake.Calls(), "AI should only be called once; the second lookup hits the cache")
}

func TestDecide_FullAIAlwaysCallsAIEvenOnRepeatedPattern(t *testing.T) {
	fake := aiclient.NewFakeClient("throttle", 0.8, "ai says throttle")
	e := newTestEngine(t, models.ModeFullAI, fake)

	_ = e.Decide(context.Background(), signalWithScore(0.5))
	_ = e.Decide(context.Background(), signalWithScore(0.5))

	assert.Equal(t, 2, fake.Calls(), "FULL_AI mode must not consult the cache bypass")
}

func TestDecide_ParseFailureUsesSafeDefaultAndSkipsCache(t *testing.T) {
	fake := aiclient.NewFakeClientFunc(func(string) (string, error) {
		return "not json", nil
	})
	e := newTestEngine(t, models.ModeHybrid, fake)

	sig := signalWithScore(0.65)
	result := e.Decide(context.Background(), sig)
	assert.Equal(t, models.DecisionThrottle, result.Decision)
	assert.Equal(t, models.SourceAI, result.Source)
	assert.Contains(t, result.Reason, "parsing failed")

	// Cache must not have been poisoned by the parse-failure default.
	assert.Equal(t, 0, e.cache.Size())
}

func TestDecide_RateLimitedAIFallsBackToRule(t *testing.T) {
	fake := aiclient.NewFakeRateLimitedClient(10, "allow", 0.9)
	e := newTestEngine(t, models.ModeHybrid, fake)

	result := e.Decide(context.Background(), signalWithScore(0.5))
	assert.Equal(t, models.SourceRule, result.Source)
}
