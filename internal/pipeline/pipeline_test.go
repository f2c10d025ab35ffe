package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redwing-381/moment/internal/aiclient"
	"github.com/redwing-381/moment/internal/bus"
	"github.com/redwing-381/moment/internal/bus/inmemory"
	"github.com/redwing-381/moment/internal/config"
	"github.com/redwing-381/moment/internal/dispatcher"
	"github.com/redwing-381/moment/internal/logging"
	"github.com/redwing-381/moment/internal/metrics"
	"github.com/redwing-381/moment/internal/models"
	"github.com/redwing-381/moment/internal/ratelimit"
)

type harness struct {
	pl       *Pipeline
	memBus   *inmemory.Bus
	bundle   *bus.Bundle
	counters *metrics.Counters
	cfg      *config.Config
}

func newHarness(t *testing.T, client aiclient.Client, mutate func(*config.Config)) *harness {
	t.Helper()

	cfg := config.New()
	if mutate != nil {
		mutate(cfg)
	}

	memBus := inmemory.NewBus(1, 1024)
	bundle := &bus.Bundle{
		EventsConsumer:    memBus.Consumer(cfg.Bus.EventsTopic, 0),
		SignalsProducer:   memBus.Producer(),
		SignalsConsumer:   memBus.Consumer(cfg.Bus.SignalsTopic, 0),
		DecisionsProducer: memBus.Producer(),
		DecisionsConsumer: memBus.Consumer(cfg.Bus.DecisionsTopic, 0),
	}

	counters := &metrics.Counters{}
	pl := New(cfg, Builder{
		Bus:      bundle,
		AIClient: client,
		Log:      logging.NewDefault("pipeline-test"),
		Metrics:  metrics.NewWithRegistry("pipeline-test", prometheus.NewRegistry()),
		Counters: counters,
	})

	return &harness{pl: pl, memBus: memBus, bundle: bundle, counters: counters, cfg: cfg}
}

func (h *harness) produceEvent(t *testing.T, e models.Event) {
	t.Helper()
	payload, err := json.Marshal(e)
	require.NoError(t, err)
	require.NoError(t, h.memBus.Producer().Produce(context.Background(), h.cfg.Bus.EventsTopic, e.ActorID, payload))
}

func (h *harness) produceSignal(t *testing.T, s models.RiskSignal) {
	t.Helper()
	payload, err := json.Marshal(s)
	require.NoError(t, err)
	require.NoError(t, h.memBus.Producer().Produce(context.Background(), h.cfg.Bus.SignalsTopic, s.ActorID, payload))
}

// runStagesAB runs the Signal Processor and Decision Engine to
// completion for exactly n items each.
func (h *harness) runStagesAB(t *testing.T, n int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, h.pl.SignalProcessor.Run(ctx, n))
	require.NoError(t, h.pl.DecisionEngine.Run(ctx, n))
}

func (h *harness) drainDecisions(t *testing.T, n int) []models.RiskDecision {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	out := make([]models.RiskDecision, 0, n)
	for len(out) < n {
		msg, err := h.bundle.DecisionsConsumer.Poll(ctx)
		if err != nil {
			break
		}
		var d models.RiskDecision
		require.NoError(t, json.Unmarshal(msg.Value, &d))
		out = append(out, d)
	}
	require.Len(t, out, n)
	return out
}

func TestPipeline_LowRiskEventAllowedByRules(t *testing.T) {
	fake := aiclient.NewFakeClient("block", 0.9, "should never be consulted")
	h := newHarness(t, fake, nil)

	h.produceEvent(t, models.Event{
		EventID: "evt-1", ActorID: "u1", Action: "file_read", Role: "developer",
		FrequencyLast60s: 2, Timestamp: time.Now().UnixMilli(),
		SessionID: "s1", ResourceSensitivity: models.SensitivityLow,
	})
	h.runStagesAB(t, 1)

	decisions := h.drainDecisions(t, 1)
	assert.Equal(t, models.DecisionAllow, decisions[0].Decision)
	assert.Contains(t, decisions[0].Reason, "auto-approved")
	assert.Equal(t, 0, fake.Calls(), "a clear-cut low-risk event must not reach the AI")
}

func TestPipeline_SustainedCriticalBurstBlocked(t *testing.T) {
	fake := aiclient.NewFakeClient("throttle", 0.7, "ambiguous midway through the burst")
	h := newHarness(t, fake, nil)

	const n = 25
	now := time.Now().UnixMilli()
	for i := 0; i < n; i++ {
		h.produceEvent(t, models.Event{
			EventID: "evt-burst", ActorID: "u2", Action: "bulk_export", Role: "developer",
			FrequencyLast60s: 50, GeoChange: true, Timestamp: now + int64(i),
			SessionID: "s2", ResourceSensitivity: models.SensitivityCritical,
		})
	}
	h.runStagesAB(t, n)

	decisions := h.drainDecisions(t, n)
	// Once the tracker has seen the burst, the score crosses the block
	// threshold and the rule path takes over.
	last := decisions[n-1]
	assert.Equal(t, models.DecisionBlock, last.Decision)
	assert.Contains(t, last.Reason, "auto-blocked")
}

func TestPipeline_AmbiguousPatternUsesAIThenCache(t *testing.T) {
	fake := aiclient.NewFakeClient("throttle", 0.8, "elevated but not conclusive")
	h := newHarness(t, fake, nil)

	now := time.Now().UnixMilli()
	pattern := func(actor, session string) models.Event {
		return models.Event{
			EventID: "evt-" + actor, ActorID: actor, Action: "config_change", Role: "analyst",
			FrequencyLast60s: 12, Timestamp: now,
			SessionID: session, ResourceSensitivity: models.SensitivityHigh,
		}
	}

	h.produceEvent(t, pattern("u3", "s3"))
	h.produceEvent(t, pattern("u4", "s4"))
	h.runStagesAB(t, 2)

	decisions := h.drainDecisions(t, 2)
	assert.Equal(t, models.DecisionThrottle, decisions[0].Decision)
	assert.Equal(t, models.DecisionThrottle, decisions[1].Decision)
	assert.Equal(t, 1, fake.Calls(), "second actor with the same pattern must hit the cache")
	assert.Equal(t, int64(1), h.counters.Snapshot().CacheHits)

	// Correlation ids are fresh per signal and distinct across the pair.
	assert.NotEmpty(t, decisions[0].CorrelationID)
	assert.NotEqual(t, decisions[0].CorrelationID, decisions[1].CorrelationID)
}

func TestPipeline_RateLimitedAIFallsBackToRules(t *testing.T) {
	fake := aiclient.NewFakeRateLimitedClient(100, "throttle", 0.8)
	h := newHarness(t, fake, nil)

	h.produceEvent(t, models.Event{
		EventID: "evt-5", ActorID: "u5", Action: "config_change", Role: "analyst",
		FrequencyLast60s: 12, Timestamp: time.Now().UnixMilli(),
		SessionID: "s5", ResourceSensitivity: models.SensitivityHigh,
	})
	h.runStagesAB(t, 1)

	decisions := h.drainDecisions(t, 1)
	assert.Contains(t, decisions[0].Reason, "rules", "a rate-limited AI call must fall back to the rule decision")

	stats := h.pl.Queue.Stats()
	assert.GreaterOrEqual(t, stats.RateLimited, int64(1))
	assert.Greater(t, stats.BackoffMS, int64(0), "a rate-limit-shaped failure must advance the backoff")
}

func TestPipeline_SameActorDecisionsStayOrdered(t *testing.T) {
	h := newHarness(t, nil, func(cfg *config.Config) {
		cfg.Decision.Mode = "fast"
	})

	const n = 120
	wantOrder := make([]string, 0, n)
	for i := 0; i < n; i++ {
		corr := fmt.Sprintf("corr-%03d", i)
		wantOrder = append(wantOrder, corr)
		h.produceSignal(t, models.RiskSignal{
			ActorID: "flood-actor", RiskScore: 0.55,
			RiskFactors:         []string{"elevated_frequency (12/min)"},
			ProcessingTimestamp: time.Now().UnixMilli(),
			CorrelationID:       corr,
			OriginalEvent:       models.Event{ActorID: "flood-actor", Action: "bulk_export", Role: "developer"},
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, h.pl.DecisionEngine.Run(ctx, n))

	decisions := h.drainDecisions(t, n)
	gotOrder := make([]string, 0, n)
	for _, d := range decisions {
		assert.Equal(t, models.DecisionThrottle, d.Decision)
		gotOrder = append(gotOrder, d.CorrelationID)
	}
	assert.Equal(t, wantOrder, gotOrder, "same-actor decisions must be emitted in consumption order")

	// Dispatching the flood through a fresh 5-per-60s limiter admits at
	// most the bucket's burst; everything else is recorded rate limited.
	counters := &metrics.Counters{}
	limiter := ratelimit.New(ratelimit.Config{WindowSeconds: 60, MaxRequests: 5})
	disp := dispatcher.New(limiter, logging.NewDefault("pipeline-test"), counters, nil)
	for _, d := range decisions {
		disp.Execute(d)
	}
	snap := counters.Snapshot()
	assert.Equal(t, int64(n), snap.Throttles)
	assert.GreaterOrEqual(t, snap.RateLimited, int64(115))
}

func TestPipeline_DuplicateEventYieldsIdenticalDecisions(t *testing.T) {
	h := newHarness(t, nil, func(cfg *config.Config) {
		cfg.Decision.Mode = "fast"
	})

	dup := models.Event{
		EventID: "evt-dup", ActorID: "u6", Action: "file_read", Role: "developer",
		FrequencyLast60s: 2, Timestamp: time.Now().UnixMilli(),
		SessionID: "s6", ResourceSensitivity: models.SensitivityLow,
	}
	h.produceEvent(t, dup)
	h.produceEvent(t, dup)
	h.runStagesAB(t, 2)

	decisions := h.drainDecisions(t, 2)
	assert.Equal(t, decisions[0].Decision, decisions[1].Decision,
		"replaying the same event must yield the same decision value")
	assert.NotEqual(t, decisions[0].CorrelationID, decisions[1].CorrelationID,
		"each processing pass mints a fresh correlation id")
}

func TestPipeline_MalformedEventSkippedWithoutStall(t *testing.T) {
	h := newHarness(t, nil, func(cfg *config.Config) {
		cfg.Decision.Mode = "fast"
	})

	require.NoError(t, h.memBus.Producer().Produce(context.Background(), h.cfg.Bus.EventsTopic, "bad", []byte("{not json")))
	h.produceEvent(t, models.Event{
		EventID: "evt-ok", ActorID: "u7", Action: "file_read", Role: "developer",
		FrequencyLast60s: 1, Timestamp: time.Now().UnixMilli(),
		SessionID: "s7", ResourceSensitivity: models.SensitivityLow,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	// The malformed message is consumed and skipped, so Stage A sees two
	// items but only one signal reaches Stage B.
	require.NoError(t, h.pl.SignalProcessor.Run(ctx, 2))
	require.NoError(t, h.pl.DecisionEngine.Run(ctx, 1))

	decisions := h.drainDecisions(t, 1)
	assert.Equal(t, models.DecisionAllow, decisions[0].Decision)

	snap := h.counters.Snapshot()
	assert.Equal(t, int64(1), snap.EventsFailed)
	assert.Equal(t, int64(1), snap.EventsProcessed)
}

func TestPipeline_StopUnblocksIdleStages(t *testing.T) {
	h := newHarness(t, nil, nil)

	done := make(chan struct{})
	go func() {
		h.pl.Run(context.Background(), 0)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	h.pl.Stop()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not stop within the poll timeout budget")
	}
}
