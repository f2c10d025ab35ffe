// Package decision implements Stage B: the hybrid decision engine that
// routes each RiskSignal through fast rules, the DecisionCache, or the
// AIQueue, depending on the configured Mode. The cache and queue are
// passed in by reference; the engine holds no shared mutable state of
// its own beyond the mode selector.
package decision

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redwing-381/moment/internal/aiclient"
	"github.com/redwing-381/moment/internal/aiqueue"
	"github.com/redwing-381/moment/internal/cache"
	"github.com/redwing-381/moment/internal/metrics"
	"github.com/redwing-381/moment/internal/models"
	"github.com/redwing-381/moment/internal/resilience"
)

// Config controls routing thresholds and mode selection.
type Config struct {
	ThresholdLow            float64
	ThresholdHigh           float64
	Mode                    models.Mode
	SkipCacheOnParseFailure bool
}

// DefaultConfig returns the default 0.3/0.8 thresholds in HYBRID mode.
func DefaultConfig() Config {
	return Config{ThresholdLow: 0.3, ThresholdHigh: 0.8, Mode: models.ModeHybrid, SkipCacheOnParseFailure: true}
}

// Engine is the hybrid decision router. It has no shared mutable state
// beyond its mode selector; the cache, queue, and circuit breaker it
// holds are each separately synchronized.
type Engine struct {
	cfg      Config
	cache    *cache.Cache
	queue    *aiqueue.Queue
	client   aiclient.Client
	breaker  *resilience.CircuitBreaker
	counters *metrics.Counters
}

// New constructs an Engine. client may be nil only in FAST mode, which
// never reaches the AI path.
func New(cfg Config, c *cache.Cache, q *aiqueue.Queue, client aiclient.Client, counters *metrics.Counters) *Engine {
	return &Engine{
		cfg:      cfg,
		cache:    c,
		queue:    q,
		client:   client,
		breaker:  resilience.New(resilience.DefaultConfig()),
		counters: counters,
	}
}

// Decide routes signal through the engine and returns a terminal
// DecisionResult tagged with its source and measured latency.
func (e *Engine) Decide(ctx context.Context, signal models.RiskSignal) models.DecisionResult {
	start := time.Now()
	score := signal.RiskScore

	if e.cfg.Mode == models.ModeFast {
		return e.ruleDecision(signal, start)
	}

	if score < e.cfg.ThresholdLow {
		return e.ruleDecision(signal, start)
	}
	if score > e.cfg.ThresholdHigh {
		return e.ruleDecision(signal, start)
	}

	// Ambiguous band: HYBRID consults the cache first; FULL_AI skips
	// the cache bypass entirely and always calls the AI path.
	if e.cfg.Mode == models.ModeHybrid {
		fp := fingerprintFor(signal)
		if result, ok := e.cache.Get(fp, signal.CorrelationID, signal.ActorID); ok {
			e.counters.IncCacheHits()
			result.LatencyMS = float64(time.Since(start).Microseconds()) / 1000.0
			return result
		}
		e.counters.IncCacheMisses()
		return e.aiDecision(ctx, signal, start, fp)
	}

	return e.aiDecision(ctx, signal, start, "")
}

func fingerprintFor(signal models.RiskSignal) string {
	return cache.Fingerprint(
		signal.OriginalEvent.Action,
		signal.OriginalEvent.Role,
		signal.RiskScore,
		signal.RiskFactors,
		signal.OriginalEvent.GeoChange,
		signal.OriginalEvent.ResourceSensitivity,
	)
}

// ruleDecision implements the rule-decision table used at routing
// steps 1-3 and as the AIQueue's fallback.
func (e *Engine) ruleDecision(signal models.RiskSignal, start time.Time) models.DecisionResult {
	s := signal.RiskScore

	var d models.Decision
	var confidence float64
	var reason string

	switch {
	case s < 0.3:
		d, confidence = models.DecisionAllow, 0.9
		reason = fmt.Sprintf("Low risk (%.0f%%) - auto-approved by rules", s*100)
	case s < 0.5:
		d, confidence = models.DecisionAllow, 0.7
		reason = fmt.Sprintf("Moderate-low risk (%.0f%%) - auto-approved by rules", s*100)
	case s <= 0.8:
		d, confidence = models.DecisionThrottle, 0.7
		reason = fmt.Sprintf("Medium risk (%.0f%%) - rate limited by rules", s*100)
	default:
		d, confidence = models.DecisionBlock, 0.9
		reason = fmt.Sprintf("High risk (%.0f%%) - auto-blocked by rules", s*100)
	}

	return models.DecisionResult{
		Decision:      d,
		Confidence:    confidence,
		Reason:        reason,
		Source:        models.SourceRule,
		LatencyMS:     float64(time.Since(start).Microseconds()) / 1000.0,
		CorrelationID: signal.CorrelationID,
		ActorID:       signal.ActorID,
	}
}

// aiDecision routes signal to the AIQueue, caching a successful AI
// result under fp (when fp is non-empty, i.e. HYBRID mode) and falling
// back to the rule decision on overflow, cancellation, or failure.
func (e *Engine) aiDecision(ctx context.Context, signal models.RiskSignal, start time.Time, fp string) models.DecisionResult {
	fallback := func(ctx context.Context) interface{} {
		return e.ruleDecision(signal, start)
	}

	raw := e.queue.Submit(ctx, func(ctx context.Context) (interface{}, error) {
		return e.callAI(ctx, signal, start)
	}, fallback)

	result, ok := raw.(models.DecisionResult)
	if !ok {
		return e.ruleDecision(signal, start)
	}

	skip := e.cfg.SkipCacheOnParseFailure && isParseFailureResult(result)
	if result.Source == models.SourceAI && fp != "" && !skip {
		e.cache.Put(fp, result)
	}

	return result
}

func (e *Engine) callAI(ctx context.Context, signal models.RiskSignal, start time.Time) (interface{}, error) {
	prompt := aiclient.BuildPrompt(aiclient.Request{
		ActorID:             signal.ActorID,
		RiskScore:           signal.RiskScore,
		RiskFactors:         signal.RiskFactors,
		Action:              signal.OriginalEvent.Action,
		Role:                signal.OriginalEvent.Role,
		FrequencyLast60s:    signal.OriginalEvent.FrequencyLast60s,
		GeoChange:           signal.OriginalEvent.GeoChange,
		ResourceSensitivity: string(signal.OriginalEvent.ResourceSensitivity),
	})

	var raw string
	err := e.breaker.Execute(ctx, func() error {
		response, callErr := e.client.Complete(ctx, prompt)
		if callErr != nil {
			return callErr
		}
		raw = response
		return nil
	})
	if err != nil {
		e.counters.IncAIFailures()
		return nil, err
	}

	parsed := aiclient.Parse(raw)
	if parsed.Malformed {
		return e.safeDefault(signal, start, "AI response parsing failed, using fallback"), nil
	}

	return models.DecisionResult{
		Decision:      models.Decision(parsed.Decision),
		Confidence:    models.ClampConfidence(parsed.Confidence),
		Reason:        parsed.Reason,
		Source:        models.SourceAI,
		LatencyMS:     float64(time.Since(start).Microseconds()) / 1000.0,
		CorrelationID: signal.CorrelationID,
		ActorID:       signal.ActorID,
	}, nil
}

// isParseFailureResult reports whether result is the safe-default
// substituted for an AI response that failed to parse. Such results
// must never reach the cache.
func isParseFailureResult(result models.DecisionResult) bool {
	return strings.Contains(result.Reason, "parsing failed")
}

// safeDefault derives the parse-failure fallback decision: throttle@0.6
// if score>=0.6 else allow@0.6. Tagged source=ai (it did reach the AI,
// the response just didn't parse) so the caller's cache-poisoning
// guard (checking for the parse-failure reason) can exclude it from
// the DecisionCache.
func (e *Engine) safeDefault(signal models.RiskSignal, start time.Time, reason string) models.DecisionResult {
	d := models.DecisionAllow
	if signal.RiskScore >= 0.6 {
		d = models.DecisionThrottle
	}
	return models.DecisionResult{
		Decision:      d,
		Confidence:    0.6,
		Reason:        reason,
		Source:        models.SourceAI,
		LatencyMS:     float64(time.Since(start).Microseconds()) / 1000.0,
		CorrelationID: signal.CorrelationID,
		ActorID:       signal.ActorID,
	}
}
