// Package pipeline wires the three stage workers together over a
// shared bus. It owns the FrequencyTracker, DecisionCache, AIQueue,
// and rate Limiter instances and hands each to the stage that needs
// it, with no other cross-component shared mutable state.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/redwing-381/moment/internal/aiclient"
	"github.com/redwing-381/moment/internal/aiqueue"
	"github.com/redwing-381/moment/internal/bus"
	"github.com/redwing-381/moment/internal/cache"
	"github.com/redwing-381/moment/internal/config"
	"github.com/redwing-381/moment/internal/decision"
	"github.com/redwing-381/moment/internal/dispatcher"
	"github.com/redwing-381/moment/internal/frequency"
	"github.com/redwing-381/moment/internal/logging"
	"github.com/redwing-381/moment/internal/metrics"
	"github.com/redwing-381/moment/internal/models"
	"github.com/redwing-381/moment/internal/ratelimit"
	"github.com/redwing-381/moment/internal/signalprocessor"
	"github.com/redwing-381/moment/internal/wirecodec"
)

// Builder bundles the bus and backend collaborators required to
// construct a Pipeline.
type Builder struct {
	Bus      *bus.Bundle
	AIClient aiclient.Client
	Log      *logging.Logger
	Metrics  *metrics.Metrics
	Counters *metrics.Counters
}

// Pipeline owns the three stage workers plus the shared-state
// components they depend on.
type Pipeline struct {
	SignalProcessor *signalprocessor.Stage
	DecisionEngine  *decision.Stage
	ActionDispatch  *dispatcher.Stage

	Tracker *frequency.Tracker
	Cache   *cache.Cache
	Queue   *aiqueue.Queue
	Limiter *ratelimit.Limiter

	log      *logging.Logger
	metrics  *metrics.Metrics
	counters *metrics.Counters
}

// New constructs a Pipeline from configuration and a Builder's
// collaborators, wiring each stage's consumer/producer against the
// named topics.
func New(cfg *config.Config, b Builder) *Pipeline {
	tracker := frequency.New(frequency.Config{
		WindowSeconds: cfg.Frequency.WindowSeconds,
		BucketSeconds: cfg.Frequency.BucketSeconds,
	})

	decisionCache := cache.New(cache.Config{
		MaxSize:    cfg.Cache.MaxSize,
		TTLSeconds: cfg.Cache.TTLSeconds,
	})

	queue := aiqueue.New(aiqueue.Config{
		MaxConcurrent:    cfg.AIQueue.MaxConcurrent,
		MaxQueue:         cfg.AIQueue.MaxQueue,
		InitialBackoffMS: cfg.AIQueue.InitialBackoffMS,
		MaxBackoffMS:     cfg.AIQueue.MaxBackoffMS,
	})

	limiter := ratelimit.New(ratelimit.Config{
		WindowSeconds: cfg.RateLimit.WindowSeconds,
		MaxRequests:   cfg.RateLimit.MaxRequests,
	})

	scorer := signalprocessor.New(signalprocessor.DefaultScoringConfig())

	spStage := signalprocessor.NewStage(
		scorer, tracker,
		b.Bus.EventsConsumer, b.Bus.SignalsProducer,
		cfg.Bus.SignalsTopic, b.Log, b.Counters,
	)
	spStage.SetDecoder(wirecodec.New(wirecodec.Config{
		Enabled:     cfg.SchemaRegistry.Enabled,
		RegistryURL: cfg.SchemaRegistry.URL,
		APIKey:      cfg.SchemaRegistry.APIKey,
		APISecret:   cfg.SchemaRegistry.APISecret,
		Subject:     cfg.SchemaRegistry.Subject,
	}, b.Log))

	engine := decision.New(decision.Config{
		ThresholdLow:            cfg.Decision.ThresholdLow,
		ThresholdHigh:           cfg.Decision.ThresholdHigh,
		Mode:                    modeFromString(cfg.Decision.Mode),
		SkipCacheOnParseFailure: cfg.Decision.SkipCacheOnParseFailure,
	}, decisionCache, queue, b.AIClient, b.Counters)

	deStage := decision.NewStage(
		engine,
		b.Bus.SignalsConsumer, b.Bus.DecisionsProducer,
		cfg.Bus.DecisionsTopic, b.Log, b.Metrics,
	)

	dispatch := dispatcher.New(limiter, b.Log, b.Counters, b.Metrics)
	adStage := dispatcher.NewStage(dispatch, b.Bus.DecisionsConsumer, b.Log)

	return &Pipeline{
		SignalProcessor: spStage,
		DecisionEngine:  deStage,
		ActionDispatch:  adStage,
		Tracker:         tracker,
		Cache:           decisionCache,
		Queue:           queue,
		Limiter:         limiter,
		log:             b.Log,
		metrics:         b.Metrics,
		counters:        b.Counters,
	}
}

// modeFromString maps the validated DECISION_MODE config string to its
// models.Mode constant. The default case handles "hybrid";
// config.validate already rejects any value other than the three modes.
func modeFromString(s string) models.Mode {
	switch s {
	case "fast":
		return models.ModeFast
	case "full_ai":
		return models.ModeFullAI
	default:
		return models.ModeHybrid
	}
}

// Run starts all three stages concurrently and blocks until every one
// returns (on context cancellation, Stop, or a maxItems bound).
func (p *Pipeline) Run(ctx context.Context, maxItemsPerStage int) {
	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		_ = p.SignalProcessor.Run(ctx, maxItemsPerStage)
	}()
	go func() {
		defer wg.Done()
		_ = p.DecisionEngine.Run(ctx, maxItemsPerStage)
	}()
	go func() {
		defer wg.Done()
		_ = p.ActionDispatch.Run(ctx, maxItemsPerStage)
	}()

	bridgeStop := make(chan struct{})
	go p.bridgeMetrics(bridgeStop)

	wg.Wait()
	close(bridgeStop)
}

// bridgeMetrics mirrors the AIQueue and engine counters into the
// Prometheus collectors once a second. The queue and cache keep their
// own counters; Prometheus counters can only be advanced, so deltas
// since the last tick are added.
func (p *Pipeline) bridgeMetrics(stop <-chan struct{}) {
	if p.metrics == nil {
		return
	}
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var lastOverflowed, lastHits, lastMisses, lastAIFailures int64
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			qs := p.Queue.Stats()
			p.metrics.AIQueueDepth.Set(float64(qs.Depth))
			if d := qs.Overflowed - lastOverflowed; d > 0 {
				p.metrics.Overflowed.Add(float64(d))
				lastOverflowed = qs.Overflowed
			}

			snap := p.counters.Snapshot()
			if d := snap.CacheHits - lastHits; d > 0 {
				p.metrics.CacheHits.Add(float64(d))
				lastHits = snap.CacheHits
			}
			if d := snap.CacheMisses - lastMisses; d > 0 {
				p.metrics.CacheMisses.Add(float64(d))
				lastMisses = snap.CacheMisses
			}
			if d := snap.AIFailures - lastAIFailures; d > 0 {
				p.metrics.AIFailures.Add(float64(d))
				lastAIFailures = snap.AIFailures
			}
		}
	}
}

// Stop stops all three stage workers.
func (p *Pipeline) Stop() {
	p.SignalProcessor.Stop()
	p.DecisionEngine.Stop()
	p.ActionDispatch.Stop()
}

// Disconnect flushes and closes every stage's bus handles.
func (p *Pipeline) Disconnect(ctx context.Context) {
	_ = p.SignalProcessor.Disconnect(ctx)
	_ = p.DecisionEngine.Disconnect(ctx)
	_ = p.ActionDispatch.Disconnect(ctx)
}
