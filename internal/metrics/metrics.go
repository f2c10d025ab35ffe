// Package metrics exposes the pipeline's observable counters, both as
// a typed in-process Snapshot and as Prometheus collectors, so the
// same numbers are queryable by tests and scrapeable in deployment.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every Prometheus collector the pipeline registers.
type Metrics struct {
	EventsProcessed   *prometheus.CounterVec
	EventsFailed      *prometheus.CounterVec
	DecisionsMade     *prometheus.CounterVec
	AIFailures        prometheus.Counter
	CacheHits         prometheus.Counter
	CacheMisses       prometheus.Counter
	Allows            prometheus.Counter
	Throttles         prometheus.Counter
	Blocks            prometheus.Counter
	Escalations       prometheus.Counter
	Overflowed        prometheus.Counter
	RateLimited       prometheus.Counter
	LatencyBySource   *prometheus.HistogramVec
	AIQueueDepth      prometheus.Gauge
	ServiceUptime     prometheus.Gauge
	ServiceInfo       *prometheus.GaugeVec
}

// New creates a Metrics instance registered against the default
// registerer.
func New(serviceName string) *Metrics {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a Metrics instance registered against a
// caller-supplied registerer (tests use a fresh prometheus.NewRegistry
// to avoid collisions across package-level test runs).
func NewWithRegistry(serviceName string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "gatekeeper_events_processed_total", Help: "Total events processed by stage"},
			[]string{"stage"},
		),
		EventsFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "gatekeeper_events_failed_total", Help: "Total events that failed by stage"},
			[]string{"stage"},
		),
		DecisionsMade: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "gatekeeper_decisions_total", Help: "Total decisions made by outcome"},
			[]string{"decision"},
		),
		AIFailures: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "gatekeeper_ai_failures_total", Help: "Total AI backend failures"},
		),
		CacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "gatekeeper_cache_hits_total", Help: "Total decision cache hits"},
		),
		CacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "gatekeeper_cache_misses_total", Help: "Total decision cache misses"},
		),
		Allows: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "gatekeeper_allows_total", Help: "Total allow decisions dispatched"},
		),
		Throttles: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "gatekeeper_throttles_total", Help: "Total throttle decisions dispatched"},
		),
		Blocks: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "gatekeeper_blocks_total", Help: "Total block decisions dispatched"},
		),
		Escalations: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "gatekeeper_escalations_total", Help: "Total escalate decisions dispatched"},
		),
		Overflowed: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "gatekeeper_ai_queue_overflowed_total", Help: "Total AIQueue overflow fallbacks"},
		),
		RateLimited: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "gatekeeper_rate_limited_total", Help: "Total throttle outcomes rejected by the rate limiter"},
		),
		LatencyBySource: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatekeeper_decision_latency_seconds",
				Help:    "Decision latency by source",
				Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"source"},
		),
		AIQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "gatekeeper_ai_queue_depth", Help: "Current AIQueue depth (in-flight + waiting)"},
		),
		ServiceUptime: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "gatekeeper_service_uptime_seconds", Help: "Service uptime in seconds"},
		),
		ServiceInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "gatekeeper_service_info", Help: "Service information"},
			[]string{"service", "version"},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.EventsProcessed, m.EventsFailed, m.DecisionsMade, m.AIFailures,
			m.CacheHits, m.CacheMisses, m.Allows, m.Throttles, m.Blocks,
			m.Escalations, m.Overflowed, m.RateLimited, m.LatencyBySource,
			m.AIQueueDepth, m.ServiceUptime, m.ServiceInfo,
		)
	}

	m.ServiceInfo.WithLabelValues(serviceName, "1.0.0").Set(1)
	return m
}

// RecordDecision increments the per-outcome decision counter. The
// dispatcher-side outcome counters (Allows, Throttles, Blocks,
// Escalations) are advanced by internal/dispatcher, not here.
func (m *Metrics) RecordDecision(decision string) {
	m.DecisionsMade.WithLabelValues(decision).Inc()
}

// RecordLatency observes a decision latency by source.
func (m *Metrics) RecordLatency(source string, d time.Duration) {
	m.LatencyBySource.WithLabelValues(source).Observe(d.Seconds())
}

// UpdateUptime sets the uptime gauge from a start time.
func (m *Metrics) UpdateUptime(start time.Time) {
	m.ServiceUptime.Set(time.Since(start).Seconds())
}

// Snapshot is the in-process stats view used by tests and stage
// workers that need counter values without scraping the registry.
type Snapshot struct {
	EventsProcessed int64
	EventsFailed    int64
	Allows          int64
	Throttles       int64
	Blocks          int64
	Escalations     int64
	Overflowed      int64
	RateLimited     int64
	CacheHits       int64
	CacheMisses     int64
	AIFailures      int64
}

// Counters is a lightweight in-process counter set that mirrors the
// subset of Prometheus counters test code and stage workers most often
// need to assert on directly, without scraping the registry.
type Counters struct {
	mu              sync.Mutex
	eventsProcessed int64
	eventsFailed    int64
	allows          int64
	throttles       int64
	blocks          int64
	escalations     int64
	overflowed      int64
	rateLimited     int64
	cacheHits       int64
	cacheMisses     int64
	aiFailures      int64
}

func (c *Counters) IncEventsProcessed() { c.mu.Lock(); c.eventsProcessed++; c.mu.Unlock() }
func (c *Counters) IncEventsFailed()    { c.mu.Lock(); c.eventsFailed++; c.mu.Unlock() }
func (c *Counters) IncAllows()          { c.mu.Lock(); c.allows++; c.mu.Unlock() }
func (c *Counters) IncThrottles()       { c.mu.Lock(); c.throttles++; c.mu.Unlock() }
func (c *Counters) IncBlocks()          { c.mu.Lock(); c.blocks++; c.mu.Unlock() }
func (c *Counters) IncEscalations()     { c.mu.Lock(); c.escalations++; c.mu.Unlock() }
func (c *Counters) IncOverflowed()      { c.mu.Lock(); c.overflowed++; c.mu.Unlock() }
func (c *Counters) IncRateLimited()     { c.mu.Lock(); c.rateLimited++; c.mu.Unlock() }
func (c *Counters) IncCacheHits()       { c.mu.Lock(); c.cacheHits++; c.mu.Unlock() }
func (c *Counters) IncCacheMisses()     { c.mu.Lock(); c.cacheMisses++; c.mu.Unlock() }
func (c *Counters) IncAIFailures()      { c.mu.Lock(); c.aiFailures++; c.mu.Unlock() }

// Snapshot returns a consistent copy of the counters.
func (c *Counters) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		EventsProcessed: c.eventsProcessed,
		EventsFailed:    c.eventsFailed,
		Allows:          c.allows,
		Throttles:       c.throttles,
		Blocks:          c.blocks,
		Escalations:     c.escalations,
		Overflowed:      c.overflowed,
		RateLimited:     c.rateLimited,
		CacheHits:       c.cacheHits,
		CacheMisses:     c.cacheMisses,
		AIFailures:      c.aiFailures,
	}
}
