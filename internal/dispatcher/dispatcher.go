// Package dispatcher implements Stage C: the Action Dispatcher. It
// consumes `decisions`, applies the per-actor rate limiter to throttle
// outcomes, emits audit log lines, and maintains per-decision
// counters. The limiter is consulted only on the throttle path; allow
// and block outcomes never spend tokens.
package dispatcher

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redwing-381/moment/internal/bus"
	"github.com/redwing-381/moment/internal/logging"
	"github.com/redwing-381/moment/internal/metrics"
	"github.com/redwing-381/moment/internal/models"
	"github.com/redwing-381/moment/internal/ratelimit"
)

// Dispatcher executes the action side-effect for each decision and
// tracks per-outcome counters.
type Dispatcher struct {
	limiter  *ratelimit.Limiter
	log      *logging.Logger
	counters *metrics.Counters
	metrics  *metrics.Metrics
}

// New constructs a Dispatcher.
func New(limiter *ratelimit.Limiter, log *logging.Logger, counters *metrics.Counters, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{limiter: limiter, log: log, counters: counters, metrics: m}
}

// Execute applies decision's side-effect: a per-decision counter
// increment and an audit log line. Unknown decisions are routed to
// escalate, the safe default.
func (d *Dispatcher) Execute(decision models.RiskDecision) {
	switch decision.Decision {
	case models.DecisionAllow:
		d.executeAllow(decision)
	case models.DecisionThrottle:
		d.executeThrottle(decision)
	case models.DecisionBlock:
		d.executeBlock(decision)
	case models.DecisionEscalate:
		d.executeEscalate(decision)
	default:
		d.log.WithField("decision", decision.Decision).Warn("dispatcher: unknown decision, routing to escalate")
		d.executeEscalate(decision)
	}
}

func (d *Dispatcher) executeAllow(decision models.RiskDecision) {
	d.counters.IncAllows()
	if d.metrics != nil {
		d.metrics.Allows.Inc()
	}
	d.auditLog(decision, "allow", "action permitted")
}

func (d *Dispatcher) executeThrottle(decision models.RiskDecision) {
	d.counters.IncThrottles()
	if d.metrics != nil {
		d.metrics.Throttles.Inc()
	}
	if d.limiter.Allow(decision.ActorID) {
		d.auditLog(decision, "throttle", "allowed (within limit)")
		return
	}
	d.counters.IncRateLimited()
	if d.metrics != nil {
		d.metrics.RateLimited.Inc()
	}
	d.auditLog(decision, "throttle", "rate limited")
}

func (d *Dispatcher) executeBlock(decision models.RiskDecision) {
	d.counters.IncBlocks()
	if d.metrics != nil {
		d.metrics.Blocks.Inc()
	}
	d.auditLogWarn(decision, "block", "action blocked")
}

func (d *Dispatcher) executeEscalate(decision models.RiskDecision) {
	d.counters.IncEscalations()
	if d.metrics != nil {
		d.metrics.Escalations.Inc()
	}
	d.auditLogWarn(decision, "escalate", "flagged for human review")
}

func (d *Dispatcher) auditLog(decision models.RiskDecision, outcome, status string) {
	d.log.WithFields(map[string]interface{}{
		"actor_id":       decision.ActorID,
		"correlation_id": decision.CorrelationID,
		"outcome":        outcome,
		"status":         status,
		"confidence":     decision.Confidence,
		"reason":         decision.Reason,
	}).Info("action dispatched")
}

func (d *Dispatcher) auditLogWarn(decision models.RiskDecision, outcome, status string) {
	d.log.WithFields(map[string]interface{}{
		"actor_id":       decision.ActorID,
		"correlation_id": decision.CorrelationID,
		"outcome":        outcome,
		"status":         status,
		"confidence":     decision.Confidence,
		"reason":         decision.Reason,
	}).Warn("action dispatched")
}

// Stage is the Action Dispatcher stage worker: it polls `decisions`
// and invokes Dispatcher.Execute for each.
type Stage struct {
	dispatcher  *Dispatcher
	consumer    bus.Consumer
	log         *logging.Logger
	pollTimeout time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// NewStage constructs a Stage.
func NewStage(dispatcher *Dispatcher, consumer bus.Consumer, log *logging.Logger) *Stage {
	return &Stage{dispatcher: dispatcher, consumer: consumer, log: log, pollTimeout: time.Second}
}

func (s *Stage) Connect(ctx context.Context) error { return nil }

func (s *Stage) Disconnect(ctx context.Context) error {
	return s.consumer.Close()
}

// Run polls decisions until ctx is cancelled, Stop is called, or
// maxItems have been processed.
func (s *Stage) Run(ctx context.Context, maxItems int) error {
	s.mu.Lock()
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	processed := 0
	for {
		if maxItems > 0 && processed >= maxItems {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-s.stopCh:
			return nil
		default:
		}

		pollCtx, cancel := context.WithTimeout(ctx, s.pollTimeout)
		msg, err := s.consumer.Poll(pollCtx)
		cancel()
		if err != nil {
			if err == bus.ErrPartitionEOF {
				continue
			}
			s.log.WithField("error", err).Error("action dispatcher: poll error")
			continue
		}

		var decision models.RiskDecision
		if err := json.Unmarshal(msg.Value, &decision); err != nil {
			s.log.WithField("error", err).Warn("action dispatcher: malformed decision, skipping")
			_ = s.consumer.Commit(ctx, msg)
			processed++
			continue
		}

		s.dispatcher.Execute(decision)
		_ = s.consumer.Commit(ctx, msg)
		processed++
	}
}

// Stop signals Run to return at the next poll boundary.
func (s *Stage) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		close(s.stopCh)
		s.running = false
	}
}
