package decision

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redwing-381/moment/internal/apperrors"
	"github.com/redwing-381/moment/internal/bus"
	"github.com/redwing-381/moment/internal/logging"
	"github.com/redwing-381/moment/internal/metrics"
	"github.com/redwing-381/moment/internal/models"
)

// Stage is the Decision Engine stage worker: it polls `signals`, runs
// each through Engine.Decide, and produces the resulting RiskDecision
// to `decisions` keyed by actor_id.
type Stage struct {
	engine      *Engine
	consumer    bus.Consumer
	producer    bus.Producer
	topic       string
	log         *logging.Logger
	metrics     *metrics.Metrics
	pollTimeout time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// NewStage constructs a Stage.
func NewStage(engine *Engine, consumer bus.Consumer, producer bus.Producer, decisionsTopic string, log *logging.Logger, m *metrics.Metrics) *Stage {
	return &Stage{engine: engine, consumer: consumer, producer: producer, topic: decisionsTopic, log: log, metrics: m, pollTimeout: time.Second}
}

func (s *Stage) Connect(ctx context.Context) error { return nil }

func (s *Stage) Disconnect(ctx context.Context) error {
	flushCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := s.producer.Flush(flushCtx); err != nil {
		s.log.WithField("error", err).Warn("decision engine: flush incomplete, remainder dropped")
	}
	_ = s.producer.Close()
	return s.consumer.Close()
}

// Run polls signals until ctx is cancelled, Stop is called, or
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
			s.log.WithField("error", err).Error("decision engine: poll error")
			continue
		}

		s.handle(ctx, msg)
		processed++
	}
}

func (s *Stage) handle(ctx context.Context, msg *bus.Message) {
	var signal models.RiskSignal
	if err := json.Unmarshal(msg.Value, &signal); err != nil {
		s.log.WithField("error", apperrors.Wrap(apperrors.CodeMalformed, "decode signal", err)).
			Warn("decision engine: malformed signal, skipping")
		_ = s.consumer.Commit(ctx, msg)
		return
	}

	result := s.engine.Decide(ctx, signal)
	s.metrics.RecordLatency(string(result.Source), time.Duration(result.LatencyMS*float64(time.Millisecond)))
	s.metrics.RecordDecision(string(result.Decision))

	wire := result.ToRiskDecision(time.Now().UnixMilli())
	payload, err := json.Marshal(wire)
	if err != nil {
		s.log.WithField("error", err).Error("decision engine: encode failure")
		_ = s.consumer.Commit(ctx, msg)
		return
	}

	if err := s.producer.Produce(ctx, s.topic, wire.ActorID, payload); err != nil {
		s.log.WithField("error", apperrors.Wrap(apperrors.CodeStageFailure, "produce decision", err)).
			Error("decision engine: produce failed")
		return
	}

	_ = s.consumer.Commit(ctx, msg)
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
