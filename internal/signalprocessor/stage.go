package signalprocessor

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/redwing-381/moment/internal/apperrors"
	"github.com/redwing-381/moment/internal/bus"
	"github.com/redwing-381/moment/internal/frequency"
	"github.com/redwing-381/moment/internal/logging"
	"github.com/redwing-381/moment/internal/metrics"
	"github.com/redwing-381/moment/internal/models"
)

// EventDecoder decodes a raw bus payload into an Event, accepting
// either JSON or Confluent-wire Avro. *wirecodec.Codec implements
// this; Stage falls back to plain JSON when none is set.
type EventDecoder interface {
	DecodeEvent(ctx context.Context, data []byte) (models.Event, error)
}

// Stage is the Signal Processor stage worker: it polls `events`,
// scores each event (enriched by a FrequencyTracker reading), and
// produces the resulting RiskSignal to `signals` keyed by actor_id.
// Symmetric in shape with internal/dispatcher.Stage and
// internal/decision.Stage.
type Stage struct {
	processor *Processor
	tracker   *frequency.Tracker
	consumer  bus.Consumer
	producer  bus.Producer
	topic     string
	log       *logging.Logger
	counters  *metrics.Counters
	decoder   EventDecoder

	pollTimeout time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// SetDecoder installs an EventDecoder (typically a *wirecodec.Codec)
// used to decode incoming events. Without one, Stage decodes JSON
// only, which remains the default.
func (s *Stage) SetDecoder(d EventDecoder) {
	s.decoder = d
}

// NewStage constructs a Stage.
func NewStage(processor *Processor, tracker *frequency.Tracker, consumer bus.Consumer, producer bus.Producer, signalsTopic string, log *logging.Logger, counters *metrics.Counters) *Stage {
	return &Stage{
		processor:   processor,
		tracker:     tracker,
		consumer:    consumer,
		producer:    producer,
		topic:       signalsTopic,
		log:         log,
		counters:    counters,
		pollTimeout: time.Second,
	}
}

// Connect marks the stage ready to run. The in-memory and Redis bus
// adapters need no explicit handshake, but the method is kept so a
// future bus implementation requiring one has a place to do it.
func (s *Stage) Connect(ctx context.Context) error { return nil }

// Disconnect flushes the producer with a bounded timeout and closes
// both ends; anything still unsent after the timeout is dropped.
func (s *Stage) Disconnect(ctx context.Context) error {
	flushCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := s.producer.Flush(flushCtx); err != nil {
		s.log.WithField("error", err).Warn("signal processor: flush incomplete, remainder dropped")
	}
	_ = s.producer.Close()
	return s.consumer.Close()
}

// Run polls events until ctx is cancelled, Stop is called, or
// maxItems have been processed (maxItems <= 0 means unbounded).
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

		// Bound each poll so Stop is observed within one poll timeout
		// even when the topic is idle.
		pollCtx, cancel := context.WithTimeout(ctx, s.pollTimeout)
		msg, err := s.consumer.Poll(pollCtx)
		cancel()
		if err != nil {
			if err == bus.ErrPartitionEOF {
				continue
			}
			s.log.WithField("error", err).Error("signal processor: poll error")
			continue
		}

		s.handle(ctx, msg)
		processed++
	}
}

func (s *Stage) handle(ctx context.Context, msg *bus.Message) {
	event, err := s.decodeEvent(ctx, msg.Value)
	if err != nil {
		s.log.WithField("error", apperrors.Wrap(apperrors.CodeMalformed, "decode event", err)).
			Warn("signal processor: malformed event, skipping")
		s.counters.IncEventsFailed()
		_ = s.consumer.Commit(ctx, msg)
		return
	}
	event.Normalize()

	eventTime := time.UnixMilli(event.Timestamp)
	realFrequency := s.tracker.Record(event.ActorID, eventTime)

	score := s.processor.Score(event, realFrequency)
	factors := s.processor.RiskFactors(event, realFrequency)

	signal := models.RiskSignal{
		ActorID:             event.ActorID,
		RiskScore:           score,
		RiskFactors:         factors,
		OriginalEvent:       event,
		ProcessingTimestamp: time.Now().UnixMilli(),
		CorrelationID:       uuid.NewString(),
	}

	payload, err := json.Marshal(signal)
	if err != nil {
		s.log.WithField("error", err).Error("signal processor: encode failure")
		s.counters.IncEventsFailed()
		_ = s.consumer.Commit(ctx, msg)
		return
	}

	if err := s.producer.Produce(ctx, s.topic, signal.ActorID, payload); err != nil {
		s.log.WithField("error", apperrors.Wrap(apperrors.CodeStageFailure, "produce signal", err)).
			Error("signal processor: produce failed")
		s.counters.IncEventsFailed()
		return
	}

	s.counters.IncEventsProcessed()
	_ = s.consumer.Commit(ctx, msg)
}

// decodeEvent accepts plain JSON or, when a decoder is installed,
// Confluent-wire Avro payloads as well.
func (s *Stage) decodeEvent(ctx context.Context, data []byte) (models.Event, error) {
	if s.decoder != nil {
		return s.decoder.DecodeEvent(ctx, data)
	}
	var event models.Event
	err := json.Unmarshal(data, &event)
	return event, err
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
