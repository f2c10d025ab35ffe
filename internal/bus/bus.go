// Package bus defines the Producer/Consumer abstraction the three
// stage workers poll and publish through. Two implementations exist:
// bus/inmemory (a partitioned in-process channel bus for tests and the
// demo entrypoint) and bus/redisstreams (an out-of-process option
// backed by go-redis/redis/v8 XADD/XREADGROUP).
package bus

import (
	"context"
	"errors"
)

// ErrPartitionEOF is the sentinel a Consumer returns when it has
// caught up to the end of its assigned partition. Stage workers must
// treat it as a normal poll timeout, never logging it as an error.
var ErrPartitionEOF = errors.New("bus: partition EOF")

// Message is a single bus record: a partition key, an opaque payload,
// and bus-specific metadata needed to commit offsets.
type Message struct {
	Key    string
	Value  []byte
	Offset int64
	Topic  string
	// ID is an opaque implementation-specific message identifier (e.g.
	// a Redis stream entry ID) used by Consumer.Commit when a plain
	// int64 offset cannot round-trip the underlying bus's ack token.
	ID string
}

// Producer publishes keyed messages to a topic.
type Producer interface {
	// Produce publishes value under key to topic. Implementations
	// should retry transient send failures internally (see
	// internal/resilience.Retry) before returning an error.
	Produce(ctx context.Context, topic, key string, value []byte) error
	// Flush blocks until all buffered messages are sent or ctx expires,
	// whichever comes first. Any remainder is logged and dropped by
	// the caller on disconnect.
	Flush(ctx context.Context) error
	// Close releases any resources held by the producer.
	Close() error
}

// Consumer reads keyed messages from a topic within a consumer group.
type Consumer interface {
	// Poll waits up to timeout (via ctx) for the next message.
	// Implementations return ErrPartitionEOF, not a generic error, when
	// they reach the end of an assigned partition with nothing to
	// deliver.
	Poll(ctx context.Context) (*Message, error)
	// Commit acknowledges a message has been fully processed. With
	// CommitModeAuto (the default), implementations may commit
	// automatically on Poll and treat Commit as a no-op.
	Commit(ctx context.Context, msg *Message) error
	// Close releases any resources held by the consumer.
	Close() error
}

// CommitMode selects offset-commit behavior. CommitModeAuto accepts
// at-least-once duplicates and relies on idempotent downstream
// handling; CommitModeManual — committing only once the downstream
// produce is acknowledged — is an extension point for an
// exactly-once-oriented deployment and is not implemented here.
type CommitMode int

const (
	CommitModeAuto CommitMode = iota
	CommitModeManual
)

// Bundle groups the five Producer/Consumer handles the three pipeline
// stages need: one consumer/producer pair bridging each topic boundary
// (events->signals, signals->decisions), plus the decisions consumer
// the Action Dispatcher reads from with no further producer beyond it.
// cmd/gatekeeper constructs one over bus/inmemory and hands it to
// internal/pipeline.Builder.
type Bundle struct {
	EventsConsumer    Consumer
	SignalsProducer   Producer
	SignalsConsumer   Consumer
	DecisionsProducer Producer
	DecisionsConsumer Consumer
}
