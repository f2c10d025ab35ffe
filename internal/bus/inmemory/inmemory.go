// Package inmemory implements internal/bus.Producer/Consumer as a
// partitioned, in-process channel bus. It exists for tests and the
// cmd/gatekeeper demo entrypoint, standing in for an external broker:
// partitioning by FNV hash of the message key preserves the same
// per-actor ordering guarantee a real keyed-partition bus gives the
// pipeline.
package inmemory

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/redwing-381/moment/internal/bus"
)

// Topic is a partitioned in-process queue. Partitions are independent
// buffered channels; a message's partition is chosen by hashing its
// key, so all messages for one actor_id land on the same partition and
// are therefore observed in publish order by whichever consumer reads
// that partition.
type Topic struct {
	name       string
	partitions []chan *bus.Message
}

// NewTopic creates a Topic with the given partition count and
// per-partition buffer depth.
func NewTopic(name string, partitionCount, bufferSize int) *Topic {
	if partitionCount <= 0 {
		partitionCount = 1
	}
	t := &Topic{name: name, partitions: make([]chan *bus.Message, partitionCount)}
	for i := range t.partitions {
		t.partitions[i] = make(chan *bus.Message, bufferSize)
	}
	return t
}

func (t *Topic) partitionFor(key string) int {
	if len(t.partitions) == 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32()) % len(t.partitions)
}

// Bus holds every topic known to the in-memory bus, keyed by name.
// A single Bus is shared by the producers and consumers of all three
// stages within a process or test.
type Bus struct {
	mu     sync.Mutex
	topics map[string]*Topic
	parts  int
	buf    int
}

// NewBus constructs an empty Bus. partitionsPerTopic and bufferSize
// apply to every topic lazily created via Topic.
func NewBus(partitionsPerTopic, bufferSize int) *Bus {
	if partitionsPerTopic <= 0 {
		partitionsPerTopic = 4
	}
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Bus{topics: make(map[string]*Topic), parts: partitionsPerTopic, buf: bufferSize}
}

func (b *Bus) topic(name string) *Topic {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[name]
	if !ok {
		t = NewTopic(name, b.parts, b.buf)
		b.topics[name] = t
	}
	return t
}

// Producer returns a bus.Producer bound to this Bus.
func (b *Bus) Producer() bus.Producer {
	return &producer{bus: b}
}

// Consumer returns a bus.Consumer subscribed to topic, reading a single
// partition selected by partitionIndex. Running one Consumer per
// partition per stage mirrors the external bus's single-consumer-per-
// partition semantics that Stage D's ordering guarantee relies on.
func (b *Bus) Consumer(topic string, partitionIndex int) bus.Consumer {
	t := b.topic(topic)
	idx := partitionIndex % len(t.partitions)
	return &consumer{ch: t.partitions[idx]}
}

// PartitionCount reports how many partitions a topic has (creating it
// with the Bus's default partition count if it does not exist yet).
func (b *Bus) PartitionCount(topic string) int {
	return len(b.topic(topic).partitions)
}

type producer struct {
	bus *Bus
}

func (p *producer) Produce(ctx context.Context, topic, key string, value []byte) error {
	t := p.bus.topic(topic)
	idx := t.partitionFor(key)
	msg := &bus.Message{Key: key, Value: value, Topic: topic}
	select {
	case t.partitions[idx] <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *producer) Flush(ctx context.Context) error {
	// Channel sends in Produce are synchronous handoffs (buffered, but
	// there is no separate async flush queue), so Flush is a no-op.
	return nil
}

func (p *producer) Close() error { return nil }

type consumer struct {
	ch chan *bus.Message
}

func (c *consumer) Poll(ctx context.Context) (*bus.Message, error) {
	select {
	case msg, ok := <-c.ch:
		if !ok {
			return nil, bus.ErrPartitionEOF
		}
		return msg, nil
	case <-ctx.Done():
		// Poll timeout or shutdown reads as partition-EOF, never as a
		// loggable error.
		return nil, bus.ErrPartitionEOF
	}
}

func (c *consumer) Commit(ctx context.Context, msg *bus.Message) error { return nil }

func (c *consumer) Close() error { return nil }
