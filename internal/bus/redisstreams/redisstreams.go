// Package redisstreams implements internal/bus.Producer/Consumer on
// top of Redis Streams via github.com/go-redis/redis/v8. XADD with a
// partition-key field models keyed partitioning; a consumer group per
// stage (BUS_CONSUMER_GROUP-<stage>) gives each stage its own cursor,
// and XREADGROUP + XACK model auto-commit.
package redisstreams

import (
	"context"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/redwing-381/moment/internal/bus"
	"github.com/redwing-381/moment/internal/resilience"
)

const keyField = "key"
const valueField = "value"

// Producer publishes to a Redis stream per topic via XADD.
type Producer struct {
	client   *redis.Client
	retryCfg resilience.RetryConfig
}

// NewProducer wraps an existing *redis.Client.
func NewProducer(client *redis.Client) *Producer {
	return &Producer{client: client, retryCfg: resilience.DefaultRetryConfig()}
}

// Produce appends a message to topic's stream, retrying transient
// failures per internal/resilience.Retry before surfacing an error for
// the stage worker to count as a stage_failure.
func (p *Producer) Produce(ctx context.Context, topic, key string, value []byte) error {
	return resilience.Retry(ctx, p.retryCfg, func() error {
		return p.client.XAdd(ctx, &redis.XAddArgs{
			Stream: topic,
			Values: map[string]interface{}{
				keyField:   key,
				valueField: value,
			},
		}).Err()
	})
}

// Flush is a no-op: XADD is acknowledged synchronously by Redis, so
// there is no client-side buffer to drain.
func (p *Producer) Flush(ctx context.Context) error { return nil }

func (p *Producer) Close() error { return nil }

// Consumer reads from a Redis stream via a consumer group, acking
// messages on Commit.
type Consumer struct {
	client      *redis.Client
	stream      string
	group       string
	consumerID  string
	pollTimeout time.Duration
}

// NewConsumer creates a Consumer, creating the stream's consumer group
// if it does not already exist (MKSTREAM so the group can be created
// before the first message is produced).
func NewConsumer(ctx context.Context, client *redis.Client, stream, group, consumerID string, pollTimeout time.Duration) (*Consumer, error) {
	err := client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !isBusyGroupErr(err) {
		return nil, err
	}
	return &Consumer{
		client:      client,
		stream:      stream,
		group:       group,
		consumerID:  consumerID,
		pollTimeout: pollTimeout,
	}, nil
}

func isBusyGroupErr(err error) bool {
	return err != nil && err.Error() == "BUSYGROUP Consumer Group name already exists"
}

// Poll reads the next undelivered message for this consumer group,
// returning bus.ErrPartitionEOF when nothing arrives within the
// configured poll timeout.
func (c *Consumer) Poll(ctx context.Context) (*bus.Message, error) {
	res, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumerID,
		Streams:  []string{c.stream, ">"},
		Count:    1,
		Block:    c.pollTimeout,
	}).Result()
	if err == redis.Nil {
		return nil, bus.ErrPartitionEOF
	}
	if err != nil {
		return nil, err
	}
	if len(res) == 0 || len(res[0].Messages) == 0 {
		return nil, bus.ErrPartitionEOF
	}

	entry := res[0].Messages[0]
	key, _ := entry.Values[keyField].(string)
	rawValue, _ := entry.Values[valueField].(string)

	offset, _ := parseStreamOffset(entry.ID)

	return &bus.Message{
		Key:    key,
		Value:  []byte(rawValue),
		Offset: offset,
		Topic:  c.stream,
		ID:     entry.ID,
	}, nil
}

// Commit XACKs the message. Callers commit both after a successful
// produce downstream and after logging and skipping a malformed
// message, so a bad payload never stalls the stream.
func (c *Consumer) Commit(ctx context.Context, msg *bus.Message) error {
	return c.client.XAck(ctx, c.stream, c.group, msg.ID).Err()
}

func (c *Consumer) Close() error { return nil }

// parseStreamOffset extracts the millisecond timestamp portion of a
// Redis stream ID ("<ms>-<seq>") as an approximate offset for logging;
// Commit re-derives the exact ID string it needs separately.
func parseStreamOffset(id string) (int64, error) {
	for i, r := range id {
		if r == '-' {
			return strconv.ParseInt(id[:i], 10, 64)
		}
	}
	return strconv.ParseInt(id, 10, 64)
}
