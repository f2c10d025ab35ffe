package inmemory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redwing-381/moment/internal/bus"
)

func TestProduceConsume_RoundTrips(t *testing.T) {
	b := NewBus(1, 16)
	producer := b.Producer()
	consumer := b.Consumer("events", 0)

	ctx := context.Background()
	require.NoError(t, producer.Produce(ctx, "events", "actor-1", []byte("payload")))

	msg, err := consumer.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, "actor-1", msg.Key)
	assert.Equal(t, []byte("payload"), msg.Value)
}

func TestPoll_TimesOutAsPartitionEOF(t *testing.T) {
	b := NewBus(1, 16)
	consumer := b.Consumer("events", 0)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := consumer.Poll(ctx)
	assert.ErrorIs(t, err, bus.ErrPartitionEOF)
}

func TestSameKeyLandsOnSamePartition(t *testing.T) {
	top := NewTopic("events", 8, 16)
	first := top.partitionFor("actor-42")
	second := top.partitionFor("actor-42")
	assert.Equal(t, first, second)
}

func TestSinglePartitionTopicIgnoresHash(t *testing.T) {
	top := NewTopic("events", 1, 16)
	assert.Equal(t, 0, top.partitionFor("anything"))
}

func TestPartitionCount(t *testing.T) {
	b := NewBus(4, 16)
	assert.Equal(t, 4, b.PartitionCount("events"))
}
