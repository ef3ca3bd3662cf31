package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miladsoleymani/eventbus/core"
)

func TestBrokers(t *testing.T) {
	cfg := core.Config{Protocol: "kafka", Hostname: "kafka"}.WithDefaults()
	assert.Equal(t, []string{"kafka:9092"}, Brokers(cfg))

	cfg.Extra = map[string]any{"brokers": []string{"a:9092", "b:9092"}}
	assert.Equal(t, []string{"a:9092", "b:9092"}, Brokers(cfg))
}

func TestMechanism(t *testing.T) {
	m, err := mechanism("", "u", "p")
	require.NoError(t, err)
	assert.Nil(t, m)

	m, err = mechanism("PLAIN", "u", "p")
	require.NoError(t, err)
	assert.Equal(t, "PLAIN", m.Name())

	m, err = mechanism("scram-sha-512", "u", "p")
	require.NoError(t, err)
	assert.Equal(t, "SCRAM-SHA-512", m.Name())

	_, err = mechanism("kerberos", "u", "p")
	assert.Error(t, err)
}

func TestMessageRoundTrip(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m := toMessage("puzzle", "global.created", core.Publishing{
		Properties: core.Properties{
			ContentType:   core.ContentTypeJSON,
			DeliveryMode:  core.DeliveryPersistent,
			MessageID:     "id-1",
			CorrelationID: "c-1",
			Timestamp:     ts,
			Type:          "event",
			Headers:       core.Table{"tenant": 7},
		},
		Body: []byte(`{"a":1}`),
	})
	assert.Equal(t, "puzzle", m.Topic)
	assert.Equal(t, []byte("global.created"), m.Key)
	assert.Equal(t, ts, m.Time)

	m.Offset = 42
	d := toDelivery("tag", m)
	assert.Equal(t, "puzzle", d.Exchange)
	assert.Equal(t, "global.created", d.RoutingKey)
	assert.Equal(t, "tag", d.ConsumerTag)
	assert.Equal(t, uint64(42), d.DeliveryTag)
	assert.Equal(t, core.ContentTypeJSON, d.ContentType)
	assert.Equal(t, core.DeliveryPersistent, d.DeliveryMode)
	assert.Equal(t, "id-1", d.MessageID)
	assert.Equal(t, "c-1", d.CorrelationID)
	assert.Equal(t, "event", d.Type)
	assert.Equal(t, core.Table{"tenant": "7"}, d.Headers)
	assert.Equal(t, `{"a":1}`, d.Text())
	assert.Nil(t, d.Acknowledger)
}

func TestRoutingKeyOf_FallsBackToKey(t *testing.T) {
	assert.Equal(t, "a.b", routingKeyOf(kafka.Message{Key: []byte("a.b")}))
}

func TestQueueMatches(t *testing.T) {
	q := &queue{patterns: []string{"global.created", "billing.#"}}
	m := core.DefaultMatcher{}
	assert.True(t, q.matches(m, "global.created"))
	assert.True(t, q.matches(m, "billing.invoice.paid"))
	assert.False(t, q.matches(m, "global.deleted"))
}

func TestBindQueue(t *testing.T) {
	c := &channel{queues: map[string]*queue{}, readers: map[string]*reader{}}
	ctx := context.Background()

	assert.Error(t, c.BindQueue(ctx, "missing", "puzzle", "a", nil))

	_, err := c.DeclareQueue(ctx, "global-created", core.QueueOptions{Durable: true})
	require.NoError(t, err)
	require.NoError(t, c.BindQueue(ctx, "global-created", "puzzle", "global.created", nil))
	require.NoError(t, c.BindQueue(ctx, "global-created", "puzzle", "global.created", nil))
	assert.Equal(t, []string{"global.created"}, c.queues["global-created"].patterns)

	assert.Error(t, c.BindQueue(ctx, "global-created", "other", "global.created", nil))
}

type fakeCommitter struct{ committed []kafka.Message }

func (f *fakeCommitter) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	f.committed = append(f.committed, msgs...)
	return nil
}

func (f *fakeCommitter) offsets() []int64 {
	var out []int64
	for _, m := range f.committed {
		out = append(out, m.Offset)
	}
	return out
}

func record(partition int, offset int64) kafka.Message {
	return kafka.Message{Topic: "orders", Partition: partition, Offset: offset}
}

func TestAcknowledger(t *testing.T) {
	fc := &fakeCommitter{}
	o := newOffsets(fc)
	o.track(record(0, 3))
	a := &acknowledger{offsets: o, msg: record(0, 3)}

	require.NoError(t, a.Nack(true))
	assert.Empty(t, fc.committed)

	require.NoError(t, a.Nack(false))
	assert.Equal(t, []int64{3}, fc.offsets())
}

func TestOffsets_CommitsOnlySettledPrefix(t *testing.T) {
	fc := &fakeCommitter{}
	o := newOffsets(fc)
	for off := int64(10); off < 14; off++ {
		o.track(record(0, off))
	}

	// a later record settling first must not commit past the open ones
	require.NoError(t, o.settle(context.Background(), record(0, 12)))
	assert.Empty(t, fc.committed)

	require.NoError(t, o.settle(context.Background(), record(0, 10)))
	assert.Equal(t, []int64{10}, fc.offsets())

	require.NoError(t, o.settle(context.Background(), record(0, 11)))
	assert.Equal(t, []int64{10, 12}, fc.offsets())

	require.NoError(t, o.settle(context.Background(), record(0, 13)))
	assert.Equal(t, []int64{10, 12, 13}, fc.offsets())
}

func TestOffsets_RequeueHoldsPartition(t *testing.T) {
	fc := &fakeCommitter{}
	o := newOffsets(fc)
	o.track(record(0, 1))
	o.track(record(0, 2))
	o.track(record(1, 7))

	requeued := &acknowledger{offsets: o, msg: record(0, 1)}
	require.NoError(t, requeued.Nack(true))
	require.NoError(t, (&acknowledger{offsets: o, msg: record(0, 2)}).Ack())
	require.NoError(t, (&acknowledger{offsets: o, msg: record(1, 7)}).Ack())

	// partition 1 moves on, partition 0 stays below the requeued record
	assert.Equal(t, []int64{7}, fc.offsets())
	assert.Equal(t, 1, fc.committed[0].Partition)
}

func TestOffsets_RewindStartsOver(t *testing.T) {
	fc := &fakeCommitter{}
	o := newOffsets(fc)
	o.track(record(0, 5))
	o.track(record(0, 6))

	// redelivered from the committed offset after a rebalance
	o.track(record(0, 5))
	require.NoError(t, o.settle(context.Background(), record(0, 5)))
	assert.Equal(t, []int64{5}, fc.offsets())

	// records from before the rewind that are already past are ignored
	require.NoError(t, o.settle(context.Background(), record(0, 4)))
	assert.Equal(t, []int64{5}, fc.offsets())
}

func TestOptsFromConfig(t *testing.T) {
	cfg := core.Config{Extra: map[string]any{
		"async":        "true",
		"batch_size":   10,
		"partitions":   "6",
		"sasl":         "plain",
		"start_offset": "first",
	}}
	o := defaults()
	for _, fn := range optsFromConfig(cfg) {
		fn(&o)
	}
	assert.True(t, o.async)
	assert.Equal(t, 10, o.batchSize)
	assert.Equal(t, 6, o.partitions)
	assert.Equal(t, 1, o.replicationFactor)
	assert.Equal(t, "plain", o.sasl)
	assert.Equal(t, int64(kafka.FirstOffset), o.startOffset)
}
