package nats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miladsoleymani/eventbus/core"
)

func TestFilterSubjects(t *testing.T) {
	tests := []struct {
		key  string
		want []string
	}{
		{"global.created", []string{"puzzle.global.created"}},
		{"global.*", []string{"puzzle.global.*"}},
		{"global.#", []string{"puzzle.global", "puzzle.global.>"}},
		{"#", []string{"puzzle.>"}},
	}
	for _, tt := range tests {
		got, err := filterSubjects("puzzle", tt.key)
		require.NoError(t, err, tt.key)
		assert.Equal(t, tt.want, got, tt.key)
	}

	_, err := filterSubjects("puzzle", "a.#.b")
	assert.Error(t, err)
	_, err = filterSubjects("puzzle", "a..b")
	assert.Error(t, err)
}

func TestSanitizeStreamName(t *testing.T) {
	assert.Equal(t, "orders-created", sanitizeStreamName("orders.created"))
	assert.Equal(t, "a----b", sanitizeStreamName("a.*.>b"))
	assert.Equal(t, "global-user_created", sanitizeStreamName("global-user_created"))
}

func TestAppendUnique(t *testing.T) {
	in := []string{"a"}
	out := appendUnique(in, "a", "b", "b")
	assert.Equal(t, []string{"a", "b"}, out)
	assert.Equal(t, []string{"a"}, in)
}

func TestURLs(t *testing.T) {
	cfg := core.Config{Protocol: "nats"}.WithDefaults()
	assert.Equal(t, []string{"nats://localhost:4222"}, URLs(cfg))

	cfg.Extra = map[string]any{"servers": "nats://a:4222,nats://b:4222"}
	assert.Equal(t, []string{"nats://a:4222", "nats://b:4222"}, URLs(cfg))
}

func TestToMsg(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m := toMsg("puzzle.global.created", core.Publishing{
		Properties: core.Properties{
			ContentType:  core.ContentTypeJSON,
			DeliveryMode: core.DeliveryPersistent,
			MessageID:    "id-1",
			Timestamp:    ts,
			Headers:      core.Table{"tenant": 7},
		},
		Body: []byte(`{"a":1}`),
	})

	assert.Equal(t, "puzzle.global.created", m.Subject)
	assert.Equal(t, []byte(`{"a":1}`), m.Data)
	assert.Equal(t, core.ContentTypeJSON, m.Header.Get(hdrContentType))
	assert.Equal(t, "id-1", m.Header.Get("Nats-Msg-Id"))
	assert.Equal(t, "2", m.Header.Get(hdrDeliveryMode))
	assert.Equal(t, "7", m.Header.Get("tenant"))
	assert.Equal(t, ts.Format(time.RFC3339Nano), m.Header.Get(hdrTimestamp))
	assert.Empty(t, m.Header.Get(hdrPriority))
}

func TestConsumerConfig(t *testing.T) {
	c := &channel{opts: defaults()}

	durable := c.consumerConfig("global.created", core.QueueOptions{Durable: true}, []string{"puzzle.global.created"})
	assert.Equal(t, "global-created", durable.Durable)
	assert.Zero(t, durable.InactiveThreshold)
	assert.Equal(t, []string{"puzzle.global.created"}, durable.FilterSubjects)

	temp := c.consumerConfig("tmp", core.QueueOptions{AutoDelete: true}, nil)
	assert.Equal(t, 5*time.Minute, temp.InactiveThreshold)
}

func TestOptsFromConfig(t *testing.T) {
	cfg := core.Config{Extra: map[string]any{"max_deliver": "3", "ack_wait": "10s", "replicas": 3}}
	o := defaults()
	for _, fn := range optsFromConfig(cfg) {
		fn(&o)
	}
	assert.Equal(t, 3, o.maxDeliver)
	assert.Equal(t, 3, o.replicas)
	assert.Equal(t, 10*time.Second, o.ackWait)
}
