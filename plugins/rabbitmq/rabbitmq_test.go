package rabbitmq

import (
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miladsoleymani/eventbus/core"
)

func TestURI(t *testing.T) {
	cfg := core.Config{Hostname: "mq", Port: 5673, Username: "svc", Password: "pw"}.WithDefaults()
	u, err := amqp.ParseURI(URI(cfg))
	require.NoError(t, err)
	assert.Equal(t, "amqp", u.Scheme)
	assert.Equal(t, "mq", u.Host)
	assert.Equal(t, 5673, u.Port)
	assert.Equal(t, "svc", u.Username)
	assert.Equal(t, "pw", u.Password)
	assert.Equal(t, "/", u.Vhost)

	cfg = core.Config{Protocol: "amqps", Hostname: "mq", Vhost: "orders"}.WithDefaults()
	u, err = amqp.ParseURI(URI(cfg))
	require.NoError(t, err)
	assert.Equal(t, "amqps", u.Scheme)
	assert.Equal(t, 5671, u.Port)
	assert.Equal(t, "orders", u.Vhost)
}

func TestOptsFromConfig(t *testing.T) {
	cfg := core.Config{Extra: map[string]any{
		"prefetch_count":  "25",
		"heartbeat":       5,
		"connection_name": "orders-svc",
	}}
	d := New(optsFromConfig(cfg)...)
	assert.Equal(t, 25, d.opts.prefetchCount)
	assert.Equal(t, 5*time.Second, d.opts.heartbeat)
	assert.Equal(t, "orders-svc", d.opts.connectionName)
	assert.Equal(t, "en_US", d.opts.locale)
}

func TestToPublishing(t *testing.T) {
	ts := time.Now()
	p := toPublishing(core.Publishing{
		Properties: core.Properties{
			ContentType:   core.ContentTypeText,
			DeliveryMode:  core.DeliveryPersistent,
			MessageID:     "m1",
			CorrelationID: "c1",
			Timestamp:     ts,
			Headers:       core.Table{"k": "v"},
		},
		Body: []byte("hi"),
	})
	assert.Equal(t, "text/plain", p.ContentType)
	assert.Equal(t, uint8(2), p.DeliveryMode)
	assert.Equal(t, "m1", p.MessageId)
	assert.Equal(t, "c1", p.CorrelationId)
	assert.Equal(t, ts, p.Timestamp)
	assert.Equal(t, "v", p.Headers["k"])
	assert.Equal(t, []byte("hi"), p.Body)
}
