package mock

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miladsoleymani/eventbus/core"
)

func setup(t *testing.T) (*Broker, core.Channel) {
	t.Helper()
	ctx := context.Background()
	b := NewBroker()
	conn, err := b.Dial(ctx, core.Config{})
	require.NoError(t, err)
	ch, err := conn.Channel(ctx)
	require.NoError(t, err)
	require.NoError(t, ch.DeclareExchange(ctx, "puzzle", "topic", core.ExchangeOptions{Durable: true}))
	_, err = ch.DeclareQueue(ctx, "global-created", core.QueueOptions{Durable: true})
	require.NoError(t, err)
	require.NoError(t, ch.BindQueue(ctx, "global-created", "puzzle", "global.created", nil))
	return b, ch
}

func publishN(t *testing.T, ch core.Channel, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, ch.Publish(context.Background(), "puzzle", "global.created", core.Publishing{Body: []byte("x")}))
	}
}

func TestPublish_LargeBacklogDoesNotBlock(t *testing.T) {
	b, ch := setup(t)
	ctx := context.Background()

	out, err := ch.Consume(ctx, "global-created", core.ConsumeOptions{ConsumerTag: "c1", AutoAck: true})
	require.NoError(t, err)

	// Nobody reads while publishing.
	publishN(t, ch, 500)

	for i := 0; i < 500; i++ {
		d := <-out
		assert.Equal(t, "c1", d.ConsumerTag)
	}
	assert.Zero(t, b.Backlog("global-created"))
}

func TestConsume_DrainsBacklog(t *testing.T) {
	b, ch := setup(t)
	publishN(t, ch, 300)
	assert.Equal(t, 300, b.Backlog("global-created"))

	out, err := ch.Consume(context.Background(), "global-created", core.ConsumeOptions{ConsumerTag: "c1"})
	require.NoError(t, err)
	for i := 0; i < 300; i++ {
		d := <-out
		require.NotNil(t, d.Acknowledger)
	}
	assert.Zero(t, b.Backlog("global-created"))
}

func TestCancel_RemovesConsumer(t *testing.T) {
	b, ch := setup(t)
	ctx := context.Background()

	out, err := ch.Consume(ctx, "global-created", core.ConsumeOptions{ConsumerTag: "c1", AutoAck: true})
	require.NoError(t, err)
	_, consumers := b.Queue("global-created")
	assert.Equal(t, 1, consumers)

	require.NoError(t, ch.Cancel(ctx, "c1"))
	_, consumers = b.Queue("global-created")
	assert.Zero(t, consumers)

	for range out {
	}
	assert.ErrorIs(t, ch.Cancel(ctx, "c1"), ErrNotFound)

	publishN(t, ch, 3)
	assert.Equal(t, 3, b.Backlog("global-created"))
}

func TestClose_RemovesConsumers(t *testing.T) {
	b, ch := setup(t)

	out, err := ch.Consume(context.Background(), "global-created", core.ConsumeOptions{ConsumerTag: "c1", AutoAck: true})
	require.NoError(t, err)
	require.NoError(t, ch.Close())

	_, consumers := b.Queue("global-created")
	assert.Zero(t, consumers)
	for range out {
	}
}
