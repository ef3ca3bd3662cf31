package core

import "context"

// Table carries broker specific arguments (x-* queue arguments, headers).
type Table map[string]any

// Dialer opens connections to a broker. Each transport plugin provides one.
type Dialer interface {
	Dial(ctx context.Context, cfg Config) (Connection, error)
}

// Connection is a single handle to the broker.
type Connection interface {
	Channel(ctx context.Context) (Channel, error)
	Close() error
}

// Channel is the multiplexed session used for both publishing and consuming.
// Implementations must allow concurrent Publish calls.
type Channel interface {
	DeclareExchange(ctx context.Context, name, kind string, opts ExchangeOptions) error
	DeclareQueue(ctx context.Context, name string, opts QueueOptions) (Queue, error)
	BindQueue(ctx context.Context, queue, exchange, routingKey string, args Table) error
	Publish(ctx context.Context, exchange, routingKey string, msg Publishing) error

	// Consume starts a consumer on queue. The returned channel is closed when
	// the consumer is cancelled or the underlying session goes away.
	Consume(ctx context.Context, queue string, opts ConsumeOptions) (<-chan Delivery, error)

	// Cancel stops the consumer identified by tag.
	Cancel(ctx context.Context, consumerTag string) error
	Close() error
}

// ExchangeOptions are the properties an exchange is declared with.
type ExchangeOptions struct {
	Durable    bool
	AutoDelete bool
	Internal   bool
	Args       Table
}

// QueueOptions are the properties a queue is declared with.
type QueueOptions struct {
	Durable    bool
	AutoDelete bool
	Exclusive  bool
	Args       Table
}

// Queue is what the broker reports back for a declared queue.
type Queue struct {
	Name      string
	Messages  int
	Consumers int
}

// ConsumeOptions controls how a consumer is registered.
type ConsumeOptions struct {
	ConsumerTag string
	// AutoAck lets the broker consider a message acknowledged on delivery.
	AutoAck   bool
	Exclusive bool
	Args      Table
}
