package rabbitmq

import (
	"context"
	"crypto/tls"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/miladsoleymani/eventbus/broker"
	"github.com/miladsoleymani/eventbus/core"
)

func init() {
	factory := func(cfg core.Config) (core.Dialer, error) {
		return New(optsFromConfig(cfg)...), nil
	}
	broker.Register("amqp", factory)
	broker.Register("amqps", factory)
}

// Dialer implements core.Dialer for RabbitMQ using amqp091-go.
//
// Design decisions:
//   - One connection per Dial, channels opened on demand by the bus.
//   - QoS prefetch is applied to every channel.
//   - Dial honours ctx: a connection that arrives after ctx is done is closed.
type Dialer struct {
	opts options
}

var _ core.Dialer = (*Dialer)(nil)

// New creates a RabbitMQ dialer.
func New(fns ...Option) *Dialer {
	opts := defaults()
	for _, fn := range fns {
		fn(&opts)
	}
	return &Dialer{opts: opts}
}

// URI builds the AMQP URI for cfg.
func URI(cfg core.Config) string {
	scheme := cfg.Protocol
	if scheme != "amqps" {
		scheme = "amqp"
	}
	return amqp.URI{
		Scheme:   scheme,
		Host:     cfg.Hostname,
		Port:     cfg.Port,
		Username: cfg.Username,
		Password: cfg.Password,
		Vhost:    cfg.Vhost,
	}.String()
}

func (d *Dialer) Dial(ctx context.Context, cfg core.Config) (core.Connection, error) {
	uri := URI(cfg)

	props := amqp.NewConnectionProperties()
	if d.opts.connectionName != "" {
		props.SetClientConnectionName(d.opts.connectionName)
	}
	ac := amqp.Config{
		Heartbeat:       d.opts.heartbeat,
		Locale:          d.opts.locale,
		TLSClientConfig: d.opts.tlsConfig,
		Properties:      props,
	}
	if cfg.Protocol == "amqps" && ac.TLSClientConfig == nil {
		ac.TLSClientConfig = &tls.Config{ServerName: cfg.Hostname}
	}

	type result struct {
		conn *amqp.Connection
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := amqp.DialConfig(uri, ac)
		done <- result{conn, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("eventbus/rabbitmq: dial %s:%d: %w", cfg.Hostname, cfg.Port, r.err)
		}
		return &connection{conn: r.conn, prefetch: d.opts.prefetchCount}, nil
	case <-ctx.Done():
		go func() {
			if r := <-done; r.conn != nil {
				_ = r.conn.Close()
			}
		}()
		return nil, fmt.Errorf("eventbus/rabbitmq: dial %s:%d: %w", cfg.Hostname, cfg.Port, ctx.Err())
	}
}

type connection struct {
	conn     *amqp.Connection
	prefetch int
}

func (c *connection) Channel(_ context.Context) (core.Channel, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("eventbus/rabbitmq: open channel: %w", err)
	}
	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("eventbus/rabbitmq: set qos: %w", err)
	}
	return &channel{ch: ch}, nil
}

func (c *connection) Close() error {
	if c.conn.IsClosed() {
		return nil
	}
	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("eventbus/rabbitmq: close connection: %w", err)
	}
	return nil
}

// channel adapts *amqp.Channel, which is safe for concurrent publishing.
type channel struct {
	ch *amqp.Channel
}

func (c *channel) DeclareExchange(_ context.Context, name, kind string, o core.ExchangeOptions) error {
	if err := c.ch.ExchangeDeclare(name, kind, o.Durable, o.AutoDelete, o.Internal, false, amqp.Table(o.Args)); err != nil {
		return fmt.Errorf("eventbus/rabbitmq: declare exchange %q: %w", name, err)
	}
	return nil
}

func (c *channel) DeclareQueue(_ context.Context, name string, o core.QueueOptions) (core.Queue, error) {
	q, err := c.ch.QueueDeclare(name, o.Durable, o.AutoDelete, o.Exclusive, false, amqp.Table(o.Args))
	if err != nil {
		return core.Queue{}, fmt.Errorf("eventbus/rabbitmq: declare queue %q: %w", name, err)
	}
	return core.Queue{Name: q.Name, Messages: q.Messages, Consumers: q.Consumers}, nil
}

func (c *channel) BindQueue(_ context.Context, queue, exchange, routingKey string, args core.Table) error {
	if err := c.ch.QueueBind(queue, routingKey, exchange, false, amqp.Table(args)); err != nil {
		return fmt.Errorf("eventbus/rabbitmq: bind queue %q: %w", queue, err)
	}
	return nil
}

func (c *channel) Publish(ctx context.Context, exchange, routingKey string, msg core.Publishing) error {
	if err := c.ch.PublishWithContext(ctx, exchange, routingKey, msg.Mandatory, false, toPublishing(msg)); err != nil {
		return fmt.Errorf("eventbus/rabbitmq: publish to %q: %w", routingKey, err)
	}
	return nil
}

func (c *channel) Consume(_ context.Context, queue string, o core.ConsumeOptions) (<-chan core.Delivery, error) {
	deliveries, err := c.ch.Consume(
		queue,
		o.ConsumerTag,
		o.AutoAck,
		o.Exclusive,
		false, // noLocal
		false, // noWait
		amqp.Table(o.Args),
	)
	if err != nil {
		return nil, fmt.Errorf("eventbus/rabbitmq: consume %q: %w", queue, err)
	}

	out := make(chan core.Delivery)
	go func() {
		defer close(out)
		for d := range deliveries {
			out <- toDelivery(d, o.AutoAck)
		}
	}()
	return out, nil
}

func (c *channel) Cancel(_ context.Context, consumerTag string) error {
	if err := c.ch.Cancel(consumerTag, false); err != nil {
		return fmt.Errorf("eventbus/rabbitmq: cancel %q: %w", consumerTag, err)
	}
	return nil
}

func (c *channel) Close() error {
	if c.ch.IsClosed() {
		return nil
	}
	if err := c.ch.Close(); err != nil {
		return fmt.Errorf("eventbus/rabbitmq: close channel: %w", err)
	}
	return nil
}

// optsFromConfig extracts options from core.Config.Extra.
func optsFromConfig(cfg core.Config) []Option {
	var opts []Option
	if n, ok := cfg.ExtraInt("prefetch_count"); ok {
		opts = append(opts, WithPrefetchCount(n))
	}
	if d, ok := cfg.ExtraDuration("heartbeat"); ok {
		opts = append(opts, WithHeartbeat(d))
	}
	if s, ok := cfg.ExtraString("locale"); ok {
		opts = append(opts, WithLocale(s))
	}
	if s, ok := cfg.ExtraString("connection_name"); ok {
		opts = append(opts, WithConnectionName(s))
	}
	return opts
}
