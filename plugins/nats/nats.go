package nats

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/miladsoleymani/eventbus/broker"
	"github.com/miladsoleymani/eventbus/core"
)

func init() {
	broker.Register("nats", func(cfg core.Config) (core.Dialer, error) {
		return New(optsFromConfig(cfg)...), nil
	})
}

// Dialer implements core.Dialer for NATS JetStream.
//
// Design decisions:
//   - An exchange is a stream capturing "<exchange>.>"; routing keys are the
//     subject suffix.
//   - A queue is a durable pull consumer whose filter subjects are its
//     bindings. Non-durable queues expire after the inactive threshold.
//   - Consumers always use explicit acks; auto-ack consumers are acked as
//     soon as a message is received.
//   - Durable exchanges use file storage, others memory storage.
type Dialer struct {
	opts options
}

var _ core.Dialer = (*Dialer)(nil)

// New creates a NATS JetStream dialer.
func New(fns ...Option) *Dialer {
	opts := defaults()
	for _, fn := range fns {
		fn(&opts)
	}
	return &Dialer{opts: opts}
}

// URLs returns the server list for cfg: the "servers" extra key when set,
// otherwise nats://hostname:port.
func URLs(cfg core.Config) []string {
	if servers, ok := cfg.ExtraStrings("servers"); ok && len(servers) > 0 {
		return servers
	}
	return []string{fmt.Sprintf("nats://%s:%d", cfg.Hostname, cfg.Port)}
}

func (d *Dialer) Dial(ctx context.Context, cfg core.Config) (core.Connection, error) {
	url := strings.Join(URLs(cfg), ",")

	nopts := []nats.Option{
		nats.MaxReconnects(d.opts.maxReconnects),
		nats.ReconnectWait(d.opts.reconnectWait),
	}
	if d.opts.connectionName != "" {
		nopts = append(nopts, nats.Name(d.opts.connectionName))
	}
	if cfg.Username != "" {
		nopts = append(nopts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if d.opts.tlsConfig != nil {
		nopts = append(nopts, nats.Secure(d.opts.tlsConfig))
	}

	type result struct {
		nc  *nats.Conn
		err error
	}
	done := make(chan result, 1)
	go func() {
		nc, err := nats.Connect(url, nopts...)
		done <- result{nc, err}
	}()

	var nc *nats.Conn
	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("eventbus/nats: connect to %q: %w", url, r.err)
		}
		nc = r.nc
	case <-ctx.Done():
		go func() {
			if r := <-done; r.nc != nil {
				r.nc.Close()
			}
		}()
		return nil, fmt.Errorf("eventbus/nats: connect to %q: %w", url, ctx.Err())
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("eventbus/nats: init jetstream: %w", err)
	}
	return &connection{nc: nc, js: js, opts: d.opts}, nil
}

type connection struct {
	nc   *nats.Conn
	js   jetstream.JetStream
	opts options
}

func (c *connection) Channel(_ context.Context) (core.Channel, error) {
	if c.nc.IsClosed() {
		return nil, fmt.Errorf("eventbus/nats: open channel: %w", nats.ErrConnectionClosed)
	}
	return &channel{
		js:     c.js,
		opts:   c.opts,
		queues: make(map[string]*queue),
		subs:   make(map[string]*subscription),
	}, nil
}

func (c *connection) Close() error {
	c.nc.Close()
	return nil
}

// queue is the client-side record of a declared queue and its bindings.
type queue struct {
	opts     core.QueueOptions
	exchange string
	filters  []string
	consumer jetstream.Consumer
}

type subscription struct {
	cc     jetstream.ConsumeContext
	mu     sync.Mutex
	out    chan core.Delivery
	closed bool
}

// send forwards d unless the subscription was cancelled.
func (s *subscription) send(d core.Delivery) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.out <- d
	return true
}

func (s *subscription) stop() {
	s.cc.Stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.out)
	}
}

type channel struct {
	js   jetstream.JetStream
	opts options

	mu     sync.Mutex
	queues map[string]*queue
	subs   map[string]*subscription
	closed bool
}

func (c *channel) DeclareExchange(ctx context.Context, name, _ string, o core.ExchangeOptions) error {
	storage := jetstream.MemoryStorage
	if o.Durable {
		storage = jetstream.FileStorage
	}
	streamName := sanitizeStreamName(name)
	_, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{name + ".>"},
		MaxMsgs:   c.opts.maxMsgs,
		MaxBytes:  c.opts.maxBytes,
		MaxAge:    c.opts.maxAge,
		Replicas:  c.opts.replicas,
		Retention: c.opts.retention,
		Storage:   storage,
	})
	if err != nil {
		return fmt.Errorf("eventbus/nats: create stream %q: %w", streamName, err)
	}
	return nil
}

func (c *channel) DeclareQueue(_ context.Context, name string, o core.QueueOptions) (core.Queue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return core.Queue{}, fmt.Errorf("eventbus/nats: declare queue %q: %w", name, nats.ErrConnectionClosed)
	}
	if _, ok := c.queues[name]; !ok {
		c.queues[name] = &queue{opts: o}
	}
	return core.Queue{Name: name}, nil
}

func (c *channel) BindQueue(ctx context.Context, queueName, exchange, routingKey string, _ core.Table) error {
	subjects, err := filterSubjects(exchange, routingKey)
	if err != nil {
		return fmt.Errorf("eventbus/nats: bind queue %q: %w", queueName, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	q, ok := c.queues[queueName]
	if !ok {
		return fmt.Errorf("eventbus/nats: bind queue %q: queue not declared", queueName)
	}
	if q.exchange != "" && q.exchange != exchange {
		return fmt.Errorf("eventbus/nats: bind queue %q: already bound to %q", queueName, q.exchange)
	}

	filters := appendUnique(q.filters, subjects...)
	cons, err := c.js.CreateOrUpdateConsumer(ctx, sanitizeStreamName(exchange), c.consumerConfig(queueName, q.opts, filters))
	if err != nil {
		return fmt.Errorf("eventbus/nats: bind queue %q: %w", queueName, err)
	}
	q.exchange, q.filters, q.consumer = exchange, filters, cons
	return nil
}

func (c *channel) consumerConfig(name string, o core.QueueOptions, filters []string) jetstream.ConsumerConfig {
	cc := jetstream.ConsumerConfig{
		Durable:        sanitizeStreamName(name),
		AckPolicy:      jetstream.AckExplicitPolicy,
		AckWait:        c.opts.ackWait,
		MaxDeliver:     c.opts.maxDeliver,
		DeliverPolicy:  jetstream.DeliverNewPolicy,
		FilterSubjects: filters,
	}
	if !o.Durable || o.AutoDelete {
		cc.InactiveThreshold = c.opts.inactiveThreshold
	}
	return cc
}

func (c *channel) Publish(ctx context.Context, exchange, routingKey string, msg core.Publishing) error {
	subject := exchange + "." + routingKey
	if _, err := c.js.PublishMsg(ctx, toMsg(subject, msg)); err != nil {
		return fmt.Errorf("eventbus/nats: publish to %q: %w", subject, err)
	}
	return nil
}

func (c *channel) Consume(_ context.Context, queueName string, o core.ConsumeOptions) (<-chan core.Delivery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	q, ok := c.queues[queueName]
	if !ok || q.consumer == nil {
		return nil, fmt.Errorf("eventbus/nats: consume %q: queue has no bindings", queueName)
	}
	if _, ok := c.subs[o.ConsumerTag]; ok {
		return nil, fmt.Errorf("eventbus/nats: consume %q: consumer tag %q in use", queueName, o.ConsumerTag)
	}

	sub := &subscription{out: make(chan core.Delivery)}
	exchange := q.exchange
	cc, err := q.consumer.Consume(func(m jetstream.Msg) {
		if o.AutoAck {
			_ = m.Ack()
		}
		if !sub.send(toDelivery(exchange, o.ConsumerTag, m, o.AutoAck)) && !o.AutoAck {
			_ = m.Nak()
		}
	})
	if err != nil {
		return nil, fmt.Errorf("eventbus/nats: consume %q: %w", queueName, err)
	}
	sub.cc = cc
	c.subs[o.ConsumerTag] = sub
	return sub.out, nil
}

func (c *channel) Cancel(_ context.Context, consumerTag string) error {
	c.mu.Lock()
	sub, ok := c.subs[consumerTag]
	delete(c.subs, consumerTag)
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("eventbus/nats: cancel %q: unknown consumer", consumerTag)
	}
	sub.stop()
	return nil
}

func (c *channel) Close() error {
	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[string]*subscription)
	c.closed = true
	c.mu.Unlock()
	for _, s := range subs {
		s.stop()
	}
	return nil
}

// filterSubjects translates an AMQP topic binding into JetStream filter
// subjects. A trailing "#" matches zero or more words, so "a.#" needs both
// "a" and "a.>". "#" is only supported as the last word.
func filterSubjects(exchange, routingKey string) ([]string, error) {
	words := strings.Split(routingKey, ".")
	for i, w := range words {
		if w == "#" && i != len(words)-1 {
			return nil, fmt.Errorf("pattern %q: '#' is only supported as the last word", routingKey)
		}
		if w == "" {
			return nil, fmt.Errorf("pattern %q: empty word", routingKey)
		}
	}
	if words[len(words)-1] != "#" {
		return []string{exchange + "." + routingKey}, nil
	}
	prefix := strings.Join(words[:len(words)-1], ".")
	if prefix == "" {
		return []string{exchange + ".>"}, nil
	}
	return []string{exchange + "." + prefix, exchange + "." + prefix + ".>"}, nil
}

func appendUnique(dst []string, vs ...string) []string {
	out := append([]string(nil), dst...)
	for _, v := range vs {
		found := false
		for _, d := range out {
			if d == v {
				found = true
				break
			}
		}
		if !found {
			out = append(out, v)
		}
	}
	return out
}

// sanitizeStreamName converts a subject or queue name to a valid stream or
// consumer name by replacing special characters.
func sanitizeStreamName(topic string) string {
	buf := make([]byte, len(topic))
	for i := 0; i < len(topic); i++ {
		c := topic[i]
		if c == '.' || c == '*' || c == '>' || c == ' ' {
			buf[i] = '-'
		} else {
			buf[i] = c
		}
	}
	return string(buf)
}

// optsFromConfig extracts options from core.Config.Extra.
func optsFromConfig(cfg core.Config) []Option {
	var opts []Option
	if n, ok := cfg.ExtraInt("max_deliver"); ok {
		opts = append(opts, WithMaxDeliver(n))
	}
	if n, ok := cfg.ExtraInt("replicas"); ok {
		opts = append(opts, WithReplicas(n))
	}
	if d, ok := cfg.ExtraDuration("ack_wait"); ok {
		opts = append(opts, WithAckWait(d))
	}
	if d, ok := cfg.ExtraDuration("max_age"); ok {
		opts = append(opts, WithMaxAge(d))
	}
	if s, ok := cfg.ExtraString("connection_name"); ok {
		opts = append(opts, WithConnectionName(s))
	}
	return opts
}
