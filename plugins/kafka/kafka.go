package kafka

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"

	"github.com/miladsoleymani/eventbus/broker"
	"github.com/miladsoleymani/eventbus/core"
)

func init() {
	broker.Register("kafka", func(cfg core.Config) (core.Dialer, error) {
		return New(optsFromConfig(cfg)...), nil
	})
}

// Dialer implements core.Dialer for Apache Kafka using segmentio/kafka-go.
//
// Design decisions:
//   - An exchange is a topic, created on declare when missing.
//   - The routing key is the record key and a "routing-key" header.
//   - A queue is a consumer group reading the exchange topic. Its bindings
//     are matched client-side; records no binding matches are settled
//     and skipped.
//   - One kafka.Writer shared across all Publish calls (thread-safe by library).
//   - Auto-ack settles the record before it is handed on.
//   - Offsets are committed per partition up to the first unsettled record.
//     A requeued record holds its partition until the group rebalances.
type Dialer struct {
	opts options
}

var _ core.Dialer = (*Dialer)(nil)

// New creates a Kafka dialer.
func New(fns ...Option) *Dialer {
	opts := defaults()
	for _, fn := range fns {
		fn(&opts)
	}
	return &Dialer{opts: opts}
}

// Brokers returns the bootstrap addresses for cfg: the "brokers" extra key
// when set, otherwise hostname:port.
func Brokers(cfg core.Config) []string {
	if brokers, ok := cfg.ExtraStrings("brokers"); ok && len(brokers) > 0 {
		return brokers
	}
	return []string{net.JoinHostPort(cfg.Hostname, strconv.Itoa(cfg.Port))}
}

func mechanism(name, username, password string) (sasl.Mechanism, error) {
	switch strings.ToLower(name) {
	case "":
		return nil, nil
	case "plain":
		return plain.Mechanism{Username: username, Password: password}, nil
	case "scram-sha-256":
		return scram.Mechanism(scram.SHA256, username, password)
	case "scram-sha-512":
		return scram.Mechanism(scram.SHA512, username, password)
	}
	return nil, fmt.Errorf("unsupported sasl mechanism %q", name)
}

func (d *Dialer) Dial(ctx context.Context, cfg core.Config) (core.Connection, error) {
	brokers := Brokers(cfg)
	mech, err := mechanism(d.opts.sasl, cfg.Username, cfg.Password)
	if err != nil {
		return nil, fmt.Errorf("eventbus/kafka: dial: %w", err)
	}

	dialer := &kafka.Dialer{
		ClientID:      d.opts.clientID,
		Timeout:       d.opts.dialTimeout,
		DualStack:     true,
		TLS:           d.opts.tlsConfig,
		SASLMechanism: mech,
	}

	// Fail fast when no bootstrap broker is reachable.
	conn, err := dialAny(ctx, dialer, brokers)
	if err != nil {
		return nil, fmt.Errorf("eventbus/kafka: dial %v: %w", brokers, err)
	}
	_ = conn.Close()

	transport := &kafka.Transport{
		ClientID:    d.opts.clientID,
		DialTimeout: d.opts.dialTimeout,
		TLS:         d.opts.tlsConfig,
		SASL:        mech,
	}
	return &connection{brokers: brokers, dialer: dialer, transport: transport, opts: d.opts}, nil
}

func dialAny(ctx context.Context, dialer *kafka.Dialer, brokers []string) (*kafka.Conn, error) {
	if len(brokers) == 0 {
		return nil, errors.New("no brokers configured")
	}
	var errs []error
	for _, addr := range brokers {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			return conn, nil
		}
		errs = append(errs, err)
	}
	return nil, errors.Join(errs...)
}

type connection struct {
	brokers   []string
	dialer    *kafka.Dialer
	transport *kafka.Transport
	opts      options
}

func (c *connection) Channel(_ context.Context) (core.Channel, error) {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(c.brokers...),
		Balancer:               c.opts.balancer,
		BatchSize:              c.opts.batchSize,
		Async:                  c.opts.async,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: false,
		Transport:              c.transport,
	}
	return &channel{
		conn:    c,
		writer:  w,
		queues:  make(map[string]*queue),
		readers: make(map[string]*reader),
	}, nil
}

func (c *connection) Close() error {
	c.transport.CloseIdleConnections()
	return nil
}

// queue is the client-side record of a declared queue and its bindings.
type queue struct {
	opts     core.QueueOptions
	topic    string
	patterns []string
}

func (q *queue) matches(m core.TopicMatcher, routingKey string) bool {
	for _, p := range q.patterns {
		if m.Match(p, routingKey) {
			return true
		}
	}
	return false
}

type reader struct {
	r       *kafka.Reader
	offsets *offsets
	cancel  context.CancelFunc
	done    chan struct{}
}

type channel struct {
	conn    *connection
	writer  *kafka.Writer
	matcher core.DefaultMatcher

	mu      sync.Mutex
	queues  map[string]*queue
	readers map[string]*reader
}

func (c *channel) DeclareExchange(ctx context.Context, name, _ string, _ core.ExchangeOptions) error {
	err := c.createTopic(ctx, kafka.TopicConfig{
		Topic:             name,
		NumPartitions:     c.conn.opts.partitions,
		ReplicationFactor: c.conn.opts.replicationFactor,
	})
	if err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
		return fmt.Errorf("eventbus/kafka: create topic %q: %w", name, err)
	}
	return nil
}

// createTopic sends the request to the controller broker.
func (c *channel) createTopic(ctx context.Context, tc kafka.TopicConfig) error {
	conn, err := dialAny(ctx, c.conn.dialer, c.conn.brokers)
	if err != nil {
		return err
	}
	defer conn.Close()

	ctrl, err := conn.Controller()
	if err != nil {
		return err
	}
	cconn, err := c.conn.dialer.DialContext(ctx, "tcp", net.JoinHostPort(ctrl.Host, strconv.Itoa(ctrl.Port)))
	if err != nil {
		return err
	}
	defer cconn.Close()
	return cconn.CreateTopics(tc)
}

func (c *channel) DeclareQueue(_ context.Context, name string, o core.QueueOptions) (core.Queue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.queues[name]; !ok {
		c.queues[name] = &queue{opts: o}
	}
	return core.Queue{Name: name}, nil
}

func (c *channel) BindQueue(_ context.Context, queueName, exchange, routingKey string, _ core.Table) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	q, ok := c.queues[queueName]
	if !ok {
		return fmt.Errorf("eventbus/kafka: bind queue %q: queue not declared", queueName)
	}
	if q.topic != "" && q.topic != exchange {
		return fmt.Errorf("eventbus/kafka: bind queue %q: already bound to %q", queueName, q.topic)
	}
	q.topic = exchange
	for _, p := range q.patterns {
		if p == routingKey {
			return nil
		}
	}
	q.patterns = append(q.patterns, routingKey)
	return nil
}

func (c *channel) Publish(ctx context.Context, exchange, routingKey string, msg core.Publishing) error {
	if err := c.writer.WriteMessages(ctx, toMessage(exchange, routingKey, msg)); err != nil {
		return fmt.Errorf("eventbus/kafka: publish to %q: %w", routingKey, err)
	}
	return nil
}

func (c *channel) Consume(_ context.Context, queueName string, o core.ConsumeOptions) (<-chan core.Delivery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	q, ok := c.queues[queueName]
	if !ok || q.topic == "" {
		return nil, fmt.Errorf("eventbus/kafka: consume %q: queue has no bindings", queueName)
	}
	if _, ok := c.readers[o.ConsumerTag]; ok {
		return nil, fmt.Errorf("eventbus/kafka: consume %q: consumer tag %q in use", queueName, o.ConsumerTag)
	}

	opts := c.conn.opts
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     c.conn.brokers,
		GroupID:     queueName,
		Topic:       q.topic,
		MinBytes:    opts.minBytes,
		MaxBytes:    opts.maxBytes,
		MaxWait:     opts.maxWait,
		StartOffset: opts.startOffset,
		Dialer:      c.conn.dialer,
	})

	ctx, cancel := context.WithCancel(context.Background())
	rd := &reader{r: r, offsets: newOffsets(r), cancel: cancel, done: make(chan struct{})}
	c.readers[o.ConsumerTag] = rd

	out := make(chan core.Delivery)
	go c.consumeLoop(ctx, rd, q, o, out)
	return out, nil
}

// consumeLoop fetches records until ctx is cancelled and forwards the ones
// matching the queue's bindings. Records that are not forwarded, and
// auto-acked ones, are settled right away. Manual-ack records are settled by
// their Acknowledger.
func (c *channel) consumeLoop(ctx context.Context, rd *reader, q *queue, o core.ConsumeOptions, out chan<- core.Delivery) {
	defer close(rd.done)
	defer close(out)
	for {
		raw, err := rd.r.FetchMessage(ctx)
		if err != nil {
			// Cancel closes the reader, which ends the loop too.
			return
		}
		rd.offsets.track(raw)

		c.mu.Lock()
		match := q.matches(c.matcher, routingKeyOf(raw))
		c.mu.Unlock()

		if !match || o.AutoAck {
			if err := rd.offsets.settle(ctx, raw); err != nil {
				return
			}
			if !match {
				continue
			}
		}

		d := toDelivery(o.ConsumerTag, raw)
		if !o.AutoAck {
			d.Acknowledger = &acknowledger{offsets: rd.offsets, msg: raw}
		}
		select {
		case out <- d:
		case <-ctx.Done():
			return
		}
	}
}

func (c *channel) Cancel(_ context.Context, consumerTag string) error {
	c.mu.Lock()
	rd, ok := c.readers[consumerTag]
	delete(c.readers, consumerTag)
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("eventbus/kafka: cancel %q: unknown consumer", consumerTag)
	}
	return stopReader(rd)
}

func stopReader(rd *reader) error {
	rd.cancel()
	<-rd.done
	if err := rd.r.Close(); err != nil {
		return fmt.Errorf("eventbus/kafka: close reader: %w", err)
	}
	return nil
}

// Close closes all readers and flushes the writer.
func (c *channel) Close() error {
	c.mu.Lock()
	readers := c.readers
	c.readers = make(map[string]*reader)
	c.mu.Unlock()

	var errs []error
	for _, rd := range readers {
		if err := stopReader(rd); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.writer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("eventbus/kafka: close writer: %w", err))
	}
	return errors.Join(errs...)
}

// optsFromConfig extracts options from core.Config.Extra.
func optsFromConfig(cfg core.Config) []Option {
	var opts []Option
	if b, ok := cfg.ExtraBool("async"); ok {
		opts = append(opts, WithAsync(b))
	}
	if n, ok := cfg.ExtraInt("batch_size"); ok {
		opts = append(opts, WithBatchSize(n))
	}
	if n, ok := cfg.ExtraInt("max_bytes"); ok {
		opts = append(opts, WithMaxBytes(n))
	}
	if n, ok := cfg.ExtraInt("partitions"); ok {
		rf, _ := cfg.ExtraInt("replication_factor")
		if rf == 0 {
			rf = 1
		}
		opts = append(opts, WithTopicLayout(n, rf))
	}
	if s, ok := cfg.ExtraString("client_id"); ok {
		opts = append(opts, WithClientID(s))
	}
	if s, ok := cfg.ExtraString("sasl"); ok {
		opts = append(opts, WithSASL(s))
	}
	if s, ok := cfg.ExtraString("start_offset"); ok && s == "first" {
		opts = append(opts, WithStartOffset(kafka.FirstOffset))
	}
	return opts
}
