package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// State is the lifecycle state of a Bus.
type State int32

const (
	Uninitialized State = iota
	Initializing
	Ready
	Closed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case Ready:
		return "ready"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Bus publishes events to a single topic exchange and subscribes listeners
// to it. One connection and one channel are shared by every operation.
type Bus struct {
	dialer      Dialer
	logger      logrus.FieldLogger
	onError     func(error)
	middlewares []Middleware
	debug       atomic.Bool

	initMu sync.Mutex // serializes Init and Close

	mu    sync.RWMutex
	state State
	cfg   Config
	conn  Connection
	ch    Channel

	consumersMu sync.Mutex
	consumers   map[string]*consumer

	inflight sync.WaitGroup
}

// New creates an uninitialized Bus on top of the given transport.
func New(d Dialer, opts ...Option) *Bus {
	b := &Bus{
		dialer:    d,
		logger:    logrus.StandardLogger().WithField("component", "eventbus"),
		consumers: make(map[string]*consumer),
	}
	for _, fn := range opts {
		fn(b)
	}
	return b
}

// State reports the current lifecycle state.
func (b *Bus) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Config returns the configuration the bus was initialized with.
func (b *Bus) Config() Config {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cfg
}

// SetDebug toggles diagnostic logging of every emit, binding and delivery.
func (b *Bus) SetDebug(on bool) {
	b.debug.Store(on)
	if on {
		b.debugf("Debug Mode On", nil)
	}
}

// Debug reports whether diagnostic logging is on.
func (b *Bus) Debug() bool { return b.debug.Load() }

// Init connects to the broker, opens the shared channel and declares the
// topic exchange named by cfg.Project. Only the first successful call does
// any of that; later calls merely switch debug logging on when cfg.Debug
// is set. A failed Init leaves the bus uninitialized so it can be retried.
func (b *Bus) Init(ctx context.Context, cfg Config) (*Bus, error) {
	b.initMu.Lock()
	defer b.initMu.Unlock()

	b.mu.Lock()
	switch b.state {
	case Closed:
		b.mu.Unlock()
		return b, ErrClosed
	case Ready:
		b.mu.Unlock()
		b.applyDebug(cfg)
		return b, nil
	}
	if b.dialer == nil {
		b.mu.Unlock()
		return b, ErrNoDialer
	}
	cfg = cfg.WithDefaults()
	b.state = Initializing
	b.mu.Unlock()

	conn, ch, err := b.setup(ctx, cfg)

	b.mu.Lock()
	if err != nil {
		b.state = Uninitialized
		b.mu.Unlock()
		return b, err
	}
	b.cfg, b.conn, b.ch = cfg, conn, ch
	b.state = Ready
	b.mu.Unlock()

	b.applyDebug(cfg)
	return b, nil
}

func (b *Bus) applyDebug(cfg Config) {
	if !cfg.Debug {
		return
	}
	b.SetDebug(true)
	b.debugf("Settings", logrus.Fields{"config": b.Config().String()})
}

func (b *Bus) setup(ctx context.Context, cfg Config) (Connection, Channel, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Hostname, cfg.Port)
	conn, err := b.dialer.Dial(ctx, cfg)
	if err != nil {
		return nil, nil, &OpError{Op: "dial " + addr, Kind: ErrConnection, Err: err}
	}
	ch, err := conn.Channel(ctx)
	if err != nil {
		_ = conn.Close()
		return nil, nil, &OpError{Op: "open channel", Kind: ErrConnection, Err: err}
	}
	if err := ch.DeclareExchange(ctx, cfg.Project, ExchangeKind, cfg.ExchangeOptions()); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, &OpError{Op: fmt.Sprintf("declare exchange %q", cfg.Project), Kind: ErrExchangeDeclaration, Err: err}
	}
	b.logger.WithFields(logrus.Fields{"exchange": cfg.Project, "addr": addr}).Info("Connected to broker")
	return conn, ch, nil
}

// session returns the shared channel and config, or the error matching the
// current state.
func (b *Bus) session() (Channel, Config, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	switch b.state {
	case Ready:
		return b.ch, b.cfg, nil
	case Closed:
		return nil, Config{}, ErrClosed
	}
	return nil, Config{}, ErrNotInitialized
}

// Emit publishes payload to the exchange under "<namespace>.<event>". The
// namespace is the configured one unless WithNamespace overrides it.
// Messages are persistent unless Transient is given. Emit does not wait for
// a broker confirmation.
func (b *Bus) Emit(ctx context.Context, event string, payload Payload, opts ...EmitOption) error {
	if event == "" {
		return ErrEmptyEvent
	}
	ch, cfg, err := b.session()
	if err != nil {
		return err
	}

	o := emitOptions{
		namespace: cfg.Namespace,
		props:     Properties{DeliveryMode: DeliveryPersistent},
	}
	for _, fn := range opts {
		fn(&o)
	}

	if payload == nil {
		payload = JSON(nil)
	}
	body, err := payload.Encode()
	if err != nil {
		return err
	}

	msg := Publishing{Properties: o.props, Mandatory: o.mandatory, Body: body}
	msg.ContentType = payload.ContentType()
	if o.contentType != "" {
		msg.ContentType = o.contentType
	}
	if msg.MessageID == "" {
		msg.MessageID = uuid.NewString()
	}
	msg.Timestamp = time.Now()
	msg.Type = event

	routingKey := RoutingKey(o.namespace, event)
	b.debugf("Emit Event", logrus.Fields{"event": event, "routing_key": routingKey, "message": string(body)})

	if err := ch.Publish(ctx, cfg.Project, routingKey, msg); err != nil {
		return &OpError{Op: fmt.Sprintf("publish %q", routingKey), Kind: ErrPublish, Err: err}
	}
	return nil
}

// EmitValue is Emit with the payload kind picked by PayloadOf.
func (b *Bus) EmitValue(ctx context.Context, event string, v any, opts ...EmitOption) error {
	return b.Emit(ctx, event, PayloadOf(v), opts...)
}

// On binds the queue "<namespace>-<event>" to the exchange under the pattern
// "<namespace>.<event>" and invokes l for every delivery. An empty namespace
// means the configured one. The event part may use topic wildcards.
//
// Calling On again for the same queue attaches l to the existing consumer,
// so one delivery reaches every listener of that queue. The consume options
// must then match the first call's, otherwise ErrConsumeMismatch is
// returned. Listeners run concurrently, one goroutine per delivery and
// listener; their errors and panics are reported to the error handler and
// never stop consumption.
//
// By default the broker acknowledges on delivery, so a message is lost if
// the process dies before the listener is done. Use ManualAck to change that.
func (b *Bus) On(ctx context.Context, namespace, event string, l Listener, opts ...SubscribeOption) (*Subscription, error) {
	if l == nil {
		return nil, ErrNoListener
	}
	if event == "" {
		return nil, ErrEmptyEvent
	}
	ch, cfg, err := b.session()
	if err != nil {
		return nil, err
	}
	if namespace == "" {
		namespace = cfg.Namespace
	}

	o := defaultSubscribeOptions()
	for _, fn := range opts {
		fn(&o)
	}

	queueName := QueueName(namespace, event)
	routingKey := RoutingKey(namespace, event)

	q, err := ch.DeclareQueue(ctx, queueName, o.queue)
	if err != nil {
		return nil, &OpError{Op: fmt.Sprintf("declare queue %q", queueName), Kind: ErrQueueDeclaration, Err: err}
	}
	if q.Name == "" {
		q.Name = queueName
	}
	if err := ch.BindQueue(ctx, q.Name, cfg.Project, routingKey, o.bindArgs); err != nil {
		return nil, &OpError{Op: fmt.Sprintf("bind queue %q to %q", q.Name, routingKey), Kind: ErrBind, Err: err}
	}
	b.debugf("Binding", logrus.Fields{"routing_key": routingKey, "queue": q.Name})

	listener := Chain(l, b.middlewares...)

	b.consumersMu.Lock()
	defer b.consumersMu.Unlock()

	// Close may have run since the session was taken.
	if _, _, err := b.session(); err != nil {
		return nil, err
	}

	c, ok := b.consumers[q.Name]
	if ok {
		if err := c.compatible(o); err != nil {
			return nil, &OpError{Op: fmt.Sprintf("consume %q", q.Name), Kind: ErrConsume, Err: err}
		}
	} else {
		if o.consume.ConsumerTag == "" {
			o.consume.ConsumerTag = "eventbus-" + uuid.NewString()
		}
		deliveries, err := ch.Consume(ctx, q.Name, o.consume)
		if err != nil {
			return nil, &OpError{Op: fmt.Sprintf("consume %q", q.Name), Kind: ErrConsume, Err: err}
		}
		c = newConsumer(b, q.Name, o)
		b.consumers[q.Name] = c
		b.inflight.Add(1)
		go c.run(deliveries)
	}
	id := c.add(listener)

	return &Subscription{Queue: q.Name, RoutingKey: routingKey, c: c, id: id}, nil
}

// Close cancels every consumer, closes the channel and the connection and
// waits for running listeners. Unsettled manual-ack deliveries are left to
// the broker to redeliver. A closed bus cannot be initialized again.
func (b *Bus) Close() error {
	b.initMu.Lock()
	defer b.initMu.Unlock()

	b.mu.Lock()
	prev := b.state
	b.state = Closed
	ch, conn := b.ch, b.conn
	b.mu.Unlock()
	if prev != Ready {
		return nil
	}

	ctx := context.Background()
	b.consumersMu.Lock()
	for name, c := range b.consumers {
		if err := ch.Cancel(ctx, c.tag); err != nil {
			b.logger.WithError(err).WithField("queue", name).Warn("Failed to cancel consumer")
		}
		delete(b.consumers, name)
	}
	b.consumersMu.Unlock()

	var errs []error
	if err := ch.Close(); err != nil {
		errs = append(errs, fmt.Errorf("eventbus: close channel: %w", err))
	}
	b.inflight.Wait()
	if err := conn.Close(); err != nil {
		errs = append(errs, fmt.Errorf("eventbus: close connection: %w", err))
	}
	return errors.Join(errs...)
}

func (b *Bus) cancel(ctx context.Context, s *Subscription) error {
	b.consumersMu.Lock()
	if s.c.remove(s.id) > 0 {
		b.consumersMu.Unlock()
		return nil
	}
	if b.consumers[s.c.queue] == s.c {
		delete(b.consumers, s.c.queue)
	}
	b.consumersMu.Unlock()

	ch, _, err := b.session()
	if err != nil {
		return err
	}
	if err := ch.Cancel(ctx, s.c.tag); err != nil {
		return fmt.Errorf("eventbus: cancel consumer %q: %w", s.c.tag, err)
	}
	return nil
}

func (b *Bus) debugf(msg string, fields logrus.Fields) {
	if !b.debug.Load() {
		return
	}
	b.logger.WithFields(fields).Info("Event: " + msg)
}

func (b *Bus) reportError(err error) {
	if b.onError != nil {
		b.onError(err)
		return
	}
	b.logger.WithError(err).Error("Listener failed")
}

// Subscription is one listener attached to a queue.
type Subscription struct {
	Queue      string
	RoutingKey string

	c    *consumer
	id   uint64
	once sync.Once
}

// Cancel detaches the listener. Cancelling the last listener of a queue
// stops the broker consumer; the queue and its binding stay in place.
func (s *Subscription) Cancel(ctx context.Context) error {
	var err error
	s.once.Do(func() { err = s.c.bus.cancel(ctx, s) })
	return err
}
