package mock

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/miladsoleymani/eventbus/core"
)

var (
	ErrNotFound           = errors.New("mock: NOT_FOUND")
	ErrPreconditionFailed = errors.New("mock: PRECONDITION_FAILED")
	ErrChannelClosed      = errors.New("mock: channel closed")
)

// Broker is an in-memory topic exchange broker implementing core.Dialer.
// Queues hand each message to one consumer, round robin.
type Broker struct {
	mu        sync.Mutex
	exchanges map[string]exchange
	queues    map[string]*queue
	published []Published
	matcher   core.TopicMatcher

	// Fault injection, checked on every call.
	DialErr    error
	ChannelErr error
	PublishErr error

	// Call counters.
	Dials            int
	ExchangeDeclares int
	QueueDeclares    int
	Binds            int
	Consumes         int
	Acks             int
	Nacks            int
	Requeued         int
}

// Published records a message accepted by Publish.
type Published struct {
	Exchange   string
	RoutingKey string
	Msg        core.Publishing
}

type exchange struct {
	kind string
	opts core.ExchangeOptions
}

type binding struct {
	exchange string
	pattern  string
}

type queue struct {
	b         *Broker
	name      string
	opts      core.QueueOptions
	bindings  []binding
	consumers []*consumer
	next      int
	backlog   []core.Delivery
	tag       uint64
}

// consumer buffers deliveries without limit; pump feeds them to out so the
// broker never blocks on a slow reader while holding its lock.
type consumer struct {
	tag     string
	ch      *Channel
	autoAck bool
	out     chan core.Delivery

	mu      sync.Mutex
	cond    *sync.Cond
	pending []core.Delivery
	closed  bool
}

func newConsumer(tag string, ch *Channel, autoAck bool) *consumer {
	c := &consumer{tag: tag, ch: ch, autoAck: autoAck, out: make(chan core.Delivery)}
	c.cond = sync.NewCond(&c.mu)
	go c.pump()
	return c
}

func (c *consumer) push(d core.Delivery) {
	c.mu.Lock()
	c.pending = append(c.pending, d)
	c.mu.Unlock()
	c.cond.Signal()
}

// stop marks c closed and returns the deliveries it never handed out.
// Callers hold b.mu.
func (c *consumer) stop() []core.Delivery {
	c.mu.Lock()
	c.closed = true
	left := c.pending
	c.pending = nil
	c.mu.Unlock()
	c.cond.Broadcast()
	return left
}

func (c *consumer) pump() {
	defer close(c.out)
	for {
		c.mu.Lock()
		for len(c.pending) == 0 && !c.closed {
			c.cond.Wait()
		}
		if c.closed {
			c.mu.Unlock()
			return
		}
		d := c.pending[0]
		c.pending = c.pending[1:]
		c.mu.Unlock()
		c.out <- d
	}
}

func NewBroker() *Broker {
	return &Broker{
		exchanges: make(map[string]exchange),
		queues:    make(map[string]*queue),
		matcher:   core.DefaultMatcher{},
	}
}

func (b *Broker) Dial(_ context.Context, _ core.Config) (core.Connection, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Dials++
	if b.DialErr != nil {
		return nil, b.DialErr
	}
	return &Connection{b: b}, nil
}

// Published returns all messages accepted by Publish.
func (b *Broker) Published() []Published {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Published, len(b.published))
	copy(out, b.published)
	return out
}

// Queue reports whether a queue exists and its consumer count.
func (b *Broker) Queue(name string) (exists bool, consumers int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[name]
	if !ok {
		return false, 0
	}
	return true, len(q.consumers)
}

// Backlog reports how many messages wait in a queue without a consumer.
func (b *Broker) Backlog(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.queues[name]; ok {
		return len(q.backlog)
	}
	return 0
}

// Exchange returns the declared properties of an exchange.
func (b *Broker) Exchange(name string) (kind string, opts core.ExchangeOptions, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ex, ok := b.exchanges[name]
	return ex.kind, ex.opts, ok
}

// Deliver routes a message as if another client had published it.
func (b *Broker) Deliver(exchangeName, routingKey string, msg core.Publishing) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.route(exchangeName, routingKey, msg)
}

// Connection is a mock core.Connection.
type Connection struct {
	b      *Broker
	mu     sync.Mutex
	closed bool
}

func (c *Connection) Channel(_ context.Context) (core.Channel, error) {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	if c.b.ChannelErr != nil {
		return nil, c.b.ChannelErr
	}
	return &Channel{b: c.b, conn: c}, nil
}

func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// IsClosed reports whether Close was called.
func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Channel is a mock core.Channel.
type Channel struct {
	b      *Broker
	conn   *Connection
	closed bool
}

func (c *Channel) DeclareExchange(_ context.Context, name, kind string, opts core.ExchangeOptions) error {
	b := c.b
	b.mu.Lock()
	defer b.mu.Unlock()
	if c.closed {
		return ErrChannelClosed
	}
	b.ExchangeDeclares++
	if ex, ok := b.exchanges[name]; ok {
		if ex.kind != kind || ex.opts.Durable != opts.Durable || ex.opts.AutoDelete != opts.AutoDelete {
			return fmt.Errorf("%w: inequivalent arg for exchange %q", ErrPreconditionFailed, name)
		}
		return nil
	}
	b.exchanges[name] = exchange{kind: kind, opts: opts}
	return nil
}

func (c *Channel) DeclareQueue(_ context.Context, name string, opts core.QueueOptions) (core.Queue, error) {
	b := c.b
	b.mu.Lock()
	defer b.mu.Unlock()
	if c.closed {
		return core.Queue{}, ErrChannelClosed
	}
	b.QueueDeclares++
	q, ok := b.queues[name]
	if ok {
		if q.opts.Durable != opts.Durable || q.opts.Exclusive != opts.Exclusive || q.opts.AutoDelete != opts.AutoDelete {
			return core.Queue{}, fmt.Errorf("%w: inequivalent arg for queue %q", ErrPreconditionFailed, name)
		}
	} else {
		q = &queue{b: b, name: name, opts: opts}
		b.queues[name] = q
	}
	return core.Queue{Name: name, Messages: len(q.backlog), Consumers: len(q.consumers)}, nil
}

func (c *Channel) BindQueue(_ context.Context, queueName, exchangeName, routingKey string, _ core.Table) error {
	b := c.b
	b.mu.Lock()
	defer b.mu.Unlock()
	if c.closed {
		return ErrChannelClosed
	}
	b.Binds++
	if _, ok := b.exchanges[exchangeName]; !ok {
		return fmt.Errorf("%w: no exchange %q", ErrNotFound, exchangeName)
	}
	q, ok := b.queues[queueName]
	if !ok {
		return fmt.Errorf("%w: no queue %q", ErrNotFound, queueName)
	}
	for _, bd := range q.bindings {
		if bd.exchange == exchangeName && bd.pattern == routingKey {
			return nil
		}
	}
	q.bindings = append(q.bindings, binding{exchange: exchangeName, pattern: routingKey})
	return nil
}

func (c *Channel) Publish(_ context.Context, exchangeName, routingKey string, msg core.Publishing) error {
	b := c.b
	b.mu.Lock()
	defer b.mu.Unlock()
	if c.closed {
		return ErrChannelClosed
	}
	if b.PublishErr != nil {
		return b.PublishErr
	}
	return b.route(exchangeName, routingKey, msg)
}

// route must be called with b.mu held.
func (b *Broker) route(exchangeName, routingKey string, msg core.Publishing) error {
	if _, ok := b.exchanges[exchangeName]; !ok {
		return fmt.Errorf("%w: no exchange %q", ErrNotFound, exchangeName)
	}
	b.published = append(b.published, Published{Exchange: exchangeName, RoutingKey: routingKey, Msg: msg})
	for _, q := range b.queues {
		for _, bd := range q.bindings {
			if bd.exchange == exchangeName && b.matcher.Match(bd.pattern, routingKey) {
				q.tag++
				q.enqueue(core.Delivery{
					Properties:  msg.Properties,
					Exchange:    exchangeName,
					RoutingKey:  routingKey,
					DeliveryTag: q.tag,
					Body:        append([]byte(nil), msg.Body...),
				})
				break
			}
		}
	}
	return nil
}

// enqueue hands d to the next consumer or keeps it in the backlog.
// Callers hold b.mu.
func (q *queue) enqueue(d core.Delivery) {
	if len(q.consumers) == 0 {
		q.backlog = append(q.backlog, d)
		return
	}
	c := q.consumers[q.next%len(q.consumers)]
	q.next++
	d.ConsumerTag = c.tag
	d.Acknowledger = nil
	if !c.autoAck {
		d.Acknowledger = &Ack{b: q.b, tag: d.DeliveryTag}
	}
	c.push(d)
}

// detach removes c from q and puts its undelivered messages back.
// Callers hold b.mu.
func (q *queue) detach(c *consumer) {
	for i, cons := range q.consumers {
		if cons == c {
			q.consumers = append(q.consumers[:i], q.consumers[i+1:]...)
			break
		}
	}
	for _, d := range c.stop() {
		q.enqueue(d)
	}
}

func (c *Channel) Consume(_ context.Context, queueName string, opts core.ConsumeOptions) (<-chan core.Delivery, error) {
	b := c.b
	b.mu.Lock()
	defer b.mu.Unlock()
	if c.closed {
		return nil, ErrChannelClosed
	}
	b.Consumes++
	q, ok := b.queues[queueName]
	if !ok {
		return nil, fmt.Errorf("%w: no queue %q", ErrNotFound, queueName)
	}
	cons := newConsumer(opts.ConsumerTag, c, opts.AutoAck)
	q.consumers = append(q.consumers, cons)
	backlog := q.backlog
	q.backlog = nil
	for _, d := range backlog {
		q.enqueue(d)
	}
	return cons.out, nil
}

func (c *Channel) Cancel(_ context.Context, consumerTag string) error {
	b := c.b
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, q := range b.queues {
		for _, cons := range q.consumers {
			if cons.tag == consumerTag {
				q.detach(cons)
				return nil
			}
		}
	}
	return fmt.Errorf("%w: no consumer %q", ErrNotFound, consumerTag)
}

func (c *Channel) Close() error {
	b := c.b
	b.mu.Lock()
	defer b.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	for _, q := range b.queues {
		var mine []*consumer
		for _, cons := range q.consumers {
			if cons.ch == c {
				mine = append(mine, cons)
			}
		}
		for _, cons := range mine {
			q.detach(cons)
		}
	}
	return nil
}

// DeleteExchange removes an exchange as if another client had deleted it.
func (b *Broker) DeleteExchange(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.exchanges, name)
}
