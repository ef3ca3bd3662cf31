package core

import (
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger used for diagnostics and listener failures.
func WithLogger(l logrus.FieldLogger) Option {
	return func(b *Bus) { b.logger = l }
}

// WithErrorHandler receives every listener and acknowledgement failure
// instead of the default error log.
func WithErrorHandler(fn func(error)) Option {
	return func(b *Bus) { b.onError = fn }
}

// WithMiddleware wraps every listener registered afterwards.
func WithMiddleware(mws ...Middleware) Option {
	return func(b *Bus) { b.middlewares = append(b.middlewares, mws...) }
}

// EmitOption configures a single Emit call.
type EmitOption func(*emitOptions)

type emitOptions struct {
	namespace   string
	props       Properties
	mandatory   bool
	contentType string
}

// WithNamespace overrides the configured namespace for one call.
func WithNamespace(ns string) EmitOption {
	return func(o *emitOptions) { o.namespace = ns }
}

// Transient publishes the message without persisting it on the broker.
func Transient() EmitOption {
	return func(o *emitOptions) { o.props.DeliveryMode = DeliveryTransient }
}

// WithHeaders sets message headers.
func WithHeaders(h Table) EmitOption {
	return func(o *emitOptions) {
		if o.props.Headers == nil {
			o.props.Headers = make(Table, len(h))
		}
		for k, v := range h {
			o.props.Headers[k] = v
		}
	}
}

// WithContentType overrides the content type derived from the payload.
func WithContentType(ct string) EmitOption {
	return func(o *emitOptions) { o.contentType = ct }
}

// WithMessageID sets the message id. A random id is used otherwise.
func WithMessageID(id string) EmitOption {
	return func(o *emitOptions) { o.props.MessageID = id }
}

// WithCorrelationID sets the correlation id.
func WithCorrelationID(id string) EmitOption {
	return func(o *emitOptions) { o.props.CorrelationID = id }
}

// WithPriority sets the message priority (0-9).
func WithPriority(p uint8) EmitOption {
	return func(o *emitOptions) { o.props.Priority = p }
}

// WithExpiration sets a per-message TTL.
func WithExpiration(d time.Duration) EmitOption {
	return func(o *emitOptions) { o.props.Expiration = strconv.FormatInt(d.Milliseconds(), 10) }
}

// Mandatory asks the broker to return the message when no queue is bound.
func Mandatory() EmitOption {
	return func(o *emitOptions) { o.mandatory = true }
}

// SubscribeOption configures a single On call.
type SubscribeOption func(*subscribeOptions)

type subscribeOptions struct {
	queue    QueueOptions
	consume  ConsumeOptions
	bindArgs Table
	requeue  bool
}

func defaultSubscribeOptions() subscribeOptions {
	return subscribeOptions{
		queue:   QueueOptions{Durable: true},
		consume: ConsumeOptions{AutoAck: true},
	}
}

// Durable controls whether the queue survives a broker restart.
func Durable(d bool) SubscribeOption {
	return func(o *subscribeOptions) { o.queue.Durable = d }
}

// Exclusive restricts the queue to the current connection.
func Exclusive(e bool) SubscribeOption {
	return func(o *subscribeOptions) { o.queue.Exclusive = e }
}

// ExclusiveConsumer asks the broker to make this the queue's only consumer.
func ExclusiveConsumer(e bool) SubscribeOption {
	return func(o *subscribeOptions) { o.consume.Exclusive = e }
}

// AutoDelete removes the queue once its last consumer is gone.
func AutoDelete(d bool) SubscribeOption {
	return func(o *subscribeOptions) { o.queue.AutoDelete = d }
}

// WithQueueArgs sets queue declaration arguments (x-message-ttl, ...).
func WithQueueArgs(args Table) SubscribeOption {
	return func(o *subscribeOptions) { o.queue.Args = args }
}

// WithBindArgs sets binding arguments.
func WithBindArgs(args Table) SubscribeOption {
	return func(o *subscribeOptions) { o.bindArgs = args }
}

// WithConsumerTag sets the consumer tag. A random tag is used otherwise.
func WithConsumerTag(tag string) SubscribeOption {
	return func(o *subscribeOptions) { o.consume.ConsumerTag = tag }
}

// ManualAck disables broker auto-ack. Each delivery is acked once all
// listeners returned nil and nacked otherwise, requeued if requeue is set.
func ManualAck(requeue bool) SubscribeOption {
	return func(o *subscribeOptions) {
		o.consume.AutoAck = false
		o.requeue = requeue
	}
}
