package core

import (
	"time"
)

// DeliveryMode values understood by every transport.
const (
	DeliveryTransient  uint8 = 1
	DeliveryPersistent uint8 = 2
)

// Properties are the message attributes that travel with the body.
type Properties struct {
	ContentType     string
	ContentEncoding string
	Headers         Table
	DeliveryMode    uint8
	Priority        uint8
	CorrelationID   string
	ReplyTo         string
	Expiration      string
	MessageID       string
	Timestamp       time.Time
	Type            string
	AppID           string
}

// Publishing is an outgoing message.
type Publishing struct {
	Properties
	Mandatory bool
	Body      []byte
}

// Acknowledger settles a delivery with the broker. Transports that deliver
// in auto-ack mode may leave it nil.
type Acknowledger interface {
	Ack() error
	Nack(requeue bool) error
}

// Delivery is a received message together with its envelope.
type Delivery struct {
	Properties

	Exchange    string
	RoutingKey  string
	ConsumerTag string
	DeliveryTag uint64
	Redelivered bool
	Body        []byte

	Acknowledger Acknowledger
}

// Text returns the body decoded as text.
func (d *Delivery) Text() string { return string(d.Body) }

// Bind decodes the body as JSON into v.
func (d *Delivery) Bind(v any) error {
	return JSONBinder{}.Bind(d.Body, v)
}

func (d *Delivery) ack() error {
	if d.Acknowledger == nil {
		return nil
	}
	return d.Acknowledger.Ack()
}

func (d *Delivery) nack(requeue bool) error {
	if d.Acknowledger == nil {
		return nil
	}
	return d.Acknowledger.Nack(requeue)
}

// Listener receives one delivery. content is the raw body as text, routingKey
// is the key the message was actually published under, which differs from the
// binding when the binding uses wildcards.
type Listener func(content string, routingKey string, d *Delivery) error

// Middleware wraps a Listener to add cross-cutting behavior.
type Middleware func(Listener) Listener

// Chain applies mws to l so that mws[0] is the outermost wrapper.
func Chain(l Listener, mws ...Middleware) Listener {
	for i := len(mws) - 1; i >= 0; i-- {
		l = mws[i](l)
	}
	return l
}
