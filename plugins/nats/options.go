package nats

import (
	"crypto/tls"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// Option configures the NATS dialer.
type Option func(*options)

type options struct {
	// Connection
	connectionName string
	maxReconnects  int
	reconnectWait  time.Duration
	tlsConfig      *tls.Config

	// Stream
	maxMsgs   int64
	maxBytes  int64
	maxAge    time.Duration
	replicas  int
	retention jetstream.RetentionPolicy

	// Consumer
	ackWait           time.Duration
	maxDeliver        int
	inactiveThreshold time.Duration
}

func defaults() options {
	return options{
		maxReconnects:     60,
		reconnectWait:     2 * time.Second,
		maxMsgs:           -1, // unlimited
		maxBytes:          -1,
		maxAge:            0,
		replicas:          1,
		retention:         jetstream.LimitsPolicy,
		ackWait:           30 * time.Second,
		maxDeliver:        5,
		inactiveThreshold: 5 * time.Minute,
	}
}

// WithConnectionName sets the client name reported to the server.
func WithConnectionName(name string) Option {
	return func(o *options) { o.connectionName = name }
}

// WithReconnect sets how often and how many times a dropped connection is retried.
func WithReconnect(max int, wait time.Duration) Option {
	return func(o *options) {
		o.maxReconnects = max
		o.reconnectWait = wait
	}
}

// WithTLS enables TLS with the given config.
func WithTLS(cfg *tls.Config) Option {
	return func(o *options) { o.tlsConfig = cfg }
}

// WithMaxMessages sets the maximum number of messages per stream.
func WithMaxMessages(n int64) Option {
	return func(o *options) { o.maxMsgs = n }
}

// WithMaxBytes sets the maximum total size of a stream.
func WithMaxBytes(n int64) Option {
	return func(o *options) { o.maxBytes = n }
}

// WithMaxAge sets the maximum age of messages in the stream.
func WithMaxAge(d time.Duration) Option {
	return func(o *options) { o.maxAge = d }
}

// WithReplicas sets the stream replication factor.
func WithReplicas(n int) Option {
	return func(o *options) { o.replicas = n }
}

// WithRetention sets the stream retention policy.
func WithRetention(r jetstream.RetentionPolicy) Option {
	return func(o *options) { o.retention = r }
}

// WithAckWait sets how long the server waits for an ack before redelivering.
func WithAckWait(d time.Duration) Option {
	return func(o *options) { o.ackWait = d }
}

// WithMaxDeliver sets the maximum number of delivery attempts.
func WithMaxDeliver(n int) Option {
	return func(o *options) { o.maxDeliver = n }
}

// WithInactiveThreshold sets how long a non-durable queue's consumer
// survives without subscribers before the server removes it.
func WithInactiveThreshold(d time.Duration) Option {
	return func(o *options) { o.inactiveThreshold = d }
}
