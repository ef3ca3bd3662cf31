package kafka

import (
	"crypto/tls"
	"time"

	"github.com/segmentio/kafka-go"
)

// Option configures the Kafka dialer.
type Option func(*options)

type options struct {
	// Writer
	balancer  kafka.Balancer
	batchSize int
	async     bool

	// Reader
	minBytes    int
	maxBytes    int
	maxWait     time.Duration
	startOffset int64

	// Topics
	partitions        int
	replicationFactor int

	// General
	clientID    string
	dialTimeout time.Duration
	tlsConfig   *tls.Config
	sasl        string
}

func defaults() options {
	return options{
		balancer:          &kafka.Hash{},
		batchSize:         100,
		minBytes:          1,
		maxBytes:          10e6, // 10 MB
		maxWait:           500 * time.Millisecond,
		startOffset:       kafka.LastOffset,
		partitions:        1,
		replicationFactor: 1,
		clientID:          "eventbus",
		dialTimeout:       10 * time.Second,
	}
}

// WithBalancer sets the partition balancer for the writer. The default
// hashes the routing key so events with the same key stay ordered.
func WithBalancer(b kafka.Balancer) Option {
	return func(o *options) { o.balancer = b }
}

// WithBatchSize sets the maximum batch size for writes.
func WithBatchSize(n int) Option {
	return func(o *options) { o.batchSize = n }
}

// WithAsync enables asynchronous writes. Publish errors are then lost.
func WithAsync(async bool) Option {
	return func(o *options) { o.async = async }
}

// WithMaxBytes sets the maximum bytes per fetch.
func WithMaxBytes(n int) Option {
	return func(o *options) { o.maxBytes = n }
}

// WithMaxWait sets the maximum wait time for fetches.
func WithMaxWait(d time.Duration) Option {
	return func(o *options) { o.maxWait = d }
}

// WithStartOffset sets where a new consumer group starts (kafka.FirstOffset or kafka.LastOffset).
func WithStartOffset(offset int64) Option {
	return func(o *options) { o.startOffset = offset }
}

// WithTopicLayout sets the partition count and replication factor used
// when an exchange topic is created.
func WithTopicLayout(partitions, replicationFactor int) Option {
	return func(o *options) {
		o.partitions = partitions
		o.replicationFactor = replicationFactor
	}
}

// WithClientID sets the client id sent to the brokers.
func WithClientID(id string) Option {
	return func(o *options) { o.clientID = id }
}

// WithDialTimeout bounds every broker dial.
func WithDialTimeout(d time.Duration) Option {
	return func(o *options) { o.dialTimeout = d }
}

// WithTLS enables TLS with the given config.
func WithTLS(cfg *tls.Config) Option {
	return func(o *options) { o.tlsConfig = cfg }
}

// WithSASL authenticates with the config's username and password using
// mechanism: "plain", "scram-sha-256" or "scram-sha-512".
func WithSASL(mechanism string) Option {
	return func(o *options) { o.sasl = mechanism }
}
