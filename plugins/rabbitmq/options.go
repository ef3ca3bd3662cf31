package rabbitmq

import (
	"crypto/tls"
	"time"
)

// Option configures the RabbitMQ dialer.
type Option func(*options)

type options struct {
	prefetchCount  int
	heartbeat      time.Duration
	locale         string
	connectionName string
	tlsConfig      *tls.Config
}

func defaults() options {
	return options{
		prefetchCount: 10,
		heartbeat:     10 * time.Second,
		locale:        "en_US",
	}
}

// WithPrefetchCount sets how many unacknowledged messages a consumer may hold.
// Zero means unlimited.
func WithPrefetchCount(n int) Option {
	return func(o *options) { o.prefetchCount = n }
}

// WithHeartbeat sets the connection heartbeat interval.
func WithHeartbeat(d time.Duration) Option {
	return func(o *options) { o.heartbeat = d }
}

// WithLocale sets the connection locale.
func WithLocale(l string) Option {
	return func(o *options) { o.locale = l }
}

// WithConnectionName sets the client-provided connection name shown in the
// management UI.
func WithConnectionName(name string) Option {
	return func(o *options) { o.connectionName = name }
}

// WithTLS enables TLS with the given config. The amqps protocol turns it on
// with a default config.
func WithTLS(cfg *tls.Config) Option {
	return func(o *options) { o.tlsConfig = cfg }
}
