package middleware

import (
	"time"

	"github.com/miladsoleymani/eventbus/core"
)

// MetricsCollector is the interface that metrics backends must implement.
type MetricsCollector interface {
	// EventHandled records one listener invocation. err is nil on success.
	EventHandled(exchange, routingKey string, duration time.Duration, err error)
}

// Metrics returns middleware that reports listener timings to collector.
func Metrics(collector MetricsCollector) core.Middleware {
	return func(next core.Listener) core.Listener {
		return func(content, routingKey string, d *core.Delivery) error {
			start := time.Now()
			err := next(content, routingKey, d)
			collector.EventHandled(d.Exchange, routingKey, time.Since(start), err)
			return err
		}
	}
}
