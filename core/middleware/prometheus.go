package middleware

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector is a MetricsCollector backed by a counter and a
// histogram, both labelled by exchange, routing key and outcome.
type PrometheusCollector struct {
	handled  *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

var _ MetricsCollector = (*PrometheusCollector)(nil)

// NewPrometheusCollector creates the metrics and registers them with reg.
// A nil reg means prometheus.DefaultRegisterer.
func NewPrometheusCollector(reg prometheus.Registerer, namespace string) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	labels := []string{"exchange", "routing_key", "outcome"}
	c := &PrometheusCollector{
		handled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "eventbus",
			Name:      "events_handled_total",
			Help:      "Number of listener invocations.",
		}, labels),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "eventbus",
			Name:      "event_handle_duration_seconds",
			Help:      "Listener processing time.",
			Buckets:   prometheus.DefBuckets,
		}, labels),
	}
	for _, col := range []prometheus.Collector{c.handled, c.duration} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *PrometheusCollector) EventHandled(exchange, routingKey string, d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.handled.WithLabelValues(exchange, routingKey, outcome).Inc()
	c.duration.WithLabelValues(exchange, routingKey, outcome).Observe(d.Seconds())
}
