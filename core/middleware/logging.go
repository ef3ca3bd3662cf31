package middleware

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/miladsoleymani/eventbus/core"
)

// Logging returns middleware that logs every delivery with its processing
// time and outcome.
func Logging(logger logrus.FieldLogger) core.Middleware {
	return func(next core.Listener) core.Listener {
		return func(content, routingKey string, d *core.Delivery) error {
			start := time.Now()
			err := next(content, routingKey, d)

			entry := logger.WithFields(logrus.Fields{
				"routing_key": routingKey,
				"exchange":    d.Exchange,
				"message_id":  d.MessageID,
				"elapsed":     time.Since(start),
			})
			if err != nil {
				entry.WithError(err).Error("Event handling failed")
			} else {
				entry.Info("Event handled")
			}
			return err
		}
	}
}
