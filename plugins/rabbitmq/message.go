package rabbitmq

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/miladsoleymani/eventbus/core"
)

// acknowledger settles an amqp.Delivery.
type acknowledger struct {
	delivery amqp.Delivery
}

func (a *acknowledger) Ack() error {
	if err := a.delivery.Ack(false); err != nil {
		return fmt.Errorf("eventbus/rabbitmq: ack: %w", err)
	}
	return nil
}

func (a *acknowledger) Nack(requeue bool) error {
	if err := a.delivery.Nack(false, requeue); err != nil {
		return fmt.Errorf("eventbus/rabbitmq: nack: %w", err)
	}
	return nil
}

func toDelivery(d amqp.Delivery, autoAck bool) core.Delivery {
	out := core.Delivery{
		Properties: core.Properties{
			ContentType:     d.ContentType,
			ContentEncoding: d.ContentEncoding,
			Headers:         core.Table(d.Headers),
			DeliveryMode:    d.DeliveryMode,
			Priority:        d.Priority,
			CorrelationID:   d.CorrelationId,
			ReplyTo:         d.ReplyTo,
			Expiration:      d.Expiration,
			MessageID:       d.MessageId,
			Timestamp:       d.Timestamp,
			Type:            d.Type,
			AppID:           d.AppId,
		},
		Exchange:    d.Exchange,
		RoutingKey:  d.RoutingKey,
		ConsumerTag: d.ConsumerTag,
		DeliveryTag: d.DeliveryTag,
		Redelivered: d.Redelivered,
		Body:        d.Body,
	}
	if !autoAck {
		out.Acknowledger = &acknowledger{delivery: d}
	}
	return out
}

func toPublishing(m core.Publishing) amqp.Publishing {
	return amqp.Publishing{
		ContentType:     m.ContentType,
		ContentEncoding: m.ContentEncoding,
		Headers:         amqp.Table(m.Headers),
		DeliveryMode:    m.DeliveryMode,
		Priority:        m.Priority,
		CorrelationId:   m.CorrelationID,
		ReplyTo:         m.ReplyTo,
		Expiration:      m.Expiration,
		MessageId:       m.MessageID,
		Timestamp:       m.Timestamp,
		Type:            m.Type,
		AppId:           m.AppID,
		Body:            m.Body,
	}
}
