package nats

import (
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/spf13/cast"

	"github.com/miladsoleymani/eventbus/core"
)

// Message properties travel as headers. MessageID uses the JetStream
// dedup header so a republished id is dropped by the stream.
const (
	hdrContentType     = "Content-Type"
	hdrContentEncoding = "Content-Encoding"
	hdrDeliveryMode    = "Eventbus-Delivery-Mode"
	hdrPriority        = "Eventbus-Priority"
	hdrCorrelationID   = "Eventbus-Correlation-Id"
	hdrReplyTo         = "Eventbus-Reply-To"
	hdrExpiration      = "Eventbus-Expiration"
	hdrTimestamp       = "Eventbus-Timestamp"
	hdrType            = "Eventbus-Type"
	hdrAppID           = "Eventbus-App-Id"
	hdrMessageID       = nats.MsgIdHdr
)

var reserved = map[string]bool{
	hdrContentType: true, hdrContentEncoding: true, hdrDeliveryMode: true,
	hdrPriority: true, hdrCorrelationID: true, hdrReplyTo: true,
	hdrExpiration: true, hdrTimestamp: true, hdrType: true,
	hdrAppID: true, hdrMessageID: true,
}

// acknowledger settles a JetStream message. A nack without requeue
// terminates the message so it is never redelivered.
type acknowledger struct {
	msg jetstream.Msg
}

func (a *acknowledger) Ack() error {
	if err := a.msg.Ack(); err != nil {
		return fmt.Errorf("eventbus/nats: ack: %w", err)
	}
	return nil
}

func (a *acknowledger) Nack(requeue bool) error {
	var err error
	if requeue {
		err = a.msg.Nak()
	} else {
		err = a.msg.Term()
	}
	if err != nil {
		return fmt.Errorf("eventbus/nats: nack: %w", err)
	}
	return nil
}

func toMsg(subject string, m core.Publishing) *nats.Msg {
	h := nats.Header{}
	for k, v := range m.Headers {
		h.Set(k, cast.ToString(v))
	}
	set := func(k, v string) {
		if v != "" {
			h.Set(k, v)
		}
	}
	set(hdrContentType, m.ContentType)
	set(hdrContentEncoding, m.ContentEncoding)
	set(hdrCorrelationID, m.CorrelationID)
	set(hdrReplyTo, m.ReplyTo)
	set(hdrExpiration, m.Expiration)
	set(hdrType, m.Type)
	set(hdrAppID, m.AppID)
	set(hdrMessageID, m.MessageID)
	if m.DeliveryMode != 0 {
		h.Set(hdrDeliveryMode, cast.ToString(m.DeliveryMode))
	}
	if m.Priority != 0 {
		h.Set(hdrPriority, cast.ToString(m.Priority))
	}
	if !m.Timestamp.IsZero() {
		h.Set(hdrTimestamp, m.Timestamp.UTC().Format(time.RFC3339Nano))
	}
	return &nats.Msg{Subject: subject, Data: m.Body, Header: h}
}

func toDelivery(exchange, consumerTag string, m jetstream.Msg, autoAck bool) core.Delivery {
	h := m.Headers()
	d := core.Delivery{
		Properties: core.Properties{
			ContentType:     h.Get(hdrContentType),
			ContentEncoding: h.Get(hdrContentEncoding),
			DeliveryMode:    cast.ToUint8(h.Get(hdrDeliveryMode)),
			Priority:        cast.ToUint8(h.Get(hdrPriority)),
			CorrelationID:   h.Get(hdrCorrelationID),
			ReplyTo:         h.Get(hdrReplyTo),
			Expiration:      h.Get(hdrExpiration),
			MessageID:       h.Get(hdrMessageID),
			Type:            h.Get(hdrType),
			AppID:           h.Get(hdrAppID),
		},
		Exchange:    exchange,
		RoutingKey:  strings.TrimPrefix(m.Subject(), exchange+"."),
		ConsumerTag: consumerTag,
		Body:        m.Data(),
	}
	for k, v := range h {
		if reserved[k] || len(v) == 0 {
			continue
		}
		if d.Headers == nil {
			d.Headers = core.Table{}
		}
		d.Headers[k] = v[0]
	}
	if ts, err := time.Parse(time.RFC3339Nano, h.Get(hdrTimestamp)); err == nil {
		d.Timestamp = ts
	}
	if md, err := m.Metadata(); err == nil {
		d.DeliveryTag = md.Sequence.Stream
		d.Redelivered = md.NumDelivered > 1
		if d.Timestamp.IsZero() {
			d.Timestamp = md.Timestamp
		}
	}
	if !autoAck {
		d.Acknowledger = &acknowledger{msg: m}
	}
	return d
}
