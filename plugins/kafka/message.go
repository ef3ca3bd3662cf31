package kafka

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/spf13/cast"

	"github.com/miladsoleymani/eventbus/core"
)

// Message properties travel as record headers.
const (
	hdrRoutingKey      = "routing-key"
	hdrContentType     = "content-type"
	hdrContentEncoding = "content-encoding"
	hdrDeliveryMode    = "delivery-mode"
	hdrPriority        = "priority"
	hdrCorrelationID   = "correlation-id"
	hdrReplyTo         = "reply-to"
	hdrExpiration      = "expiration"
	hdrMessageID       = "message-id"
	hdrType            = "type"
	hdrAppID           = "app-id"
)

type committer interface {
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// offsets commits a consumer group's progress per partition. Records are
// tracked in fetch order and the committed offset only moves over a run of
// settled records, so an unsettled record is never skipped by a later commit.
type offsets struct {
	mu         sync.Mutex
	committer  committer
	partitions map[int]*partitionOffsets
}

type partitionOffsets struct {
	pending []kafka.Message
	settled map[int64]bool
}

func newOffsets(c committer) *offsets {
	return &offsets{committer: c, partitions: make(map[int]*partitionOffsets)}
}

// track registers a fetched record. A record at or below the last tracked
// offset means the reader rewound to the committed offset after a rebalance,
// so the partition starts over.
func (o *offsets) track(m kafka.Message) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p, ok := o.partitions[m.Partition]
	if ok && len(p.pending) > 0 && m.Offset <= p.pending[len(p.pending)-1].Offset {
		ok = false
	}
	if !ok {
		p = &partitionOffsets{settled: make(map[int64]bool)}
		o.partitions[m.Partition] = p
	}
	p.pending = append(p.pending, m)
}

// settle marks m as done and commits the highest offset below which every
// tracked record of the partition is settled.
func (o *offsets) settle(ctx context.Context, m kafka.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	p, ok := o.partitions[m.Partition]
	if !ok || len(p.pending) == 0 || m.Offset < p.pending[0].Offset {
		return nil
	}
	p.settled[m.Offset] = true

	var last *kafka.Message
	for len(p.pending) > 0 && p.settled[p.pending[0].Offset] {
		last = &p.pending[0]
		delete(p.settled, last.Offset)
		p.pending = p.pending[1:]
	}
	if last == nil {
		return nil
	}
	if err := o.committer.CommitMessages(ctx, *last); err != nil {
		return fmt.Errorf("eventbus/kafka: commit offset %d on partition %d: %w", last.Offset, last.Partition, err)
	}
	return nil
}

// acknowledger settles one record through its reader's offsets.
type acknowledger struct {
	offsets *offsets
	msg     kafka.Message
}

func (a *acknowledger) Ack() error {
	return a.offsets.settle(context.Background(), a.msg)
}

// Nack with requeue leaves the record unsettled. Its partition stops
// committing at that offset, so the record and the ones after it are
// redelivered after the next rebalance or restart. Without requeue the
// record is settled and dropped.
func (a *acknowledger) Nack(requeue bool) error {
	if requeue {
		return nil
	}
	return a.Ack()
}

func toMessage(topic, routingKey string, m core.Publishing) kafka.Message {
	headers := []kafka.Header{{Key: hdrRoutingKey, Value: []byte(routingKey)}}
	add := func(k, v string) {
		if v != "" {
			headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
		}
	}
	add(hdrContentType, m.ContentType)
	add(hdrContentEncoding, m.ContentEncoding)
	add(hdrCorrelationID, m.CorrelationID)
	add(hdrReplyTo, m.ReplyTo)
	add(hdrExpiration, m.Expiration)
	add(hdrMessageID, m.MessageID)
	add(hdrType, m.Type)
	add(hdrAppID, m.AppID)
	if m.DeliveryMode != 0 {
		add(hdrDeliveryMode, cast.ToString(m.DeliveryMode))
	}
	if m.Priority != 0 {
		add(hdrPriority, cast.ToString(m.Priority))
	}
	for k, v := range m.Headers {
		add(k, cast.ToString(v))
	}

	ts := m.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return kafka.Message{
		Topic:   topic,
		Key:     []byte(routingKey),
		Value:   m.Body,
		Headers: headers,
		Time:    ts,
	}
}

// routingKeyOf prefers the routing-key header and falls back to the record key.
func routingKeyOf(m kafka.Message) string {
	for _, h := range m.Headers {
		if h.Key == hdrRoutingKey {
			return string(h.Value)
		}
	}
	return string(m.Key)
}

func toDelivery(consumerTag string, m kafka.Message) core.Delivery {
	d := core.Delivery{
		Properties:  core.Properties{Timestamp: m.Time},
		Exchange:    m.Topic,
		RoutingKey:  routingKeyOf(m),
		ConsumerTag: consumerTag,
		DeliveryTag: uint64(m.Offset),
		Body:        m.Value,
	}
	for _, h := range m.Headers {
		v := string(h.Value)
		switch h.Key {
		case hdrRoutingKey:
		case hdrContentType:
			d.ContentType = v
		case hdrContentEncoding:
			d.ContentEncoding = v
		case hdrDeliveryMode:
			d.DeliveryMode = cast.ToUint8(v)
		case hdrPriority:
			d.Priority = cast.ToUint8(v)
		case hdrCorrelationID:
			d.CorrelationID = v
		case hdrReplyTo:
			d.ReplyTo = v
		case hdrExpiration:
			d.Expiration = v
		case hdrMessageID:
			d.MessageID = v
		case hdrType:
			d.Type = v
		case hdrAppID:
			d.AppID = v
		default:
			if d.Headers == nil {
				d.Headers = core.Table{}
			}
			d.Headers[h.Key] = v
		}
	}
	return d
}
