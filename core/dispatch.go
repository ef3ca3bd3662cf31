package core

import (
	"fmt"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// consumer owns one broker consumer and fans each delivery out to the
// listeners attached to its queue.
type consumer struct {
	bus       *Bus
	queue     string
	tag       string
	autoAck   bool
	requeue   bool
	exclusive bool

	mu        sync.RWMutex
	listeners map[uint64]Listener
	nextID    uint64
}

func newConsumer(b *Bus, queue string, o subscribeOptions) *consumer {
	return &consumer{
		bus:       b,
		queue:     queue,
		tag:       o.consume.ConsumerTag,
		autoAck:   o.consume.AutoAck,
		requeue:   o.requeue,
		exclusive: o.consume.Exclusive,
		listeners: make(map[uint64]Listener),
	}
}

// compatible reports whether a listener subscribing with o can share c.
func (c *consumer) compatible(o subscribeOptions) error {
	switch {
	case o.consume.AutoAck != c.autoAck:
		return fmt.Errorf("%w: auto-ack is %v on the running consumer", ErrConsumeMismatch, c.autoAck)
	case !c.autoAck && o.requeue != c.requeue:
		return fmt.Errorf("%w: requeue is %v on the running consumer", ErrConsumeMismatch, c.requeue)
	case o.consume.Exclusive != c.exclusive:
		return fmt.Errorf("%w: exclusive is %v on the running consumer", ErrConsumeMismatch, c.exclusive)
	case o.consume.ConsumerTag != "" && o.consume.ConsumerTag != c.tag:
		return fmt.Errorf("%w: running consumer has tag %q", ErrConsumeMismatch, c.tag)
	}
	return nil
}

func (c *consumer) add(l Listener) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	c.listeners[c.nextID] = l
	return c.nextID
}

// remove detaches a listener and returns how many are left.
func (c *consumer) remove(id uint64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.listeners, id)
	return len(c.listeners)
}

// snapshot returns the listeners in registration order.
func (c *consumer) snapshot() []Listener {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]uint64, 0, len(c.listeners))
	for id := range c.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]Listener, len(ids))
	for i, id := range ids {
		out[i] = c.listeners[id]
	}
	return out
}

// run reads deliveries until the broker closes the stream.
func (c *consumer) run(deliveries <-chan Delivery) {
	defer c.bus.inflight.Done()

	log := c.bus.logger.WithFields(logrus.Fields{"queue": c.queue, "consumer_tag": c.tag})
	log.Debug("Consumer started")

	for d := range deliveries {
		c.bus.debugf("Receive Message", logrus.Fields{
			"queue":        c.queue,
			"exchange":     d.Exchange,
			"routing_key":  d.RoutingKey,
			"redelivered":  d.Redelivered,
			"consumer_tag": d.ConsumerTag,
			"content":      string(d.Body),
		})
		c.bus.inflight.Add(1)
		go c.dispatch(d, c.snapshot())
	}

	log.Debug("Consumer closed")
}

// dispatch runs every listener on its own goroutine and, in manual ack mode,
// settles the delivery once all of them are done.
func (c *consumer) dispatch(d Delivery, listeners []Listener) {
	defer c.bus.inflight.Done()

	content := string(d.Body)
	var (
		wg     sync.WaitGroup
		failed atomic.Bool
	)
	for _, l := range listeners {
		wg.Add(1)
		dc := d
		go func(l Listener) {
			defer wg.Done()
			if err := invoke(l, content, &dc); err != nil {
				failed.Store(true)
				c.bus.reportError(&ListenerError{Queue: c.queue, RoutingKey: d.RoutingKey, Err: err})
			}
		}(l)
	}
	wg.Wait()

	// Without listeners the subscription is being cancelled. The delivery is
	// left unsettled so the broker hands it out again once the consumer is gone.
	if c.autoAck || len(listeners) == 0 {
		return
	}
	var err error
	if failed.Load() {
		err = d.nack(c.requeue)
	} else {
		err = d.ack()
	}
	if err != nil {
		c.bus.reportError(fmt.Errorf("eventbus: settle delivery %d on queue %q: %w", d.DeliveryTag, c.queue, err))
	}
}

// invoke calls l and turns a panic into an error carrying the stack.
func invoke(l Listener, content string, d *Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			err = fmt.Errorf("eventbus: panic recovered: %v\n%s", r, buf[:n])
		}
	}()
	return l(content, d.RoutingKey, d)
}
