package mock

import "sync/atomic"

// Ack is the Acknowledger attached to manual-ack deliveries. Settlements are
// counted on the owning Broker.
type Ack struct {
	b       *Broker
	tag     uint64
	settled atomic.Bool
}

func (a *Ack) Ack() error {
	if !a.settled.CompareAndSwap(false, true) {
		return ErrPreconditionFailed
	}
	a.b.mu.Lock()
	a.b.Acks++
	a.b.mu.Unlock()
	return nil
}

func (a *Ack) Nack(requeue bool) error {
	if !a.settled.CompareAndSwap(false, true) {
		return ErrPreconditionFailed
	}
	a.b.mu.Lock()
	a.b.Nacks++
	if requeue {
		a.b.Requeued++
	}
	a.b.mu.Unlock()
	return nil
}

// Settlements returns the ack, nack and requeue counters.
func (b *Broker) Settlements() (acks, nacks, requeued int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Acks, b.Nacks, b.Requeued
}
