package core

import (
	"errors"
	"sync"
	"testing"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
)

type recordingAck struct {
	mu    sync.Mutex
	acks  int
	nacks []bool
}

func (a *recordingAck) Ack() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acks++
	return nil
}

func (a *recordingAck) Nack(requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacks = append(a.nacks, requeue)
	return nil
}

func dispatchOnce(o subscribeOptions, listeners ...Listener) *recordingAck {
	logger, _ := logtest.NewNullLogger()
	b := New(nil, WithLogger(logger), WithErrorHandler(func(error) {}))
	c := newConsumer(b, "orders.created", o)

	ack := &recordingAck{}
	b.inflight.Add(1)
	c.dispatch(Delivery{Body: []byte("x"), Acknowledger: ack}, listeners)
	b.inflight.Wait()
	return ack
}

func TestDispatch_Settlement(t *testing.T) {
	ok := func(string, string, *Delivery) error { return nil }
	fail := func(string, string, *Delivery) error { return errors.New("boom") }
	manual := func(requeue bool) subscribeOptions {
		o := defaultSubscribeOptions()
		ManualAck(requeue)(&o)
		return o
	}

	tests := []struct {
		name      string
		opts      subscribeOptions
		listeners []Listener
		acks      int
		nacks     []bool
	}{
		{"all listeners succeed", manual(true), []Listener{ok, ok}, 1, nil},
		{"one listener fails", manual(true), []Listener{ok, fail}, 0, []bool{true}},
		{"failure without requeue", manual(false), []Listener{fail}, 0, []bool{false}},
		{"no listeners left", manual(true), nil, 0, nil},
		{"auto ack", defaultSubscribeOptions(), []Listener{fail}, 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ack := dispatchOnce(tt.opts, tt.listeners...)
			assert.Equal(t, tt.acks, ack.acks)
			assert.Equal(t, tt.nacks, ack.nacks)
		})
	}
}
