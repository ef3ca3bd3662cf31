package core

import "errors"

var (
	// ErrNotInitialized is returned when Emit or On is called before Init completed.
	ErrNotInitialized = errors.New("eventbus: bus is not initialized")

	// ErrClosed is returned when operations are attempted on a closed bus.
	ErrClosed = errors.New("eventbus: bus is closed")

	// ErrConnection classifies dial and channel failures (unreachable broker, bad credentials).
	ErrConnection = errors.New("eventbus: connection failed")

	// ErrExchangeDeclaration classifies an exchange redeclared with incompatible properties.
	ErrExchangeDeclaration = errors.New("eventbus: exchange declaration failed")

	// ErrQueueDeclaration classifies a queue redeclared with incompatible properties.
	ErrQueueDeclaration = errors.New("eventbus: queue declaration failed")

	// ErrBind classifies binding failures, usually a missing exchange.
	ErrBind = errors.New("eventbus: queue bind failed")

	// ErrPublish classifies publish failures (closed channel, unknown exchange).
	ErrPublish = errors.New("eventbus: publish failed")

	// ErrConsume classifies failures to start a consumer.
	ErrConsume = errors.New("eventbus: consume failed")

	// ErrConsumeMismatch is returned when On targets a queue that already has a
	// consumer running with different consume options.
	ErrConsumeMismatch = errors.New("eventbus: consume options differ from the running consumer")

	// ErrNoDialer is returned when a bus is created without a transport.
	ErrNoDialer = errors.New("eventbus: dialer is nil")

	// ErrNoListener is returned when On is called with a nil listener.
	ErrNoListener = errors.New("eventbus: listener is nil")

	// ErrEmptyEvent is returned when an event name is empty.
	ErrEmptyEvent = errors.New("eventbus: event name is empty")
)

// OpError records the bus operation that failed. Both Kind (one of the
// sentinels above) and the transport's own error are reachable through
// errors.Is / errors.As.
type OpError struct {
	Op   string
	Kind error
	Err  error
}

func (e *OpError) Error() string {
	return "eventbus: " + e.Op + ": " + e.Err.Error()
}

func (e *OpError) Unwrap() []error { return []error{e.Kind, e.Err} }

// ListenerError is reported when a listener returns an error or panics.
type ListenerError struct {
	Queue      string
	RoutingKey string
	Err        error
}

func (e *ListenerError) Error() string {
	return "eventbus: listener on queue " + e.Queue + " (routing key " + e.RoutingKey + "): " + e.Err.Error()
}

func (e *ListenerError) Unwrap() error { return e.Err }
