// Package eventbus provides the top-level API for the event bus.
// It re-exports core types for convenience, so users can write:
//
//	bus, err := eventbus.Open(ctx, cfg)
//	bus.On(ctx, "global", "user.created", listener)
//	bus.Emit(ctx, "user.created", eventbus.Text("hello"))
package eventbus

import (
	"context"

	"github.com/miladsoleymani/eventbus/broker"
	"github.com/miladsoleymani/eventbus/core"
)

// Re-export core types at the package level for ergonomic usage.
type (
	Bus          = core.Bus
	Config       = core.Config
	Dialer       = core.Dialer
	Delivery     = core.Delivery
	Listener     = core.Listener
	Middleware   = core.Middleware
	Payload      = core.Payload
	Text         = core.Text
	Subscription = core.Subscription
)

// JSON wraps v as a JSON payload.
func JSON(v any) Payload { return core.JSON(v) }

// New creates an uninitialized Bus that dials through d.
func New(d Dialer, opts ...core.Option) *Bus {
	return core.New(d, opts...)
}

// Open creates and initializes a Bus for cfg.Protocol. The transport
// plugin for the protocol must be imported for its side effects.
func Open(ctx context.Context, cfg Config, opts ...core.Option) (*Bus, error) {
	return broker.Open(ctx, cfg, opts...)
}

// ParseConfig normalizes a loosely typed mapping into a Config.
func ParseConfig(m map[string]any) (Config, error) {
	return core.ParseConfig(m)
}
