// Package broker keeps a registry of transport plugins keyed by protocol.
// Plugins register themselves from init(), so importing one for its side
// effects is enough to make its protocol available to Open.
package broker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/miladsoleymani/eventbus/core"
)

// ErrUnknownProtocol is returned when no plugin is registered for a protocol.
var ErrUnknownProtocol = errors.New("eventbus: unknown protocol")

// Factory creates a Dialer from the given Config.
type Factory func(cfg core.Config) (core.Dialer, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register adds a factory for protocol. Plugins call this from init().
// A later registration for the same protocol replaces the earlier one.
func Register(protocol string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[protocol] = factory
}

// Protocols returns the registered protocol names, sorted.
func Protocols() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Create instantiates a dialer for cfg.Protocol using the registered factory.
func Create(cfg core.Config) (core.Dialer, error) {
	cfg = cfg.WithDefaults()

	mu.RLock()
	f, ok := factories[cfg.Protocol]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownProtocol, cfg.Protocol)
	}
	d, err := f(cfg)
	if err != nil {
		return nil, fmt.Errorf("eventbus: create %s dialer: %w", cfg.Protocol, err)
	}
	return d, nil
}

// Open creates a Bus for cfg.Protocol and initializes it.
func Open(ctx context.Context, cfg core.Config, opts ...core.Option) (*core.Bus, error) {
	d, err := Create(cfg)
	if err != nil {
		return nil, err
	}
	return core.New(d, opts...).Init(ctx, cfg)
}
