package broker_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miladsoleymani/eventbus/broker"
	"github.com/miladsoleymani/eventbus/core"
	"github.com/miladsoleymani/eventbus/internal/mock"
)

func TestOpen_RegisteredProtocol(t *testing.T) {
	mb := mock.NewBroker()
	var got core.Config
	broker.Register("mock", func(cfg core.Config) (core.Dialer, error) {
		got = cfg
		return mb, nil
	})
	assert.Contains(t, broker.Protocols(), "mock")

	bus, err := broker.Open(context.Background(), core.Config{Protocol: "mock", Project: "shop"})
	require.NoError(t, err)
	defer bus.Close()

	assert.Equal(t, core.Ready, bus.State())
	assert.Equal(t, "shop", got.Project)
	assert.Equal(t, core.DefaultNamespace, got.Namespace)
	assert.Equal(t, 1, mb.Dials)
}

func TestCreate_UnknownProtocol(t *testing.T) {
	_, err := broker.Create(core.Config{Protocol: "carrier-pigeon"})
	assert.ErrorIs(t, err, broker.ErrUnknownProtocol)
	assert.ErrorContains(t, err, "carrier-pigeon")
}

func TestCreate_FactoryError(t *testing.T) {
	boom := errors.New("boom")
	broker.Register("broken", func(core.Config) (core.Dialer, error) { return nil, boom })

	_, err := broker.Open(context.Background(), core.Config{Protocol: "broken"})
	assert.ErrorIs(t, err, boom)
}
