package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultMatcher(t *testing.T) {
	m := DefaultMatcher{}

	tests := []struct {
		pattern string
		key     string
		want    bool
	}{
		// Exact match
		{"orders.created", "orders.created", true},
		{"orders.created", "orders.updated", false},
		{"orders", "orders", true},

		// Single word
		{"orders.*", "orders.created", true},
		{"orders.*", "orders.us.created", false},
		{"orders.*", "orders", false},
		{"*.created", "payments.created", true},
		{"*", "", true},

		// Zero or more words
		{"orders.#", "orders", true},
		{"orders.#", "orders.created", true},
		{"orders.#", "orders.us.east.created", true},
		{"#", "anything", true},
		{"#", "a.b.c", true},
		{"#.created", "created", true},
		{"#.created", "a.b.created", true},
		{"#.created", "a.b.updated", false},
		{"a.#.z", "a.z", true},
		{"a.#.z", "a.b.c.z", true},
		{"a.#.#.z", "a.b.z", true},

		// Combined
		{"orders.*.#", "orders.us.created", true},
		{"orders.*.#", "orders.us", true},
		{"orders.*.#", "orders", false},

		// Edge cases
		{"orders.created", "orders", false},
		{"orders", "orders.created", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"→"+tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, m.Match(tt.pattern, tt.key), "Match(%q, %q)", tt.pattern, tt.key)
		})
	}
}

func TestRoutingKeyAndQueueName(t *testing.T) {
	assert.Equal(t, "global.created", RoutingKey("global", "created"))
	assert.Equal(t, "created", RoutingKey("", "created"))
	assert.Equal(t, "global-created", QueueName("global", "created"))
	assert.Equal(t, QueueName("orders", "us.*"), QueueName("orders", "us.*"))
}
