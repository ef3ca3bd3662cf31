package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig_Defaults(t *testing.T) {
	c, err := ParseConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), c)
	assert.Equal(t, ExchangeOptions{Durable: true}, c.ExchangeOptions())
}

func TestParseConfig_Aliases(t *testing.T) {
	in := map[string]any{
		"host":      "rabbitmq",
		"port":      "5673",
		"username":  "svc",
		"password":  "pw",
		"namespace": "orders",
		"project":   "shop",
		"debug":     "true",
		"insist":    true,
	}
	c, err := ParseConfig(in)
	require.NoError(t, err)

	assert.Equal(t, "rabbitmq", c.Hostname)
	assert.Equal(t, 5673, c.Port)
	assert.Equal(t, "svc", c.Username)
	assert.Equal(t, "pw", c.Password)
	assert.Equal(t, "orders", c.Namespace)
	assert.Equal(t, "shop", c.Project)
	assert.True(t, c.Debug)
	assert.Equal(t, DefaultVhost, c.Vhost)
	assert.Equal(t, map[string]any{"insist": true}, c.Extra)

	// the caller's mapping is left alone
	assert.Contains(t, in, "host")
	assert.NotContains(t, in, "hostname")
}

func TestParseConfig_PortFollowsProtocol(t *testing.T) {
	for proto, port := range map[string]int{"amqp": 5672, "amqps": 5671, "nats": 4222, "kafka": 9092, "other": DefaultPort} {
		c, err := ParseConfig(map[string]any{"protocol": proto})
		require.NoError(t, err)
		assert.Equal(t, port, c.Port, proto)
	}

	c, err := ParseConfig(map[string]any{"protocol": "nats", "port": 4333})
	require.NoError(t, err)
	assert.Equal(t, 4333, c.Port)
}

func TestParseConfig_HostWinsOverHostname(t *testing.T) {
	c, err := ParseConfig(map[string]any{"hostname": "a", "host": "b"})
	require.NoError(t, err)
	assert.Equal(t, "b", c.Hostname)

	c, err = ParseConfig(map[string]any{"hostname": "a"})
	require.NoError(t, err)
	assert.Equal(t, "a", c.Hostname)
}

func TestParseConfig_ExchangeOptions(t *testing.T) {
	c, err := ParseConfig(map[string]any{
		"exchange": map[string]any{"durable": false, "auto_delete": "true", "args": map[string]any{"alternate-exchange": "ae"}},
	})
	require.NoError(t, err)
	eo := c.ExchangeOptions()
	assert.False(t, eo.Durable)
	assert.True(t, eo.AutoDelete)
	assert.Equal(t, "ae", eo.Args["alternate-exchange"])
}

func TestParseConfig_BadValue(t *testing.T) {
	_, err := ParseConfig(map[string]any{"port": "not-a-port"})
	assert.ErrorContains(t, err, `"port"`)

	_, err = ParseConfig(map[string]any{"exchange": 12})
	assert.Error(t, err)
}

func TestConfig_WithDefaults(t *testing.T) {
	c := Config{Hostname: "mq", Project: "orders"}.WithDefaults()
	assert.Equal(t, "mq", c.Hostname)
	assert.Equal(t, "orders", c.Project)
	assert.Equal(t, DefaultPort, c.Port)
	assert.Equal(t, DefaultUsername, c.Username)
	assert.Equal(t, DefaultNamespace, c.Namespace)
}

func TestConfig_StringMasksPassword(t *testing.T) {
	s := Config{Password: "hunter2"}.WithDefaults().String()
	assert.NotContains(t, s, "hunter2")
	assert.Contains(t, s, "localhost:5672")
}

func TestConfig_Extra(t *testing.T) {
	c := Config{Extra: map[string]any{
		"prefetch":  "20",
		"heartbeat": 10,
		"timeout":   "1m",
		"brokers":   "a:9092, b:9092",
		"list":      []string{"x", "y"},
		"name":      "svc",
		"async":     "true",
	}}

	b, ok := c.ExtraBool("async")
	assert.True(t, ok)
	assert.True(t, b)

	n, ok := c.ExtraInt("prefetch")
	assert.True(t, ok)
	assert.Equal(t, 20, n)

	d, ok := c.ExtraDuration("heartbeat")
	assert.True(t, ok)
	assert.Equal(t, 10*time.Second, d)

	d, ok = c.ExtraDuration("timeout")
	assert.True(t, ok)
	assert.Equal(t, time.Minute, d)

	ss, ok := c.ExtraStrings("brokers")
	assert.True(t, ok)
	assert.Equal(t, []string{"a:9092", "b:9092"}, ss)

	ss, ok = c.ExtraStrings("list")
	assert.True(t, ok)
	assert.Equal(t, []string{"x", "y"}, ss)

	s, ok := c.ExtraString("name")
	assert.True(t, ok)
	assert.Equal(t, "svc", s)

	_, ok = c.ExtraInt("missing")
	assert.False(t, ok)
}
