package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cast"
)

const (
	DefaultProtocol  = "amqp"
	DefaultHostname  = "localhost"
	DefaultPort      = 5672
	DefaultUsername  = "guest"
	DefaultPassword  = "guest"
	DefaultVhost     = "/"
	DefaultProject   = "puzzle"
	DefaultNamespace = "global"

	// ExchangeKind is the only exchange type the bus declares.
	ExchangeKind = "topic"
)

// defaultPorts maps a protocol to its well-known port. Protocols not listed
// fall back to DefaultPort.
var defaultPorts = map[string]int{
	"amqp":  5672,
	"amqps": 5671,
	"nats":  4222,
	"kafka": 9092,
}

// PortFor returns the default port for protocol.
func PortFor(protocol string) int {
	if p, ok := defaultPorts[protocol]; ok {
		return p
	}
	return DefaultPort
}

// Config holds the normalized bus configuration.
type Config struct {
	Protocol string
	Hostname string
	Port     int
	Username string
	Password string
	Vhost    string

	// Project names the exchange.
	Project string

	// Namespace prefixes routing keys and queue names.
	Namespace string

	Debug bool

	// Exchange overrides the exchange properties. Nil means durable.
	Exchange *ExchangeOptions

	// Extra holds transport specific keys, passed through untouched.
	Extra map[string]any
}

// DefaultConfig returns the configuration used for every unset field.
func DefaultConfig() Config {
	return Config{
		Protocol:  DefaultProtocol,
		Hostname:  DefaultHostname,
		Port:      DefaultPort,
		Username:  DefaultUsername,
		Password:  DefaultPassword,
		Vhost:     DefaultVhost,
		Project:   DefaultProject,
		Namespace: DefaultNamespace,
	}
}

// WithDefaults fills every zero field of c from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.Protocol == "" {
		c.Protocol = d.Protocol
	}
	if c.Hostname == "" {
		c.Hostname = d.Hostname
	}
	if c.Port == 0 {
		c.Port = PortFor(c.Protocol)
	}
	if c.Username == "" {
		c.Username = d.Username
	}
	if c.Password == "" {
		c.Password = d.Password
	}
	if c.Vhost == "" {
		c.Vhost = d.Vhost
	}
	if c.Project == "" {
		c.Project = d.Project
	}
	if c.Namespace == "" {
		c.Namespace = d.Namespace
	}
	return c
}

// ExchangeOptions returns the effective exchange properties.
func (c Config) ExchangeOptions() ExchangeOptions {
	if c.Exchange == nil {
		return ExchangeOptions{Durable: true}
	}
	return *c.Exchange
}

// String renders c with the password masked.
func (c Config) String() string {
	pw := ""
	if c.Password != "" {
		pw = "******"
	}
	return fmt.Sprintf("%s://%s:%s@%s:%d%s project=%s namespace=%s debug=%v extra=%v",
		c.Protocol, c.Username, pw, c.Hostname, c.Port, c.Vhost, c.Project, c.Namespace, c.Debug, c.Extra)
}

// ParseConfig normalizes a loosely typed mapping into a Config merged over
// DefaultConfig. An absent port follows the protocol. "host" is an alias of "hostname" and wins when both are
// present. Unknown keys end up in Extra. m is not modified.
func ParseConfig(m map[string]any) (Config, error) {
	var c Config
	for k, v := range m {
		var err error
		switch strings.ToLower(k) {
		case "protocol":
			c.Protocol, err = cast.ToStringE(v)
		case "hostname":
			if _, ok := lookup(m, "host"); !ok {
				c.Hostname, err = cast.ToStringE(v)
			}
		case "host":
			c.Hostname, err = cast.ToStringE(v)
		case "port":
			c.Port, err = cast.ToIntE(v)
		case "username":
			c.Username, err = cast.ToStringE(v)
		case "password":
			c.Password, err = cast.ToStringE(v)
		case "vhost":
			c.Vhost, err = cast.ToStringE(v)
		case "namespace":
			c.Namespace, err = cast.ToStringE(v)
		case "project":
			c.Project, err = cast.ToStringE(v)
		case "debug":
			c.Debug, err = cast.ToBoolE(v)
		case "exchange":
			var eo ExchangeOptions
			eo, err = parseExchangeOptions(v)
			c.Exchange = &eo
		default:
			if c.Extra == nil {
				c.Extra = make(map[string]any)
			}
			c.Extra[k] = v
		}
		if err != nil {
			return Config{}, fmt.Errorf("eventbus: config key %q: %w", k, err)
		}
	}
	return c.WithDefaults(), nil
}

func parseExchangeOptions(v any) (ExchangeOptions, error) {
	m, err := cast.ToStringMapE(v)
	if err != nil {
		return ExchangeOptions{}, err
	}
	eo := ExchangeOptions{Durable: true}
	for k, v := range m {
		switch strings.ToLower(k) {
		case "durable":
			eo.Durable, err = cast.ToBoolE(v)
		case "autodelete", "auto_delete":
			eo.AutoDelete, err = cast.ToBoolE(v)
		case "internal":
			eo.Internal, err = cast.ToBoolE(v)
		case "args", "arguments":
			var args map[string]any
			args, err = cast.ToStringMapE(v)
			eo.Args = Table(args)
		}
		if err != nil {
			return ExchangeOptions{}, fmt.Errorf("%s: %w", k, err)
		}
	}
	return eo, nil
}

func lookup(m map[string]any, key string) (any, bool) {
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}

// ExtraString reads a string from Extra.
func (c Config) ExtraString(key string) (string, bool) {
	v, ok := c.Extra[key]
	if !ok {
		return "", false
	}
	s, err := cast.ToStringE(v)
	return s, err == nil
}

// ExtraInt reads an integer from Extra.
func (c Config) ExtraInt(key string) (int, bool) {
	v, ok := c.Extra[key]
	if !ok {
		return 0, false
	}
	n, err := cast.ToIntE(v)
	return n, err == nil
}

// ExtraBool reads a boolean from Extra.
func (c Config) ExtraBool(key string) (bool, bool) {
	v, ok := c.Extra[key]
	if !ok {
		return false, false
	}
	b, err := cast.ToBoolE(v)
	return b, err == nil
}

// ExtraDuration reads a duration from Extra. Plain numbers are seconds.
func (c Config) ExtraDuration(key string) (time.Duration, bool) {
	v, ok := c.Extra[key]
	if !ok {
		return 0, false
	}
	switch v.(type) {
	case int, int32, int64, float64, uint:
		n, err := cast.ToIntE(v)
		return time.Duration(n) * time.Second, err == nil
	}
	d, err := cast.ToDurationE(v)
	return d, err == nil
}

// ExtraStrings reads a string list from Extra. A single comma separated
// string is split.
func (c Config) ExtraStrings(key string) ([]string, bool) {
	v, ok := c.Extra[key]
	if !ok {
		return nil, false
	}
	if s, isStr := v.(string); isStr {
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out, true
	}
	ss, err := cast.ToStringSliceE(v)
	return ss, err == nil
}
