// Package config loads a core.Config from files and the environment.
//
// Keys are the ones core.ParseConfig understands (protocol, hostname or
// host, port, username, password, vhost, project, namespace, debug,
// exchange). Anything else is passed to the transport through Extra.
// Every known key can be overridden with an EVENTBUS_ prefixed
// environment variable, e.g. EVENTBUS_HOSTNAME.
package config

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/viper"

	"github.com/miladsoleymani/eventbus/core"
)

// EnvPrefix prefixes the environment variables read by New.
const EnvPrefix = "EVENTBUS"

var envKeys = []string{
	"protocol", "hostname", "host", "port", "username", "password",
	"vhost", "project", "namespace", "debug",
}

// New returns a viper instance with the environment bindings applied.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, k := range envKeys {
		_ = v.BindEnv(k)
	}
	return v
}

// Load reads the config file at path. The format follows the extension.
// An empty path reads the environment only.
func Load(path string) (core.Config, error) {
	v := New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return core.Config{}, fmt.Errorf("eventbus: read config %q: %w", path, err)
		}
	}
	return FromViper(v)
}

// LoadReader reads configuration of type typ ("yaml", "json", "toml") from r.
// It's the caller's responsibility to close r.
func LoadReader(r io.Reader, typ string) (core.Config, error) {
	v := New()
	v.SetConfigType(typ)
	if err := v.ReadConfig(r); err != nil {
		return core.Config{}, fmt.Errorf("eventbus: read config: %w", err)
	}
	return FromViper(v)
}

// FromViper builds a Config from every setting in v.
func FromViper(v *viper.Viper) (core.Config, error) {
	return core.ParseConfig(v.AllSettings())
}
