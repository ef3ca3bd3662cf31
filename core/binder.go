package core

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Binder deserializes raw message bytes into a Go value.
type Binder interface {
	Bind(data []byte, v any) error
}

// JSONBinder deserializes JSON message bodies.
type JSONBinder struct{}

func (JSONBinder) Bind(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("eventbus: bind json: %w", err)
	}
	return nil
}
