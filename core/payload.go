package core

import "fmt"

const (
	ContentTypeText = "text/plain"
	ContentTypeJSON = "application/json"
)

// Payload is the body of an emitted event. It is either pre-encoded text
// (Text) or a value that still needs serializing (JSON).
type Payload interface {
	Encode() ([]byte, error)
	ContentType() string
}

// Text is a payload published byte for byte.
type Text string

func (t Text) Encode() ([]byte, error) { return []byte(t), nil }

func (Text) ContentType() string { return ContentTypeText }

type jsonPayload struct{ v any }

// JSON wraps v so that it is serialized to JSON on emit. A string wrapped
// in JSON is encoded as a JSON string literal.
func JSON(v any) Payload { return jsonPayload{v: v} }

func (p jsonPayload) Encode() ([]byte, error) {
	b, err := json.Marshal(p.v)
	if err != nil {
		return nil, fmt.Errorf("eventbus: encode json payload: %w", err)
	}
	return b, nil
}

func (jsonPayload) ContentType() string { return ContentTypeJSON }

// PayloadOf picks the payload kind for an untyped value: strings and byte
// slices go out unchanged, everything else is JSON encoded.
func PayloadOf(v any) Payload {
	switch t := v.(type) {
	case Payload:
		return t
	case string:
		return Text(t)
	case []byte:
		return Text(t)
	default:
		return JSON(v)
	}
}
