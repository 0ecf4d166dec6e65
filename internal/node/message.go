package node

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Message is a flow message: a JSON object with at least a payload.
type Message []byte

// NewMessage returns a message carrying payload and a fresh _msgid.
func NewMessage(payload any) (Message, error) {
	b, err := sjson.SetBytes([]byte(`{}`), "_msgid", uuid.NewString())
	if err != nil {
		return nil, err
	}
	b, err = sjson.SetBytes(b, "payload", payload)
	if err != nil {
		return nil, fmt.Errorf("setting payload: %w", err)
	}
	return Message(b), nil
}

// ParseMessage turns a raw body into a message. A JSON object is taken as
// is, any other JSON value becomes the payload and a body which is not JSON
// at all becomes a string payload.
func ParseMessage(raw []byte) (Message, error) {
	if !gjson.ValidBytes(raw) {
		return NewMessage(string(raw))
	}
	v := gjson.ParseBytes(raw)
	if v.IsObject() {
		return Message(append([]byte(nil), raw...)).withID()
	}
	return NewMessage(v.Value())
}

// ID returns the _msgid of a message.
func (m Message) ID() string {
	return gjson.GetBytes(m, "_msgid").String()
}

// Payload returns the decoded payload: nil, bool, float64, string,
// []any or map[string]any.
func (m Message) Payload() any {
	return gjson.GetBytes(m, "payload").Value()
}

// Topic returns the topic of a message.
func (m Message) Topic() string {
	return gjson.GetBytes(m, "topic").String()
}

func (m Message) withID() (Message, error) {
	if m.ID() != "" {
		return m, nil
	}
	b, err := sjson.SetBytes(m, "_msgid", uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("setting _msgid: %w", err)
	}
	return Message(b), nil
}

// Derive returns a copy of m with payload and topic replaced.
func Derive(m Message, payload any, topic string) (Message, error) {
	b := append([]byte(nil), m...)
	b, err := sjson.SetBytes(b, "payload", payload)
	if err != nil {
		return nil, fmt.Errorf("setting payload: %w", err)
	}
	b, err = sjson.SetBytes(b, "topic", topic)
	if err != nil {
		return nil, fmt.Errorf("setting topic: %w", err)
	}
	return Message(b), nil
}

// Emitter delivers outbound messages downstream.
type Emitter interface {
	Emit(ctx context.Context, msg Message) error
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(ctx context.Context, msg Message) error

func (f EmitterFunc) Emit(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}
