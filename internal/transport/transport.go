// Package transport carries protocol notifications between a host and a
// detector. Delivery is ordered per direction; there are no responses.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrClosed is returned by operations on a closed connection
var ErrClosed = errors.New("connection closed")

// ErrMalformedMessage is returned by Receive for a line that is not a message.
// The connection stays usable.
var ErrMalformedMessage = errors.New("malformed message")

// Message is one notification on the wire
type Message struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Decode unmarshals Params into v. Missing params leave v untouched.
func (m Message) Decode(v interface{}) error {
	if len(m.Params) == 0 || string(m.Params) == "null" {
		return nil
	}
	if err := json.Unmarshal(m.Params, v); err != nil {
		return fmt.Errorf("invalid params for %s: %w", m.Method, err)
	}
	return nil
}

// Conn is a bidirectional notification channel. Receive returns io.EOF once
// the peer has gone away.
type Conn interface {
	Send(ctx context.Context, method string, params interface{}) error
	Receive(ctx context.Context) (Message, error)
	Close() error
}

// NewMessage builds a message, encoding params when present
func NewMessage(method string, params interface{}) (Message, error) {
	msg := Message{Method: method}
	if params == nil {
		return msg, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return Message{}, fmt.Errorf("failed to encode %s params: %w", method, err)
	}
	msg.Params = raw
	return msg, nil
}
