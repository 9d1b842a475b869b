// Package push owns the process-wide server push connection. A Hub shares a
// single stream from a Source among any number of event subscribers.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrStreamClosed is returned by Recv once the stream has been closed.
	ErrStreamClosed = errors.New("push: stream closed")
	// ErrMalformed marks a single undecodable message; the stream stays usable.
	ErrMalformed = errors.New("push: malformed message")
)

// Message is one named push notification, e.g. {"event":"productUpdated","data":{...}}.
type Message struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"data"`
}

// Stream is one open push connection.
type Stream interface {
	// Recv blocks until the next message, ctx is done or the stream fails.
	Recv(ctx context.Context) (Message, error)
	Close() error
}

// Source opens push streams. Each Open is one physical connection.
type Source interface {
	Open(ctx context.Context) (Stream, error)
}

// DecodeEnvelope parses the JSON envelope shared by every source.
func DecodeEnvelope(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if m.Event == "" {
		return Message{}, fmt.Errorf("%w: missing event name", ErrMalformed)
	}
	return m, nil
}

// EncodeEnvelope is the inverse of DecodeEnvelope.
func EncodeEnvelope(event string, data any) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("push: encoding %s payload: %w", event, err)
	}
	return json.Marshal(Message{Event: event, Payload: payload})
}
