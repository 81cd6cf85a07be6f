package core

import (
	"context"
	"encoding/json"
)

// Frame is a raw JSON payload.
type Frame []byte

// Event is one unsolicited server frame. Events are delivered in arrival order.
type Event struct {
	Name string
	Data json.RawMessage
}

// Ack is the response shape of requests that only report success.
type Ack struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// Signaler is the request side of a signaling session.
type Signaler interface {
	// Request sends name with payload and decodes the correlated response into out.
	Request(ctx context.Context, name string, payload, out any) error
	// RequestPrimitive is Request for calls answered with a bare Ack.
	RequestPrimitive(ctx context.Context, name string, payload any) (Ack, error)
	// Emit sends a notification that has no response.
	Emit(name string, payload any) error
}

// SignalSession owns one connection to a signaling server.
// Owned by the adapter; the owner must Disconnect() it.
type SignalSession interface {
	Signaler
	Connect(ctx context.Context, url string) error
	Events() <-chan Event
	Disconnect()
}
