package domain

import (
	"context"
	"encoding/json"
)

// Transport sends chat completion requests to the backend.
type Transport interface {
	// Send issues a non-streaming request and returns the response body verbatim.
	Send(ctx context.Context, req *ChatRequest) (json.RawMessage, error)

	// Stream issues a streaming request and returns a cursor over its events.
	Stream(ctx context.Context, req *ChatRequest) (EventStream, error)

	// BaseURL returns the configured backend URL, empty when unconfigured.
	BaseURL() string
}

// EventStream is a forward-only cursor over backend stream events.
type EventStream interface {
	// Next returns the next event, or io.EOF once the stream has ended.
	Next() (json.RawMessage, error)

	// Close releases the underlying connection. It is safe to call more than once.
	Close() error
}

// ResponseCache stores non-streaming backend responses by request key.
type ResponseCache interface {
	// Get returns the cached response, or ErrCacheMiss.
	Get(ctx context.Context, key string) (json.RawMessage, error)

	// Set stores a response under key.
	Set(ctx context.Context, key string, response json.RawMessage) error
}
