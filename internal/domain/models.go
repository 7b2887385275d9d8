package domain

import "encoding/json"

// RoleUser is the chat role used when a bare prompt is turned into messages.
const RoleUser = "user"

// Status values emitted around a relayed stream.
const (
	StatusStarted   = "started"
	StatusCompleted = "completed"
)

// Error types reported to callers in ErrorResult.Type.
const (
	ErrorTypeBackend       = "BACKEND_ERROR"
	ErrorTypeConfiguration = "CONFIGURATION_ERROR"
	ErrorTypeUnknown       = "UNKNOWN"
)

// ChatRequest is the OpenAI-compatible chat completion payload sent to the backend.
// Every field is optional and carried verbatim; the backend validates semantics.
type ChatRequest struct {
	Model            json.RawMessage `json:"model,omitempty"`
	Messages         json.RawMessage `json:"messages,omitempty"`
	Temperature      json.RawMessage `json:"temperature,omitempty"`
	TopP             json.RawMessage `json:"top_p,omitempty"`
	MaxTokens        json.RawMessage `json:"max_tokens,omitempty"`
	Stream           json.RawMessage `json:"stream,omitempty"`
	Stop             json.RawMessage `json:"stop,omitempty"`
	StreamOptions    json.RawMessage `json:"stream_options,omitempty"`
	PresencePenalty  json.RawMessage `json:"presence_penalty,omitempty"`
	FrequencyPenalty json.RawMessage `json:"frequency_penalty,omitempty"`
	LogitBias        json.RawMessage `json:"logit_bias,omitempty"`
	User             json.RawMessage `json:"user,omitempty"`
	N                json.RawMessage `json:"n,omitempty"`
	Tools            json.RawMessage `json:"tools,omitempty"`
	ToolChoice       json.RawMessage `json:"tool_choice,omitempty"`
	ResponseFormat   json.RawMessage `json:"response_format,omitempty"`
	Seed             json.RawMessage `json:"seed,omitempty"`
	ExtraBody        json.RawMessage `json:"extra_body,omitempty"` // SGLang extension
}

// JobInput is the "input" object of a job. Keys outside the chat request fields
// and "prompt" are dropped when JSON is decoded into it.
type JobInput struct {
	ChatRequest

	Prompt json.RawMessage `json:"prompt,omitempty"`
}

// Job is one invocation from the serverless host.
type Job struct {
	ID    string    `json:"id,omitempty"`
	Input *JobInput `json:"input,omitempty"`
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StatusEvent marks the start or end of a relayed stream.
type StatusEvent struct {
	Status string `json:"status"`
}

// ErrorResult is the caller-visible shape of every relay failure. Type is one of
// BACKEND_ERROR, UNKNOWN, or CONFIGURATION_ERROR when the relay refused the job
// before contacting the backend.
type ErrorResult struct {
	Error string `json:"error"`
	Type  string `json:"type"`
}

// Result is what Handle produces: Output for a non-streaming job, Events for a
// streaming one.
type Result struct {
	Output json.RawMessage
	Events <-chan json.RawMessage
}

// RelayConfig holds orchestrator settings.
type RelayConfig struct {
	DefaultModel string `env:"SGLANG_MODEL"`
}
