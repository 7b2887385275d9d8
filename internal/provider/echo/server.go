// Package echo is an in-process OpenAI-compatible backend that echoes the
// request messages back. It serves chat completions in buffered and
// server-sent-event mode plus the model listing, for tests and local runs.
package echo

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"
)

const (
	// ModelName is the only model the echo backend serves.
	ModelName = "echo"

	ownedBy = "sglang-relay"
)

// Option configures a Backend.
type Option func(*Backend)

// WithFailures makes the first n chat requests fail with 503.
func WithFailures(n int) Option {
	return func(b *Backend) {
		b.failures.Store(int64(n))
	}
}

// WithChunkDelay sleeps between streamed chunks.
func WithChunkDelay(d time.Duration) Option {
	return func(b *Backend) {
		b.chunkDelay = d
	}
}

// WithAPIKey requires a matching bearer token on every request.
func WithAPIKey(key string) Option {
	return func(b *Backend) {
		b.apiKey = key
	}
}

// Backend implements http.Handler.
type Backend struct {
	mux        *http.ServeMux
	failures   atomic.Int64
	requests   atomic.Int64
	chunkDelay time.Duration
	apiKey     string
}

// NewBackend creates a new echo backend.
func NewBackend(opts ...Option) *Backend {
	b := &Backend{
		mux: http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(b)
	}

	b.mux.HandleFunc("POST /v1/chat/completions", b.chatCompletions)
	b.mux.HandleFunc("GET /v1/models", b.models)

	return b
}

// ServeHTTP implements http.Handler.
func (b *Backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if b.apiKey != "" && r.Header.Get("Authorization") != "Bearer "+b.apiKey {
		writeError(w, http.StatusUnauthorized, "invalid api key")
		return
	}
	b.mux.ServeHTTP(w, r)
}

// Requests returns the number of chat requests received, failed ones included.
func (b *Backend) Requests() int {
	return int(b.requests.Load())
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type choice struct {
	Index        int          `json:"index"`
	Message      *chatMessage `json:"message,omitempty"`
	Delta        *chatMessage `json:"delta,omitempty"`
	FinishReason *string      `json:"finish_reason"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type completion struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []choice `json:"choices"`
	Usage   *usage   `json:"usage,omitempty"`
}

type model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

func (b *Backend) chatCompletions(w http.ResponseWriter, r *http.Request) {
	b.requests.Add(1)

	if b.failures.Add(-1) >= 0 {
		writeError(w, http.StatusServiceUnavailable, "model is loading")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil || !gjson.ValidBytes(body) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	messages := gjson.GetBytes(body, "messages")
	if !messages.IsArray() || len(messages.Array()) == 0 {
		writeError(w, http.StatusBadRequest, "messages must be a non-empty array")
		return
	}

	modelName := gjson.GetBytes(body, "model").String()
	if modelName == "" {
		modelName = ModelName
	}

	content := buildEchoContent(messages)
	id := fmt.Sprintf("echo-%d", time.Now().UnixNano())

	if gjson.GetBytes(body, "stream").Bool() {
		b.stream(w, r, id, modelName, content)
		return
	}

	stop := "stop"
	tokens := countTokens(content)
	writeJSON(w, http.StatusOK, completion{
		ID:      id,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   modelName,
		Choices: []choice{{
			Index:        0,
			Message:      &chatMessage{Role: "assistant", Content: content},
			FinishReason: &stop,
		}},
		Usage: &usage{PromptTokens: tokens, CompletionTokens: tokens, TotalTokens: 2 * tokens},
	})
}

// stream writes one chunk per word, a finishing chunk and the [DONE] sentinel.
func (b *Backend) stream(w http.ResponseWriter, r *http.Request, id, modelName, content string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	chunk := func(delta *chatMessage, finish *string) {
		data, _ := json.Marshal(completion{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: time.Now().Unix(),
			Model:   modelName,
			Choices: []choice{{Index: 0, Delta: delta, FinishReason: finish}},
			Usage:   nil,
		})
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	words := strings.Fields(content)
	for i, word := range words {
		if i < len(words)-1 {
			word += " "
		}

		select {
		case <-r.Context().Done():
			return
		default:
		}

		chunk(&chatMessage{Role: "assistant", Content: word}, nil)

		if b.chunkDelay > 0 {
			time.Sleep(b.chunkDelay)
		}
	}

	stop := "stop"
	chunk(&chatMessage{Role: "assistant", Content: ""}, &stop)
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func (b *Backend) models(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"object": "list",
		"data": []model{{
			ID:      ModelName,
			Object:  "model",
			Created: time.Now().Unix(),
			OwnedBy: ownedBy,
		}},
	})
}

// buildEchoContent joins the message contents as "[role]: content" lines.
func buildEchoContent(messages gjson.Result) string {
	var builder strings.Builder
	for _, msg := range messages.Array() {
		fmt.Fprintf(&builder, "[%s]: %s\n", msg.Get("role").String(), msg.Get("content").String())
	}
	return builder.String()
}

// countTokens performs simple word-based token counting.
func countTokens(content string) int {
	return len(strings.Fields(content))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"object":  "error",
		"message": message,
		"code":    status,
	})
}
