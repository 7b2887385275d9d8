package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// Normalize builds the backend request from a job input. Allow-listed fields are
// copied as-is, a string prompt becomes a single user message when no messages
// were given, and defaultModel fills in a missing model. It never fails; callers
// check the result with HasMessages.
func Normalize(input *JobInput, defaultModel string) *ChatRequest {
	if input == nil {
		input = &JobInput{}
	}

	req := input.ChatRequest

	if len(req.Messages) == 0 {
		if prompt := gjson.ParseBytes(input.Prompt); prompt.Type == gjson.String {
			req.Messages = mustMarshal([]Message{{Role: RoleUser, Content: prompt.Str}})
		}
	}

	if len(req.Model) == 0 && defaultModel != "" {
		req.Model = mustMarshal(defaultModel)
	}

	return &req
}

// HasMessages reports whether the request carries a non-empty messages value.
func (r *ChatRequest) HasMessages() bool {
	return truthy(r.Messages)
}

// ModelName returns the model as a plain string for logging.
func (r *ChatRequest) ModelName() string {
	return gjson.ParseBytes(r.Model).String()
}

// IsStreaming reports whether the caller asked for a streamed relay.
func (in *JobInput) IsStreaming() bool {
	return in != nil && truthy(in.Stream)
}

// CacheKey derives a stable key from the request sent to the backend.
func CacheKey(req *ChatRequest) string {
	data := mustMarshal(req)
	hash := sha256.Sum256(data)
	return fmt.Sprintf("relay:%s", hex.EncodeToString(hash[:]))
}

// truthy follows JSON-level truthiness: false, null, 0, "" and empty
// arrays or objects are false.
func truthy(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}

	value := gjson.ParseBytes(raw)
	switch value.Type {
	case gjson.True:
		return true
	case gjson.Number:
		return value.Num != 0
	case gjson.String:
		return value.Str != ""
	case gjson.JSON:
		if value.IsArray() {
			return len(value.Array()) > 0
		}
		return len(value.Map()) > 0
	case gjson.Null, gjson.False:
		return false
	default:
		return false
	}
}

// mustMarshal marshals values that cannot fail to encode.
func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("marshal %T: %v", v, err))
	}
	return data
}
