package domain_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/davidbz/sglang-relay/internal/domain"
)

func decodeInput(t *testing.T, raw string) *domain.JobInput {
	t.Helper()

	var input domain.JobInput
	require.NoError(t, json.Unmarshal([]byte(raw), &input))
	return &input
}

func TestNormalize_AllowList(t *testing.T) {
	raw := `{
		"model": "qwen",
		"messages": [{"role": "system", "content": "be brief"}, {"role": "user", "content": "hi"}],
		"temperature": 0.2,
		"top_p": 0.9,
		"max_tokens": 64,
		"stream": "yes",
		"stop": ["\n"],
		"stream_options": {"include_usage": true},
		"presence_penalty": 0.1,
		"frequency_penalty": -0.1,
		"logit_bias": {"50256": -100},
		"user": "u-1",
		"n": 2,
		"tools": [{"type": "function", "function": {"name": "f"}}],
		"tool_choice": "auto",
		"response_format": {"type": "json_object"},
		"seed": 7,
		"extra_body": {"regex": "a+"},
		"prompt": "ignored because messages exist",
		"api_key": "secret",
		"webhook": "http://example.com"
	}`

	req := domain.Normalize(decodeInput(t, raw), "default-model")

	out, err := json.Marshal(req)
	require.NoError(t, err)

	var got map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(out, &got))

	var want map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(raw), &want))
	delete(want, "prompt")
	delete(want, "api_key")
	delete(want, "webhook")

	require.Len(t, got, len(want))
	for key, value := range want {
		require.Contains(t, got, key)
		require.JSONEq(t, string(value), string(got[key]), "field %s", key)
	}
	require.NotContains(t, got, "api_key")
	require.NotContains(t, got, "webhook")
	require.NotContains(t, got, "prompt")
}

func TestNormalize_Prompt(t *testing.T) {
	t.Run("should turn a string prompt into one user message", func(t *testing.T) {
		req := domain.Normalize(decodeInput(t, `{"prompt": "hi"}`), "")

		require.JSONEq(t, `[{"role":"user","content":"hi"}]`, string(req.Messages))
		require.True(t, req.HasMessages())
	})

	t.Run("should keep escaped characters", func(t *testing.T) {
		req := domain.Normalize(decodeInput(t, `{"prompt": "say \"hi\"\n"}`), "")

		require.JSONEq(t, `[{"role":"user","content":"say \"hi\"\n"}]`, string(req.Messages))
	})

	t.Run("should prefer messages over prompt", func(t *testing.T) {
		req := domain.Normalize(decodeInput(t, `{"prompt": "hi", "messages": [{"role":"user","content":"hello"}]}`), "")

		require.JSONEq(t, `[{"role":"user","content":"hello"}]`, string(req.Messages))
	})

	t.Run("should ignore a non-string prompt", func(t *testing.T) {
		req := domain.Normalize(decodeInput(t, `{"prompt": 42}`), "")

		require.Empty(t, req.Messages)
		require.False(t, req.HasMessages())
	})
}

func TestNormalize_DefaultModel(t *testing.T) {
	t.Run("should fill in the default model", func(t *testing.T) {
		req := domain.Normalize(decodeInput(t, `{}`), "qwen2.5-7b")

		require.JSONEq(t, `"qwen2.5-7b"`, string(req.Model))
		require.Equal(t, "qwen2.5-7b", req.ModelName())
	})

	t.Run("should leave model absent without a default", func(t *testing.T) {
		req := domain.Normalize(decodeInput(t, `{}`), "")

		out, err := json.Marshal(req)
		require.NoError(t, err)
		require.JSONEq(t, `{}`, string(out))
	})

	t.Run("should keep a caller supplied model", func(t *testing.T) {
		req := domain.Normalize(decodeInput(t, `{"model": "llama"}`), "qwen")

		require.JSONEq(t, `"llama"`, string(req.Model))
	})

	t.Run("should accept a nil input", func(t *testing.T) {
		req := domain.Normalize(nil, "qwen")

		require.NotNil(t, req)
		require.False(t, req.HasMessages())
	})
}

func TestChatRequest_HasMessages(t *testing.T) {
	tests := []struct {
		name     string
		messages string
		expected bool
	}{
		{name: "absent", messages: "", expected: false},
		{name: "null", messages: "null", expected: false},
		{name: "empty array", messages: "[]", expected: false},
		{name: "empty string", messages: `""`, expected: false},
		{name: "one message", messages: `[{"role":"user","content":"hi"}]`, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := &domain.ChatRequest{Messages: json.RawMessage(tt.messages)}
			require.Equal(t, tt.expected, req.HasMessages())
		})
	}
}

func TestJobInput_IsStreaming(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected bool
	}{
		{name: "absent", input: `{}`, expected: false},
		{name: "true", input: `{"stream": true}`, expected: true},
		{name: "false", input: `{"stream": false}`, expected: false},
		{name: "one", input: `{"stream": 1}`, expected: true},
		{name: "zero", input: `{"stream": 0}`, expected: false},
		{name: "non-empty string", input: `{"stream": "yes"}`, expected: true},
		{name: "null", input: `{"stream": null}`, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, decodeInput(t, tt.input).IsStreaming())
		})
	}

	var nilInput *domain.JobInput
	require.False(t, nilInput.IsStreaming())
}

func TestCacheKey(t *testing.T) {
	a := domain.Normalize(decodeInput(t, `{"prompt": "hi", "seed": 1}`), "qwen")
	b := domain.Normalize(decodeInput(t, `{"prompt": "hi", "seed": 1}`), "qwen")
	c := domain.Normalize(decodeInput(t, `{"prompt": "hi", "seed": 2}`), "qwen")

	require.Equal(t, domain.CacheKey(a), domain.CacheKey(b))
	require.NotEqual(t, domain.CacheKey(a), domain.CacheKey(c))
	require.Contains(t, domain.CacheKey(a), "relay:")
}
