package httpserver_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/davidbz/sglang-relay/internal/config"
	"github.com/davidbz/sglang-relay/internal/domain"
	"github.com/davidbz/sglang-relay/internal/httpserver"
	"github.com/davidbz/sglang-relay/internal/httpserver/middleware"
	"github.com/davidbz/sglang-relay/internal/provider/echo"
	"github.com/davidbz/sglang-relay/internal/provider/sglang"
)

type failingProbe struct{}

func (failingProbe) Ready(context.Context) ([]string, error) {
	return nil, errors.New("connection refused")
}

// newWorker serves the worker routes in front of an echo backend.
func newWorker(t *testing.T, backend *echo.Backend, probe httpserver.ReadinessProbe) *httptest.Server {
	t.Helper()

	backendServer := httptest.NewServer(backend)
	t.Cleanup(backendServer.Close)

	client := sglang.NewClient(
		sglang.Config{BaseURL: backendServer.URL, Timeout: 5, MaxRetries: 0, Backoff: 1.5},
		sglang.WithSleeper(func(context.Context, time.Duration) error { return nil }),
	)
	if probe == nil {
		probe = client
	}

	relay := domain.NewRelayService(client, domain.RelayConfig{DefaultModel: echo.ModelName}, nil)
	handler := httpserver.NewHandler(relay, probe)
	server := httpserver.NewServer(&config.ServerConfig{}, handler, middleware.BuildMiddlewareChain(nil))

	worker := httptest.NewServer(server.Routes())
	t.Cleanup(worker.Close)

	return worker
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	return resp
}

func get(t *testing.T, url string) *http.Response {
	t.Helper()

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	return resp
}

func readBody(t *testing.T, resp *http.Response) []byte {
	t.Helper()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return data
}

// readEvents collects the data payload of every SSE frame.
func readEvents(t *testing.T, resp *http.Response) []string {
	t.Helper()

	var events []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if payload, ok := strings.CutPrefix(scanner.Text(), "data: "); ok {
			events = append(events, payload)
		}
	}
	require.NoError(t, scanner.Err())
	return events
}

func TestHandleRun_Completion(t *testing.T) {
	backend := echo.NewBackend()
	worker := newWorker(t, backend, nil)

	resp := post(t, worker.URL+"/run", `{"id":"job-1","input":{"prompt":"Hello world","max_tokens":8,"unknown":1}}`)
	body := readBody(t, resp)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	require.NotEmpty(t, resp.Header.Get("X-Request-Id"))
	require.Equal(t, "job-1", gjson.GetBytes(body, "id").String())
	require.Equal(t, "[user]: Hello world\n", gjson.GetBytes(body, "output.choices.0.message.content").String())
	require.Equal(t, echo.ModelName, gjson.GetBytes(body, "output.model").String())
	require.Equal(t, 1, backend.Requests())
}

func TestHandleRun_GeneratesJobID(t *testing.T) {
	worker := newWorker(t, echo.NewBackend(), nil)

	resp := post(t, worker.URL+"/run", `{"input":{"messages":[{"role":"user","content":"hi"}]}}`)
	body := readBody(t, resp)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, gjson.GetBytes(body, "id").String())
}

func TestHandleRun_Stream(t *testing.T) {
	worker := newWorker(t, echo.NewBackend(), nil)

	resp := post(t, worker.URL+"/run", `{"id":"job-2","input":{"messages":[{"role":"user","content":"Hello world"}],"stream":true}}`)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := readEvents(t, resp)

	// started, three words, the finishing chunk, completed
	require.Len(t, events, 6)
	require.JSONEq(t, `{"status":"started"}`, events[0])
	require.JSONEq(t, `{"status":"completed"}`, events[len(events)-1])

	var content strings.Builder
	for _, event := range events[1 : len(events)-1] {
		require.Equal(t, "chat.completion.chunk", gjson.Get(event, "object").String())
		content.WriteString(gjson.Get(event, "choices.0.delta.content").String())
	}
	require.Equal(t, "[user]: Hello world", content.String())
}

func TestHandleRunSync_AggregatesStream(t *testing.T) {
	worker := newWorker(t, echo.NewBackend(), nil)

	resp := post(t, worker.URL+"/runsync", `{"id":"job-3","input":{"prompt":"one two","stream":1}}`)
	body := readBody(t, resp)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "job-3", gjson.GetBytes(body, "id").String())

	output := gjson.GetBytes(body, "output").Array()
	require.Len(t, output, 6)
	require.Equal(t, domain.StatusStarted, output[0].Get("status").String())
	require.Equal(t, domain.StatusCompleted, output[5].Get("status").String())
}

func TestHandleRun_Failures(t *testing.T) {
	t.Run("should report missing messages without calling the backend", func(t *testing.T) {
		backend := echo.NewBackend()
		worker := newWorker(t, backend, nil)

		resp := post(t, worker.URL+"/run", `{"id":"job-4","input":{"temperature":0.2}}`)
		body := readBody(t, resp)

		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.JSONEq(t,
			`{"error":"Missing 'messages' or 'prompt' in input","type":"CONFIGURATION_ERROR"}`,
			gjson.GetBytes(body, "output").Raw)
		require.Zero(t, backend.Requests())
	})

	t.Run("should report backend failures", func(t *testing.T) {
		worker := newWorker(t, echo.NewBackend(echo.WithFailures(1)), nil)

		resp := post(t, worker.URL+"/run", `{"input":{"prompt":"hi"}}`)
		body := readBody(t, resp)

		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, domain.ErrorTypeBackend, gjson.GetBytes(body, "output.type").String())
		require.Contains(t, gjson.GetBytes(body, "output.error").String(), "HTTP 503")
	})

	t.Run("should end a failed stream with one error event", func(t *testing.T) {
		worker := newWorker(t, echo.NewBackend(echo.WithFailures(1)), nil)

		resp := post(t, worker.URL+"/run", `{"input":{"prompt":"hi","stream":true}}`)
		events := readEvents(t, resp)

		require.Len(t, events, 2)
		require.JSONEq(t, `{"status":"started"}`, events[0])
		require.Equal(t, domain.ErrorTypeBackend, gjson.Get(events[1], "type").String())
	})

	t.Run("should reject an invalid body", func(t *testing.T) {
		worker := newWorker(t, echo.NewBackend(), nil)

		resp := post(t, worker.URL+"/run", `{"input":`)

		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("should reject other methods", func(t *testing.T) {
		worker := newWorker(t, echo.NewBackend(), nil)

		resp := get(t, worker.URL+"/run")

		require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})
}

func TestHandleHealth(t *testing.T) {
	worker := newWorker(t, echo.NewBackend(), nil)

	resp := get(t, worker.URL+"/health")

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"status":"healthy"}`, string(readBody(t, resp)))
}

func TestHandleReady(t *testing.T) {
	t.Run("should list backend models", func(t *testing.T) {
		worker := newWorker(t, echo.NewBackend(), nil)

		resp := get(t, worker.URL+"/health/ready")

		var body struct {
			Status string   `json:"status"`
			Models []string `json:"models"`
		}
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.NoError(t, json.Unmarshal(readBody(t, resp), &body))
		require.Equal(t, "ready", body.Status)
		require.Equal(t, []string{echo.ModelName}, body.Models)
	})

	t.Run("should be unavailable while the backend is down", func(t *testing.T) {
		worker := newWorker(t, echo.NewBackend(), failingProbe{})

		resp := get(t, worker.URL+"/health/ready")
		body := readBody(t, resp)

		require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		require.Equal(t, "unavailable", gjson.GetBytes(body, "status").String())
		require.Equal(t, "connection refused", gjson.GetBytes(body, "error").String())
	})
}

func TestMetrics(t *testing.T) {
	worker := newWorker(t, echo.NewBackend(), nil)

	post(t, worker.URL+"/run", `{"input":{"prompt":"hi"}}`)
	resp := get(t, worker.URL+"/metrics")

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(readBody(t, resp)), "sglang_relay_requests_total")
}
