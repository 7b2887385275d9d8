// Package sglang is the HTTP transport to an SGLang (or any OpenAI-compatible)
// inference server. It sends chat completion requests with bounded retries and
// exponential backoff, in buffered or server-sent-event mode.
package sglang

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/tidwall/gjson"

	"github.com/davidbz/sglang-relay/internal/domain"
	"github.com/davidbz/sglang-relay/internal/metrics"
	"github.com/davidbz/sglang-relay/internal/observability"
)

const (
	apiVersionSegment   = "/v1"
	chatCompletionsPath = "/chat/completions"
)

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithSleeper replaces the backoff sleep.
func WithSleeper(sleep Sleeper) Option {
	return func(c *Client) {
		c.sleep = sleep
	}
}

// Client implements domain.Transport. It holds no mutable state after
// construction and is safe for concurrent use.
type Client struct {
	baseURL      string
	apiKey       string
	timeout      time.Duration
	maxRetries   int
	backoff      float64
	maxMalformed int
	httpClient   *http.Client
	sleep        Sleeper
	sdk          openai.Client
}

// NewClient creates a new SGLang HTTP client.
func NewClient(config Config, opts ...Option) *Client {
	timeout := time.Duration(config.Timeout * float64(time.Second))

	c := &Client{
		baseURL:      strings.TrimRight(config.BaseURL, "/"),
		apiKey:       config.APIKey,
		timeout:      timeout,
		maxRetries:   max(config.MaxRetries, 0),
		backoff:      config.Backoff,
		maxMalformed: config.MaxMalformedLines,
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: timeout,
			},
		},
		sleep: sleepContext,
	}

	for _, opt := range opts {
		opt(c)
	}

	c.sdk = openai.NewClient(
		option.WithBaseURL(c.apiBase()+"/"),
		option.WithAPIKey(c.apiKey),
		option.WithHTTPClient(c.httpClient),
		option.WithMaxRetries(0),
	)

	return c
}

// BaseURL returns the configured base URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// apiBase returns the base URL ending in exactly one /v1 segment.
func (c *Client) apiBase() string {
	if strings.HasSuffix(c.baseURL, apiVersionSegment) {
		return c.baseURL
	}
	return c.baseURL + apiVersionSegment
}

// Endpoint returns the chat completions URL.
func (c *Client) Endpoint() string {
	return c.apiBase() + chatCompletionsPath
}

// Send issues a non-streaming request and returns the JSON body verbatim.
func (c *Client) Send(ctx context.Context, req *domain.ChatRequest) (json.RawMessage, error) {
	if c.baseURL == "" {
		return nil, &domain.BackendError{Message: "SGLANG_BASE_URL not configured", StatusCode: 0, Cause: nil}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	logger := observability.FromContext(ctx)

	for attempt := 0; ; attempt++ {
		resp, sendErr := c.sendOnce(ctx, body)
		if sendErr == nil {
			metrics.BackendAttempts.WithLabelValues(metrics.ModeSync, metrics.OutcomeSuccess).Inc()
			return resp, nil
		}

		metrics.BackendAttempts.WithLabelValues(metrics.ModeSync, metrics.OutcomeAttemptFailed).Inc()
		logger.Warn("backend attempt failed",
			observability.Int("attempt", attempt),
			observability.Error(sendErr),
		)

		if !c.canRetry(ctx, attempt) {
			return nil, wrapBackendError(sendErr)
		}
		if waitErr := c.wait(ctx, metrics.ModeSync, attempt); waitErr != nil {
			return nil, wrapBackendError(sendErr)
		}
	}
}

func (c *Client) sendOnce(ctx context.Context, body []byte) (json.RawMessage, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq, false)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, domain.NewStatusError(resp.StatusCode, string(data))
	}

	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("failed to decode response: invalid JSON body (%d bytes)", len(data))
	}

	return data, nil
}

// Stream issues a streaming request. Connection failures and error statuses are
// retried before Stream returns; the returned cursor retries read failures from
// the same budget, each retry starting the stream over from its first event.
func (c *Client) Stream(ctx context.Context, req *domain.ChatRequest) (domain.EventStream, error) {
	if c.baseURL == "" {
		return nil, &domain.BackendError{Message: "SGLANG_BASE_URL not configured", StatusCode: 0, Cause: nil}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	stream := &eventStream{
		client: c,
		ctx:    ctx,
		body:   body,
	}

	if connectErr := stream.ensureConnected(); connectErr != nil {
		return nil, connectErr
	}

	return stream, nil
}

// openStream performs one streaming HTTP attempt and returns the open body.
func (c *Client) openStream(ctx context.Context, body []byte) (io.ReadCloser, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq, true)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, domain.NewStatusError(resp.StatusCode, string(data))
	}

	return resp.Body, nil
}

func (c *Client) setHeaders(req *http.Request, stream bool) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}
}

func (c *Client) canRetry(ctx context.Context, attempt int) bool {
	return attempt < c.maxRetries && ctx.Err() == nil
}

// wait sleeps Backoff^attempt seconds before the next attempt.
func (c *Client) wait(ctx context.Context, mode string, attempt int) error {
	delay := time.Duration(math.Pow(c.backoff, float64(attempt)) * float64(time.Second))

	metrics.BackendRetries.WithLabelValues(mode).Inc()
	observability.FromContext(ctx).Info("retrying backend request",
		observability.Int("attempt", attempt+1),
		observability.Float64("backoff_base", c.backoff),
		observability.Duration("backoff", delay),
	)

	return c.sleep(ctx, delay)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// wrapBackendError turns the last attempt's failure into the error surfaced to callers.
func wrapBackendError(err error) *domain.BackendError {
	statusCode := 0
	var backendErr *domain.BackendError
	if errors.As(err, &backendErr) {
		statusCode = backendErr.StatusCode
	}

	return &domain.BackendError{
		Message:    err.Error(),
		StatusCode: statusCode,
		Cause:      err,
	}
}
