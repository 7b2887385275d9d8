package domain

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/davidbz/sglang-relay/internal/metrics"
	"github.com/davidbz/sglang-relay/internal/observability"
)

//nolint:gochecknoglobals // Immutable JSON literals
var (
	jsonTrue  = json.RawMessage("true")
	jsonFalse = json.RawMessage("false")
)

// RelayService turns jobs into backend requests and shapes the responses.
type RelayService struct {
	transport Transport
	config    RelayConfig
	cache     ResponseCache
}

// NewRelayService creates a new relay service (DI constructor). cache may be nil.
func NewRelayService(transport Transport, config RelayConfig, cache ResponseCache) *RelayService {
	return &RelayService{
		transport: transport,
		config:    config,
		cache:     cache,
	}
}

// Handle runs a job in the mode its input asks for.
func (s *RelayService) Handle(ctx context.Context, job *Job) *Result {
	var input *JobInput
	if job != nil {
		input = job.Input
	}

	if input.IsStreaming() {
		return &Result{Output: nil, Events: s.Stream(ctx, input)}
	}

	return &Result{Output: s.Complete(ctx, input), Events: nil}
}

// Complete relays a non-streaming request. Failures are returned as an
// ErrorResult object, never as a Go error.
func (s *RelayService) Complete(ctx context.Context, input *JobInput) json.RawMessage {
	start := time.Now()
	metrics.InflightRelays.WithLabelValues(metrics.ModeSync).Inc()
	defer func() {
		metrics.InflightRelays.WithLabelValues(metrics.ModeSync).Dec()
		metrics.RelayDuration.WithLabelValues(metrics.ModeSync).Observe(time.Since(start).Seconds())
	}()

	req, err := s.prepare(input)
	if err != nil {
		return s.failure(ctx, metrics.ModeSync, err)
	}

	req.Stream = jsonFalse
	ctx = observability.WithModel(ctx, req.ModelName())
	logger := observability.FromContext(ctx)

	var cacheKey string
	if s.cache != nil {
		cacheKey = CacheKey(req)
		cached, cacheErr := s.cache.Get(ctx, cacheKey)
		switch {
		case cacheErr == nil:
			logger.Info("response cache hit", observability.String("cache_key", cacheKey))
			metrics.RelayRequests.WithLabelValues(metrics.ModeSync, metrics.OutcomeCacheHit).Inc()
			return cached
		case !errors.Is(cacheErr, ErrCacheMiss):
			logger.Warn("cache get failed, continuing without cache", observability.Error(cacheErr))
		}
	}

	logger.Debug("relaying completion request")

	response, err := s.transport.Send(ctx, req)
	if err != nil {
		return s.failure(ctx, metrics.ModeSync, err)
	}

	if s.cache != nil {
		if setErr := s.cache.Set(ctx, cacheKey, response); setErr != nil {
			logger.Warn("failed to store in cache", observability.Error(setErr))
		}
	}

	logger.Info("completion relayed",
		observability.Duration("elapsed", time.Since(start)),
		observability.Int("bytes", len(response)),
	)
	metrics.RelayRequests.WithLabelValues(metrics.ModeSync, metrics.OutcomeSuccess).Inc()

	return response
}

// Stream relays a streaming request. The returned channel yields a "started"
// status, every backend event in order, then either a "completed" status or a
// single ErrorResult, and is closed afterwards. Cancelling ctx abandons the
// stream and releases the backend connection.
func (s *RelayService) Stream(ctx context.Context, input *JobInput) <-chan json.RawMessage {
	events := make(chan json.RawMessage)

	go s.relayStream(ctx, input, events)

	return events
}

func (s *RelayService) relayStream(ctx context.Context, input *JobInput, events chan<- json.RawMessage) {
	defer close(events)

	start := time.Now()
	metrics.InflightRelays.WithLabelValues(metrics.ModeStream).Inc()
	defer func() {
		metrics.InflightRelays.WithLabelValues(metrics.ModeStream).Dec()
		metrics.RelayDuration.WithLabelValues(metrics.ModeStream).Observe(time.Since(start).Seconds())
	}()

	req, err := s.prepare(input)
	if err != nil {
		emit(ctx, events, s.failure(ctx, metrics.ModeStream, err))
		return
	}

	req.Stream = jsonTrue
	ctx = observability.WithModel(ctx, req.ModelName())
	logger := observability.FromContext(ctx)

	if !emit(ctx, events, mustMarshal(StatusEvent{Status: StatusStarted})) {
		logger.Info("stream abandoned before start")
		return
	}

	stream, err := s.transport.Stream(ctx, req)
	if err != nil {
		emit(ctx, events, s.failure(ctx, metrics.ModeStream, err))
		return
	}
	defer func() {
		if closeErr := stream.Close(); closeErr != nil {
			logger.Warn("failed to close backend stream", observability.Error(closeErr))
		}
	}()

	relayed := 0
	for {
		event, nextErr := stream.Next()
		if errors.Is(nextErr, io.EOF) {
			break
		}
		if nextErr != nil {
			emit(ctx, events, s.failure(ctx, metrics.ModeStream, nextErr))
			return
		}

		if !emit(ctx, events, event) {
			logger.Info("stream abandoned by caller", observability.Int("events_relayed", relayed))
			return
		}
		relayed++
		metrics.StreamEvents.Inc()
	}

	if emit(ctx, events, mustMarshal(StatusEvent{Status: StatusCompleted})) {
		logger.Info("stream relayed",
			observability.Int("events_relayed", relayed),
			observability.Duration("elapsed", time.Since(start)),
		)
		metrics.RelayRequests.WithLabelValues(metrics.ModeStream, metrics.OutcomeSuccess).Inc()
	}
}

// prepare normalizes input and checks the relay preconditions.
func (s *RelayService) prepare(input *JobInput) (*ChatRequest, error) {
	req := Normalize(input, s.config.DefaultModel)

	if s.transport.BaseURL() == "" {
		return nil, ErrMissingBaseURL
	}

	if !req.HasMessages() {
		return nil, ErrMissingMessages
	}

	return req, nil
}

// failure logs and counts err and returns its caller-visible object.
func (s *RelayService) failure(ctx context.Context, mode string, err error) json.RawMessage {
	result := ClassifyError(err)

	logger := observability.FromContext(ctx)
	switch result.Type {
	case ErrorTypeConfiguration:
		logger.Warn("relay rejected", observability.String("mode", mode), observability.Error(err))
		metrics.RelayRequests.WithLabelValues(mode, metrics.OutcomeConfigError).Inc()
	case ErrorTypeBackend:
		logger.Error("backend request failed", observability.String("mode", mode), observability.Error(err))
		metrics.RelayRequests.WithLabelValues(mode, metrics.OutcomeBackendError).Inc()
	default:
		logger.Error("relay failed", observability.String("mode", mode), observability.Error(err))
		metrics.RelayRequests.WithLabelValues(mode, metrics.OutcomeUnknownError).Inc()
	}

	return mustMarshal(result)
}

// emit delivers event unless the caller has gone away.
func emit(ctx context.Context, events chan<- json.RawMessage, event json.RawMessage) bool {
	select {
	case events <- event:
		return true
	case <-ctx.Done():
		return false
	}
}

// Aggregate drains a relayed stream into a single JSON array, for callers that
// want the whole stream as one result.
func Aggregate(ctx context.Context, events <-chan json.RawMessage) json.RawMessage {
	collected := make([]json.RawMessage, 0)

	for {
		select {
		case <-ctx.Done():
			return mustMarshal(collected)
		case event, ok := <-events:
			if !ok {
				return mustMarshal(collected)
			}
			collected = append(collected, event)
		}
	}
}
