package sglang

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/davidbz/sglang-relay/internal/metrics"
	"github.com/davidbz/sglang-relay/internal/observability"
	"github.com/davidbz/sglang-relay/internal/sse"
)

// eventStream is the domain.EventStream returned by Client.Stream.
// It is not safe for concurrent use.
type eventStream struct {
	client *Client
	ctx    context.Context //nolint:containedctx // Bound to the lifetime of one stream
	body   []byte

	attempt   int
	delivered int
	resp      io.ReadCloser
	decoder   *sse.Decoder
	closed    bool
}

// Next returns the next backend event, or io.EOF when the stream is over.
func (s *eventStream) Next() (json.RawMessage, error) {
	for {
		if s.closed {
			return nil, io.EOF
		}

		if err := s.ensureConnected(); err != nil {
			return nil, err
		}

		event, err := s.decoder.Next()
		switch {
		case err == nil:
			s.delivered++
			return event, nil

		case errors.Is(err, io.EOF):
			metrics.BackendAttempts.WithLabelValues(metrics.ModeStream, metrics.OutcomeSuccess).Inc()
			s.closed = true
			s.release()
			return nil, io.EOF

		default:
			s.release()
			if s.delivered > 0 {
				// The next attempt restarts the generation; the caller may see
				// the already delivered prefix again.
				observability.FromContext(s.ctx).Warn("backend stream interrupted, restarting",
					observability.Int("events_delivered", s.delivered),
				)
				s.delivered = 0
			}
			if retryErr := s.retry(err); retryErr != nil {
				return nil, retryErr
			}
		}
	}
}

// Close releases the connection. Subsequent Next calls return io.EOF.
func (s *eventStream) Close() error {
	s.closed = true
	return s.release()
}

// ensureConnected opens the stream, retrying until an attempt succeeds or the
// retry budget is spent.
func (s *eventStream) ensureConnected() error {
	for s.decoder == nil {
		if s.closed {
			return io.EOF
		}

		resp, err := s.client.openStream(s.ctx, s.body)
		if err != nil {
			if retryErr := s.retry(err); retryErr != nil {
				return retryErr
			}
			continue
		}

		s.resp = resp
		s.decoder = sse.NewDecoder(sse.ScannerLines(resp),
			sse.WithMaxMalformed(s.client.maxMalformed),
			sse.WithSkipHook(s.skipped),
		)
	}
	return nil
}

// retry records a failed attempt and sleeps before the next one. It returns the
// final error once no attempt is left.
func (s *eventStream) retry(err error) error {
	metrics.BackendAttempts.WithLabelValues(metrics.ModeStream, metrics.OutcomeAttemptFailed).Inc()
	observability.FromContext(s.ctx).Warn("backend stream attempt failed",
		observability.Int("attempt", s.attempt),
		observability.Error(err),
	)

	if !s.client.canRetry(s.ctx, s.attempt) {
		s.closed = true
		return wrapBackendError(err)
	}
	if waitErr := s.client.wait(s.ctx, metrics.ModeStream, s.attempt); waitErr != nil {
		s.closed = true
		return wrapBackendError(err)
	}

	s.attempt++
	return nil
}

func (s *eventStream) release() error {
	s.decoder = nil
	if s.resp == nil {
		return nil
	}

	err := s.resp.Close()
	s.resp = nil
	return err
}

func (s *eventStream) skipped(line string) {
	metrics.MalformedLines.Inc()
	observability.FromContext(s.ctx).Debug("skipping malformed stream line",
		observability.Int("length", len(line)),
	)
}
