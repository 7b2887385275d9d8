// Package metrics defines the prometheus metrics the relay exposes on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Relay outcomes used as the "outcome" label.
const (
	OutcomeSuccess       = "success"
	OutcomeBackendError  = "backend_error"
	OutcomeConfigError   = "configuration_error"
	OutcomeUnknownError  = "unknown_error"
	OutcomeCacheHit      = "cache_hit"
	OutcomeAttemptFailed = "failed"
	OutcomeSkipped       = "skipped"
)

// Relay modes used as the "mode" label.
const (
	ModeSync   = "sync"
	ModeStream = "stream"
)

var (
	// RelayRequests counts finished relays by mode and outcome.
	RelayRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sglang_relay_requests_total",
			Help: "Total number of relayed jobs by mode and outcome",
		},
		[]string{"mode", "outcome"},
	)

	// RelayDuration observes the wall time of a relay from job to last event.
	RelayDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sglang_relay_duration_seconds",
			Help:    "Total time taken to relay a job in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 20, 30, 60, 120, 300, 600},
		},
		[]string{"mode"},
	)

	// BackendAttempts counts individual HTTP attempts against the backend.
	BackendAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sglang_relay_backend_attempts_total",
			Help: "Backend HTTP attempts by mode and outcome",
		},
		[]string{"mode", "outcome"},
	)

	// BackendRetries counts backoff sleeps taken before a new attempt.
	BackendRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sglang_relay_backend_retries_total",
			Help: "Backend retries after a failed attempt",
		},
		[]string{"mode"},
	)

	// StreamEvents counts backend events relayed to callers.
	StreamEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sglang_relay_stream_events_total",
			Help: "Stream events relayed to callers",
		},
	)

	// MalformedLines counts stream lines skipped by the decoder.
	MalformedLines = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sglang_relay_malformed_lines_total",
			Help: "Stream lines skipped because they were not valid JSON",
		},
	)

	// InflightRelays tracks relays currently in progress.
	InflightRelays = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sglang_relay_inflight",
			Help: "Current inflight relays",
		},
		[]string{"mode"},
	)

	// WarmupRuns counts startup warmup requests by outcome.
	WarmupRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sglang_relay_warmup_total",
			Help: "Warmup requests by outcome",
		},
		[]string{"outcome"},
	)
)
