package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/davidbz/sglang-relay/internal/domain"
	"github.com/davidbz/sglang-relay/internal/observability"
)

// ReadinessProbe reports whether the backend is serving.
type ReadinessProbe interface {
	Ready(ctx context.Context) ([]string, error)
}

// Handler handles HTTP requests.
type Handler struct {
	relay *domain.RelayService
	probe ReadinessProbe
}

// NewHandler creates a new HTTP handler (DI constructor).
func NewHandler(relay *domain.RelayService, probe ReadinessProbe) *Handler {
	return &Handler{
		relay: relay,
		probe: probe,
	}
}

type runResponse struct {
	ID     string          `json:"id"`
	Output json.RawMessage `json:"output"`
}

// HandleRun runs a job. Streaming jobs are answered as server-sent events.
func (h *Handler) HandleRun(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, false)
}

// HandleRunSync runs a job and always answers with one JSON object; the events
// of a streaming job are collected into an array.
func (h *Handler) HandleRunSync(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, true)
}

func (h *Handler) run(w http.ResponseWriter, r *http.Request, aggregate bool) {
	var job domain.Job
	if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	if job.ID == "" {
		job.ID = uuid.NewString()
	}

	ctx := observability.WithJobID(r.Context(), job.ID)
	if job.Input != nil {
		ctx = observability.WithModel(ctx, job.Input.ModelName())
	}

	logger := observability.FromContext(ctx)
	logger.Info("job received",
		observability.Bool("stream", job.Input.IsStreaming()),
		observability.Bool("aggregate", aggregate),
	)

	result := h.relay.Handle(ctx, &job)

	switch {
	case result.Events == nil:
		writeJSON(ctx, w, http.StatusOK, runResponse{ID: job.ID, Output: result.Output})
	case aggregate:
		writeJSON(ctx, w, http.StatusOK, runResponse{ID: job.ID, Output: domain.Aggregate(ctx, result.Events)})
	default:
		h.writeEvents(ctx, w, result.Events)
	}
}

func (h *Handler) writeEvents(ctx context.Context, w http.ResponseWriter, events <-chan json.RawMessage) {
	logger := observability.FromContext(ctx)

	flusher, ok := w.(http.Flusher)
	if !ok {
		logger.Error("streaming not supported")
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	// Set headers for SSE.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sent := 0
	for {
		select {
		case <-ctx.Done():
			// Client disconnected; the relay releases the backend stream.
			logger.Info("stream context done",
				observability.Int("events", sent),
				observability.Error(ctx.Err()),
			)
			return

		case event, eventOk := <-events:
			if !eventOk {
				logger.Info("stream completed", observability.Int("events", sent))
				return
			}

			fmt.Fprintf(w, "data: %s\n\n", event)
			flusher.Flush()
			sent++
		}
	}
}

// HandleHealth handles liveness checks.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// HandleReady reports 200 once the backend lists its models and 503 before.
func (h *Handler) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	models, err := h.probe.Ready(ctx)
	if err != nil {
		writeJSON(ctx, w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"error":  err.Error(),
		})
		return
	}

	writeJSON(ctx, w, http.StatusOK, map[string]any{
		"status": "ready",
		"models": models,
	})
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Already written status, can't change it, just log.
		observability.FromContext(ctx).Error("failed to encode response", observability.Error(err))
	}
}
