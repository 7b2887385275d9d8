// Package warmup sends one small completion at process start so the backend
// loads its model before the first real job arrives.
package warmup

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/davidbz/sglang-relay/internal/domain"
	"github.com/davidbz/sglang-relay/internal/metrics"
	"github.com/davidbz/sglang-relay/internal/observability"
)

// Flag is enabled by any non-empty value, so "1", "yes" and even "0" turn it on.
type Flag bool

// UnmarshalText implements encoding.TextUnmarshaler. It never fails.
func (f *Flag) UnmarshalText(text []byte) error {
	*f = Flag(strings.TrimSpace(string(text)) != "")
	return nil
}

// Config contains warmup configuration.
type Config struct {
	OnStart   Flag   `env:"WARMUP_ON_START"`
	Model     string `env:"WARMUP_MODEL"`
	Prompt    string `env:"WARMUP_PROMPT"     envDefault:"ping"`
	MaxTokens int    `env:"WARMUP_MAX_TOKENS" envDefault:"1"`
}

// Sender is the part of domain.Transport warmup needs.
type Sender interface {
	Send(ctx context.Context, req *domain.ChatRequest) (json.RawMessage, error)
	BaseURL() string
}

// Start launches the warmup request in its own goroutine and returns a channel
// closed once it has finished or was skipped. Failures are logged and dropped.
// defaultModel is used when the warmup config names no model.
func Start(ctx context.Context, sender Sender, config Config, defaultModel string) <-chan struct{} {
	done := make(chan struct{})
	logger := observability.FromContext(ctx)

	if !config.OnStart {
		close(done)
		return done
	}

	if sender.BaseURL() == "" {
		logger.Info("warmup enabled but SGLANG_BASE_URL is missing, skipping warmup")
		metrics.WarmupRuns.WithLabelValues(metrics.OutcomeSkipped).Inc()
		close(done)
		return done
	}

	req := Request(config, defaultModel)

	go func() {
		defer close(done)

		logger.Info("starting warmup request", observability.String("prompt", config.Prompt))

		if _, err := sender.Send(ctx, req); err != nil {
			metrics.WarmupRuns.WithLabelValues(metrics.OutcomeAttemptFailed).Inc()
			logger.Warn("warmup failed", observability.Error(err))
			return
		}

		metrics.WarmupRuns.WithLabelValues(metrics.OutcomeSuccess).Inc()
		logger.Info("warmup completed")
	}()

	return done
}

// Request builds the warmup chat request.
func Request(config Config, defaultModel string) *domain.ChatRequest {
	messages := []domain.Message{{Role: domain.RoleUser, Content: config.Prompt}}

	req := &domain.ChatRequest{
		Messages:  mustMarshal(messages),
		Stream:    json.RawMessage("false"),
		MaxTokens: json.RawMessage(strconv.Itoa(config.MaxTokens)),
	}

	model := config.Model
	if model == "" {
		model = defaultModel
	}
	if model != "" {
		req.Model = mustMarshal(model)
	}

	return req
}

func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("warmup: marshal %T: %v", v, err))
	}
	return data
}
