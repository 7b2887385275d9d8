package sglang

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go/option"

	"github.com/davidbz/sglang-relay/internal/domain"
	"github.com/davidbz/sglang-relay/internal/observability"
)

const probeTimeout = 5 * time.Second

// Ready asks the backend for its served models. A backend that answers is
// loaded and accepting requests.
func (c *Client) Ready(ctx context.Context) ([]string, error) {
	if c.baseURL == "" {
		return nil, domain.ErrMissingBaseURL
	}

	page, err := c.sdk.Models.List(ctx, option.WithRequestTimeout(probeTimeout))
	if err != nil {
		observability.FromContext(ctx).Debug("backend readiness probe failed", observability.Error(err))
		return nil, fmt.Errorf("failed to list backend models: %w", err)
	}

	models := make([]string, 0, len(page.Data))
	for _, model := range page.Data {
		models = append(models, model.ID)
	}

	observability.FromContext(ctx).Debug("backend ready", observability.Strings("models", models))

	return models, nil
}
