package middleware

import (
	"net/http"
	"slices"

	"github.com/rs/cors"

	"github.com/davidbz/sglang-relay/internal/config"
)

// CORS answers preflight requests for the worker routes. The trace headers set
// by Trace are exposed to browsers and X-Request-Id is always accepted.
func CORS(cfg *config.CORSConfig) Middleware {
	if cfg == nil {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	allowedHeaders := slices.Clone(cfg.AllowedHeaders)
	if !slices.Contains(allowedHeaders, requestIDHeader) {
		allowedHeaders = append(allowedHeaders, requestIDHeader)
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   cfg.AllowedMethods,
		AllowedHeaders:   allowedHeaders,
		ExposedHeaders:   []string{"X-Trace-Id", requestIDHeader},
		AllowCredentials: cfg.AllowCredentials,
		MaxAge:           cfg.MaxAge,
	})

	return c.Handler
}
