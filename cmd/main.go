package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/davidbz/sglang-relay/internal/cache/redis"
	"github.com/davidbz/sglang-relay/internal/config"
	"github.com/davidbz/sglang-relay/internal/domain"
	"github.com/davidbz/sglang-relay/internal/httpserver"
	"github.com/davidbz/sglang-relay/internal/httpserver/middleware"
	"github.com/davidbz/sglang-relay/internal/observability"
	"github.com/davidbz/sglang-relay/internal/provider/sglang"
	"github.com/davidbz/sglang-relay/internal/warmup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	container := buildContainer()

	// Logger first so every later component logs through it.
	if err := container.Invoke(func(logger *zap.Logger) {
		logger.Info("logger initialized")
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	if err := container.Invoke(func(client *sglang.Client, warmupCfg *warmup.Config, relayCfg *domain.RelayConfig) {
		warmup.Start(ctx, client, *warmupCfg, relayCfg.DefaultModel)
	}); err != nil {
		log.Fatalf("Failed to start warmup: %v", err)
	}

	err := container.Invoke(func(server *httpserver.Server) {
		errCh := make(chan error, 1)
		go func() {
			errCh <- server.Start()
		}()

		select {
		case startErr := <-errCh:
			if startErr != nil {
				log.Fatalf("Server failed to start: %v", startErr)
			}
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
				log.Printf("Server shutdown failed: %v", shutdownErr)
			}
		}
	})
	if err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}
}

func buildContainer() *dig.Container {
	container := dig.New()

	// Configuration
	if err := container.Provide(config.Load); err != nil {
		log.Fatalf("Failed to provide config: %v", err)
	}
	if err := container.Provide(config.ParseDependenciesConfig); err != nil {
		log.Fatalf("Failed to provide config dependencies: %v", err)
	}

	// Observability
	if err := container.Provide(observability.InitLogger); err != nil {
		log.Fatalf("Failed to provide logger: %v", err)
	}

	// SGLang backend client
	if err := container.Provide(func(cfg *sglang.Config) *sglang.Client {
		return sglang.NewClient(*cfg)
	}); err != nil {
		log.Fatalf("Failed to provide SGLang client: %v", err)
	}
	if err := container.Provide(func(client *sglang.Client) domain.Transport {
		return client
	}); err != nil {
		log.Fatalf("Failed to provide transport: %v", err)
	}
	if err := container.Provide(func(client *sglang.Client) httpserver.ReadinessProbe {
		return client
	}); err != nil {
		log.Fatalf("Failed to provide readiness probe: %v", err)
	}

	// Response cache (optional)
	if err := container.Provide(newResponseCache); err != nil {
		log.Fatalf("Failed to provide response cache: %v", err)
	}

	// Domain Services
	if err := container.Provide(func(
		transport domain.Transport,
		cfg *domain.RelayConfig,
		cache domain.ResponseCache,
	) *domain.RelayService {
		return domain.NewRelayService(transport, *cfg, cache)
	}); err != nil {
		log.Fatalf("Failed to provide relay service: %v", err)
	}

	// HTTP Layer
	if err := container.Provide(middleware.BuildMiddlewareChain); err != nil {
		log.Fatalf("Failed to provide middleware chain: %v", err)
	}
	if err := container.Provide(httpserver.NewHandler); err != nil {
		log.Fatalf("Failed to provide HTTP handler: %v", err)
	}
	if err := container.Provide(httpserver.NewServer); err != nil {
		log.Fatalf("Failed to provide HTTP server: %v", err)
	}

	return container
}

// newResponseCache returns nil when caching is disabled. An unreachable Redis
// is logged but not fatal; cache errors never fail a relay.
func newResponseCache(cfg *redis.Config, _ *zap.Logger) domain.ResponseCache {
	ctx := context.Background()
	logger := observability.FromContext(ctx)

	if !cfg.Enabled {
		logger.Info("response cache disabled")
		return nil
	}

	client := redis.NewClient(*cfg)
	cache := redis.NewResponseCache(client, cfg.TTL)

	if err := cache.Ping(ctx); err != nil {
		logger.Warn("response cache unreachable", observability.String("addr", cfg.Addr), observability.Error(err))
	} else {
		logger.Info("response cache enabled",
			observability.String("addr", cfg.Addr),
			observability.Duration("ttl", cfg.TTL))
	}

	return cache
}
