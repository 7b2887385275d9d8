package config

import (
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.uber.org/dig"

	"github.com/davidbz/sglang-relay/internal/cache/redis"
	"github.com/davidbz/sglang-relay/internal/domain"
	"github.com/davidbz/sglang-relay/internal/observability"
	"github.com/davidbz/sglang-relay/internal/provider/sglang"
	"github.com/davidbz/sglang-relay/internal/warmup"
)

// Config represents the relay worker configuration.
type Config struct {
	Server  ServerConfig
	CORS    CORSConfig
	Backend sglang.Config
	Relay   domain.RelayConfig
	Warmup  warmup.Config
	Cache   redis.Config
	Log     observability.LogConfig
}

// ServerConfig contains HTTP server settings. A zero WriteTimeout leaves
// long-running streams open.
type ServerConfig struct {
	Port         int `env:"SERVER_PORT"          envDefault:"8080"`
	ReadTimeout  int `env:"SERVER_READ_TIMEOUT"  envDefault:"30"`
	WriteTimeout int `env:"SERVER_WRITE_TIMEOUT" envDefault:"0"`
}

// CORSConfig contains CORS policy settings.
type CORSConfig struct {
	AllowedOrigins   []string `env:"CORS_ALLOWED_ORIGINS"   envSeparator:"," envDefault:"*"`
	AllowedMethods   []string `env:"CORS_ALLOWED_METHODS"   envSeparator:"," envDefault:"GET,POST,OPTIONS"`
	AllowedHeaders   []string `env:"CORS_ALLOWED_HEADERS"   envSeparator:"," envDefault:"Content-Type,Authorization"`
	AllowCredentials bool     `env:"CORS_ALLOW_CREDENTIALS"                  envDefault:"true"`
	MaxAge           int      `env:"CORS_MAX_AGE"                            envDefault:"86400"`
}

// DepConfig is used for dependency injection with dig.
type DepConfig struct {
	dig.Out

	Server  *ServerConfig
	CORS    *CORSConfig
	Backend *sglang.Config
	Relay   *domain.RelayConfig
	Warmup  *warmup.Config
	Cache   *redis.Config
	Log     *observability.LogConfig
}

// Load loads environment files and parses configuration.
func Load() (*Config, error) {
	for _, file := range []string{".env"} {
		_ = godotenv.Load(file)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ParseDependenciesConfig returns pointers to sub-configs for dependency injection.
func ParseDependenciesConfig(cfg *Config) DepConfig {
	return DepConfig{
		Out:     dig.Out{},
		Server:  &cfg.Server,
		CORS:    &cfg.CORS,
		Backend: &cfg.Backend,
		Relay:   &cfg.Relay,
		Warmup:  &cfg.Warmup,
		Cache:   &cfg.Cache,
		Log:     &cfg.Log,
	}
}
