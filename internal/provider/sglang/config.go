package sglang

// Config contains SGLang backend client configuration.
//   - BaseURL: OpenAI-compatible base, with or without the trailing /v1
//   - Timeout: seconds; bounds a whole non-streaming request and the wait for
//     response headers of a streaming one
//   - MaxRetries: extra attempts after the first failure
//   - Backoff: sleep before retry n is Backoff^n seconds
//   - MaxMalformedLines: consecutive unparseable stream lines tolerated, 0 = unbounded
type Config struct {
	BaseURL           string  `env:"SGLANG_BASE_URL"`
	APIKey            string  `env:"SGLANG_API_KEY"`
	Timeout           float64 `env:"SGLANG_TIMEOUT"             envDefault:"300"`
	MaxRetries        int     `env:"SGLANG_MAX_RETRIES"         envDefault:"2"`
	Backoff           float64 `env:"SGLANG_BACKOFF"             envDefault:"1.5"`
	MaxMalformedLines int     `env:"SGLANG_MAX_MALFORMED_LINES" envDefault:"0"`
}
