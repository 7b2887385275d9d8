package domain

import (
	"errors"
	"fmt"
)

// BackendError is a failed exchange with the inference backend: a non-2xx status,
// a transport failure or an unparseable body.
type BackendError struct {
	Message    string
	StatusCode int
	Cause      error
}

// NewStatusError builds a BackendError for an HTTP error response.
func NewStatusError(statusCode int, body string) *BackendError {
	return &BackendError{
		Message:    fmt.Sprintf("HTTP %d: %s", statusCode, body),
		StatusCode: statusCode,
		Cause:      nil,
	}
}

// Error implements the error interface.
func (e *BackendError) Error() string {
	if e.Message == "" && e.Cause != nil {
		return e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying error for error chain support.
func (e *BackendError) Unwrap() error {
	return e.Cause
}

// ConfigurationError is a precondition failure detected before any network call.
type ConfigurationError struct {
	Message string
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	return e.Message
}

var (
	// ErrMissingBaseURL is reported when no backend URL is configured.
	ErrMissingBaseURL = &ConfigurationError{Message: "Missing SGLANG_BASE_URL env var"}

	// ErrMissingMessages is reported when the input resolves to no messages.
	ErrMissingMessages = &ConfigurationError{Message: "Missing 'messages' or 'prompt' in input"}

	// ErrCacheMiss indicates no cached entry was found.
	ErrCacheMiss = errors.New("cache miss")
)

// ClassifyError maps any relay failure to its caller-visible shape.
func ClassifyError(err error) ErrorResult {
	var configErr *ConfigurationError
	if errors.As(err, &configErr) {
		return ErrorResult{Error: configErr.Message, Type: ErrorTypeConfiguration}
	}

	var backendErr *BackendError
	if errors.As(err, &backendErr) {
		return ErrorResult{Error: backendErr.Error(), Type: ErrorTypeBackend}
	}

	return ErrorResult{Error: err.Error(), Type: ErrorTypeUnknown}
}
