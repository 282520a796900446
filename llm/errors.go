package llm

import (
	"errors"
	"time"
)

// Error represents a provider-neutral LLM error.
type Error struct {
	Type        ErrorType
	Message     string
	Retryable   bool
	RetryAfter  *time.Duration
	StatusCode  int
	ProviderErr error // Original provider-specific error
}

// ErrorType represents the category of error.
type ErrorType string

const (
	// ErrorTypeAuth indicates a bad or missing credential. Never retried.
	ErrorTypeAuth ErrorType = "auth"
	// ErrorTypeRateLimit indicates the backend signaled throttling. Retried.
	ErrorTypeRateLimit ErrorType = "rate_limit"
	// ErrorTypeTransient indicates a network failure or timeout. Retried.
	ErrorTypeTransient ErrorType = "transient"
	// ErrorTypeProtocol indicates an unexpected response shape. Never retried.
	ErrorTypeProtocol ErrorType = "protocol"
	// ErrorTypeConnectionUnavailable indicates a local-only backend whose
	// service is down.
	ErrorTypeConnectionUnavailable ErrorType = "connection_unavailable"
)

// Error implements the error interface.
func (e *Error) Error() string {
	if e.ProviderErr != nil {
		return e.Message + ": " + e.ProviderErr.Error()
	}
	return e.Message
}

// Unwrap returns the underlying provider error.
func (e *Error) Unwrap() error {
	return e.ProviderErr
}

// IsAuthError checks if an error is an authentication error.
func IsAuthError(err error) bool {
	return errorTypeIs(err, ErrorTypeAuth)
}

// IsRateLimitError checks if an error is a rate limit error.
func IsRateLimitError(err error) bool {
	return errorTypeIs(err, ErrorTypeRateLimit)
}

// IsProtocolError checks if an error is a protocol error.
func IsProtocolError(err error) bool {
	return errorTypeIs(err, ErrorTypeProtocol)
}

// IsConnectionUnavailable checks if an error indicates an unreachable local
// backend.
func IsConnectionUnavailable(err error) bool {
	return errorTypeIs(err, ErrorTypeConnectionUnavailable)
}

// IsRetryableError checks if an error is retryable.
func IsRetryableError(err error) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Retryable
	}
	return false
}

// ExtractRetryAfter extracts the retry-after duration from an error.
func ExtractRetryAfter(err error) *time.Duration {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.RetryAfter
	}
	return nil
}

func errorTypeIs(err error, t ErrorType) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type == t
	}
	return false
}

// NewAuthError creates a new authentication error.
func NewAuthError(message string, providerErr error) *Error {
	return &Error{
		Type:        ErrorTypeAuth,
		Message:     message,
		Retryable:   false,
		ProviderErr: providerErr,
	}
}

// NewRateLimitError creates a new rate limit error.
func NewRateLimitError(message string, retryAfter *time.Duration, providerErr error) *Error {
	return &Error{
		Type:        ErrorTypeRateLimit,
		Message:     message,
		Retryable:   true,
		RetryAfter:  retryAfter,
		ProviderErr: providerErr,
	}
}

// NewTransientError creates a new transient (network/timeout) error.
func NewTransientError(message string, providerErr error) *Error {
	return &Error{
		Type:        ErrorTypeTransient,
		Message:     message,
		Retryable:   true,
		ProviderErr: providerErr,
	}
}

// NewProtocolError creates a new protocol error for unexpected response
// shapes.
func NewProtocolError(message string, providerErr error) *Error {
	return &Error{
		Type:        ErrorTypeProtocol,
		Message:     message,
		Retryable:   false,
		ProviderErr: providerErr,
	}
}

// NewConnectionUnavailableError creates an error for unreachable local
// backends.
func NewConnectionUnavailableError(message string, providerErr error) *Error {
	return &Error{
		Type:        ErrorTypeConnectionUnavailable,
		Message:     message,
		Retryable:   false,
		ProviderErr: providerErr,
	}
}
