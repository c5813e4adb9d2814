package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrProviderNotFound indicates an unknown provider id.
	ErrProviderNotFound = errors.New("provider not found")

	// ErrSyntheticUnavailable means the last-resort backend failed. Treated as fatal.
	ErrSyntheticUnavailable = errors.New("synthetic provider unavailable")

	// ErrConfiguration marks fatal configuration problems found at startup.
	ErrConfiguration = errors.New("invalid gateway configuration")

	// ErrRateLimited is matched by RateLimitedError.
	ErrRateLimited = errors.New("rate limited")

	// ErrNotInitialized is returned by Send before Init has completed.
	ErrNotInitialized = errors.New("gateway not initialized")

	// ErrInvalidRequest marks caller input the gateway refuses to route.
	ErrInvalidRequest = errors.New("invalid request")
)

// ErrorKind classifies backend failures for the failover state machine.
type ErrorKind string

const (
	ErrorKindNone           ErrorKind = ""
	ErrorKindAuthentication ErrorKind = "authentication"
	ErrorKindRateLimit      ErrorKind = "rate_limit"
	ErrorKindTransient      ErrorKind = "transient"
	ErrorKindFatal          ErrorKind = "fatal"
)

// Retryable reports whether another attempt may succeed.
func (k ErrorKind) Retryable() bool {
	return k != ErrorKindFatal
}

// BackendError is a classified error returned by a backend.
type BackendError struct {
	Kind       ErrorKind
	StatusCode int
	Provider   string
	Message    string
	Err        error
}

// NewBackendError creates a BackendError classified by HTTP status code.
func NewBackendError(provider string, statusCode int, message string, err error) *BackendError {
	return &BackendError{
		Kind:       KindFromStatus(statusCode),
		StatusCode: statusCode,
		Provider:   provider,
		Message:    message,
		Err:        err,
	}
}

// Error implements the error interface.
func (e *BackendError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("[%s] %s (provider=%s, code=%d)", e.Kind, e.Message, e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("[%s] %s (provider=%s)", e.Kind, e.Message, e.Provider)
}

// Unwrap returns the underlying error.
func (e *BackendError) Unwrap() error {
	return e.Err
}

// KindFromStatus maps an HTTP status code to an ErrorKind.
func KindFromStatus(code int) ErrorKind {
	switch {
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return ErrorKindAuthentication
	case code == http.StatusTooManyRequests:
		return ErrorKindRateLimit
	default:
		return ErrorKindTransient
	}
}

//nolint:gochecknoglobals // Read-only lookup tables
var (
	authMarkers = []string{
		"unauthorized", "forbidden", "invalid api key", "invalid_api_key",
		"incorrect api key", "api key expired", "authentication",
	}
	rateLimitMarkers = []string{
		"rate limit", "rate_limit", "too many requests", "quota",
	}
)

// Classify maps any error to an ErrorKind. Unknown errors are transient.
func Classify(err error) ErrorKind {
	if err == nil {
		return ErrorKindNone
	}

	var backendErr *BackendError
	if errors.As(err, &backendErr) {
		return backendErr.Kind
	}

	if errors.Is(err, ErrConfiguration) {
		return ErrorKindFatal
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorKindTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrorKindTransient
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range authMarkers {
		if strings.Contains(msg, marker) {
			return ErrorKindAuthentication
		}
	}
	for _, marker := range rateLimitMarkers {
		if strings.Contains(msg, marker) {
			return ErrorKindRateLimit
		}
	}

	return ErrorKindTransient
}

// RateLimitedError is returned when the rate limiter denies a request.
type RateLimitedError struct {
	Scope      string
	Identifier string
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s/%s, retry after %s", e.Scope, e.Identifier, e.RetryAfter)
}

// Unwrap lets errors.Is match ErrRateLimited.
func (e *RateLimitedError) Unwrap() error {
	return ErrRateLimited
}
