package providers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrBackendCall marks a failed call to a chat backend.
	ErrBackendCall = errors.New("backend call failed")

	// ErrBackendTimeout marks a chat backend call that exceeded its deadline.
	ErrBackendTimeout = errors.New("backend timed out")

	// ErrNotFound is returned by the registry for unknown provider names.
	ErrNotFound = errors.New("provider not found")
)

// BackendCallError wraps a failure from one named backend.
type BackendCallError struct {
	Backend string
	Err     error
}

func (e *BackendCallError) Error() string {
	return fmt.Sprintf("backend %s: %v", e.Backend, e.Err)
}

func (e *BackendCallError) Unwrap() []error { return []error{ErrBackendCall, e.Err} }

// BackendTimeoutError reports a backend that did not answer within Timeout.
type BackendTimeoutError struct {
	Backend string
	Timeout time.Duration
}

func (e *BackendTimeoutError) Error() string {
	return fmt.Sprintf("backend %s: no response within %s", e.Backend, e.Timeout)
}

func (e *BackendTimeoutError) Unwrap() error { return ErrBackendTimeout }

// ClassifyBackendError converts a raw client error into a BackendTimeoutError
// when the call's own deadline expired, or a BackendCallError otherwise.
func ClassifyBackendError(backend string, timeout time.Duration, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &BackendTimeoutError{Backend: backend, Timeout: timeout}
	}
	return &BackendCallError{Backend: backend, Err: err}
}

// RateLimitError is returned when a provider answers 429.
type RateLimitError struct {
	Message    string
	RetryAfter time.Duration
	StatusCode int
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s (retry after %s)", e.Message, e.RetryAfter)
	}
	return e.Message
}

// parseRetryAfter reads a Retry-After header given in seconds.
func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}

// HTTPStatusError is a non-2xx response from a provider's HTTP API.
type HTTPStatusError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("%s error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

// isRetryableHTTPError reports whether a request is worth repeating:
// transport errors, 429 and 5xx are; other statuses are not.
func isRetryableHTTPError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == 429 || statusErr.StatusCode >= 500
	}
	return true
}
