package notionsync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrAdapterUnavailable = errors.New("notion page store unavailable")
	ErrNotFound           = errors.New("not found")
)

// APIError is a non-2xx response from the page store.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("notion request failed: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("notion request failed: status=%d message=%s", e.StatusCode, e.Message)
}

func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && (e.StatusCode == http.StatusNotFound || e.Code == "object_not_found")
}

// transientCodes are the Notion error codes worth another attempt.
var transientCodes = map[string]struct{}{
	"rate_limited":          {},
	"internal_server_error": {},
	"service_unavailable":   {},
	"conflict_error":        {},
	"gateway_timeout":       {},
}

func (e *APIError) Transient() bool {
	if _, ok := transientCodes[e.Code]; ok {
		return true
	}
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IsTransient classifies an error from a page store call. Rate limits,
// server-side failures, conflicts and network faults are transient; request
// validation, auth and not-found responses are not. Cancellation never is.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Transient()
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func retryAfterOf(err error) time.Duration {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.RetryAfter
	}
	return 0
}
