// Package errors provides structured error types shared by the GitLab client,
// the context cache and the session layer.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for common failure modes.
var (
	ErrTransport     = errors.New("transport failure")
	ErrAuthFailure   = errors.New("authentication failed")
	ErrNotFound      = errors.New("resource not found")
	ErrNotConfigured = errors.New("not configured")
	ErrNoProject     = errors.New("no project selected")
	ErrRateLimit     = errors.New("rate limit exceeded")
	ErrUnavailable   = errors.New("service unavailable")
	ErrInvalidInput  = errors.New("invalid input")
)

// APIError represents a non-2xx answer from an external API.
type APIError struct {
	Service    string
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s API error (status %d): %s: %v", e.Service, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("%s API error (status %d): %s", e.Service, e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

// NewAPIError creates a new API error. Status codes with a matching sentinel
// (401/403, 404, 429, 503) wrap it so callers can use errors.Is.
func NewAPIError(service string, statusCode int, message string) *APIError {
	e := &APIError{Service: service, StatusCode: statusCode, Message: message}
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		e.Err = ErrAuthFailure
	case http.StatusNotFound:
		e.Err = ErrNotFound
	case http.StatusTooManyRequests:
		e.Err = ErrRateLimit
	case http.StatusServiceUnavailable:
		e.Err = ErrUnavailable
	}
	return e
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// IsRetryable returns true if the error is likely transient and worth retrying.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429, 500, 502, 503, 504:
			return true
		}
		return false
	}
	return errors.Is(err, ErrTransport) || errors.Is(err, ErrRateLimit) || errors.Is(err, ErrUnavailable)
}

// IsAuth reports whether err means the credentials were rejected.
func IsAuth(err error) bool {
	return errors.Is(err, ErrAuthFailure)
}
