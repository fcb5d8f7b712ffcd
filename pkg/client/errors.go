package client

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Common errors returned by the executor.
var (
	// ErrRetriesExhausted is returned when every attempt failed with a retryable error.
	ErrRetriesExhausted = errors.New("retry attempts exhausted")

	// ErrCanceled is returned when the caller's context ends during a request or backoff.
	ErrCanceled = errors.New("request canceled")

	// ErrNotModified is returned by callers that received 304 but hold no
	// payload to fall back on.
	ErrNotModified = errors.New("not modified and no local payload")

	// ErrRateLimited is returned when the rate limit tracker blocks a request.
	ErrRateLimited = errors.New("request blocked: rate limit critical")

	// ErrBodyTooLarge is returned when a response body exceeds the transport limit.
	ErrBodyTooLarge = errors.New("response body too large")
)

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx and other non-retryable HTTP statuses.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 Too Many Requests.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents connection-level failures.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassDecode represents response bodies that failed to parse.
	ErrorClassDecode ErrorClass = "decode"

	// ErrorClassAuth represents failures of the auth provider.
	ErrorClassAuth ErrorClass = "auth"
)

// HTTPError is a response with an error status.
type HTTPError struct {
	StatusCode int
	ErrorClass ErrorClass
	Message    string
	Body       []byte

	// RetryAfter is the server's Retry-After hint, if any
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("GitLab %s error (status %d): %s", e.ErrorClass, e.StatusCode, e.Message)
}

// TransportError is a connection-level failure (DNS, TLS, refused, reset).
type TransportError struct {
	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure: %v", e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// DecodeError is a response body that did not match the expected shape.
type DecodeError struct {
	URL string
	Err error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode response from %s: %v", e.URL, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// AuthError is a failure to obtain the Authorization header.
type AuthError struct {
	Err error
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	return fmt.Sprintf("authorization: %v", e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *AuthError) Unwrap() error {
	return e.Err
}

// ClassOf returns the classification of err, or "" if err is not one of
// the executor's error kinds.
func ClassOf(err error) ErrorClass {
	var httpErr *HTTPError
	var transportErr *TransportError
	var decodeErr *DecodeError
	var authErr *AuthError

	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCanceled), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ""
	case errors.As(err, &httpErr):
		return httpErr.ErrorClass
	case errors.As(err, &transportErr):
		return ErrorClassNetwork
	case errors.As(err, &decodeErr):
		return ErrorClassDecode
	case errors.As(err, &authErr):
		return ErrorClassAuth
	default:
		return ""
	}
}

// IsRetryable reports whether err would be retried by the executor.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrRetriesExhausted) {
		return false
	}
	return shouldRetry(ClassOf(err))
}

// shouldRetry determines if an error should be retried based on its classification.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassServer:
		return true
	case ErrorClassRateLimit:
		return true
	case ErrorClassNetwork:
		return true
	default:
		// 4xx, decode and auth failures do not change on retry
		return false
	}
}

// classifyStatus maps an HTTP status to an error class.
// Returns "" for statuses that are not errors (2xx, 304).
func classifyStatus(status int) ErrorClass {
	switch {
	case status >= 200 && status < 300, status == 304:
		return ""
	case status == 429:
		return ErrorClassRateLimit
	case status >= 500 && status < 600:
		return ErrorClassServer
	default:
		return ErrorClassClient
	}
}
