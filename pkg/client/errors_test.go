package client

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		name       string
		errorClass ErrorClass
		expected   bool
	}{
		{name: "client error should not retry", errorClass: ErrorClassClient, expected: false},
		{name: "server error should retry", errorClass: ErrorClassServer, expected: true},
		{name: "rate limit should retry", errorClass: ErrorClassRateLimit, expected: true},
		{name: "network error should retry", errorClass: ErrorClassNetwork, expected: true},
		{name: "decode error should not retry", errorClass: ErrorClassDecode, expected: false},
		{name: "auth error should not retry", errorClass: ErrorClassAuth, expected: false},
		{name: "empty error class should not retry", errorClass: "", expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, shouldRetry(tt.errorClass))
		})
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorClass
	}{
		{200, ""},
		{204, ""},
		{304, ""},
		{400, ErrorClassClient},
		{401, ErrorClassClient},
		{404, ErrorClassClient},
		{429, ErrorClassRateLimit},
		{500, ErrorClassServer},
		{503, ErrorClassServer},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status=%d", tt.status), func(t *testing.T) {
			assert.Equal(t, tt.want, classifyStatus(tt.status))
		})
	}
}

func TestClassOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"nil", nil, ""},
		{"http server", &HTTPError{StatusCode: 502, ErrorClass: ErrorClassServer}, ErrorClassServer},
		{"wrapped http client", fmt.Errorf("get: %w", &HTTPError{StatusCode: 404, ErrorClass: ErrorClassClient}), ErrorClassClient},
		{"transport", &TransportError{Err: errors.New("connection refused")}, ErrorClassNetwork},
		{"decode", &DecodeError{URL: "u", Err: errors.New("bad")}, ErrorClassDecode},
		{"auth", &AuthError{Err: errors.New("no token")}, ErrorClassAuth},
		{"canceled", fmt.Errorf("%w: %w", ErrCanceled, context.Canceled), ""},
		{"deadline", context.DeadlineExceeded, ""},
		{"unknown", errors.New("boom"), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassOf(tt.err))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	serverErr := &HTTPError{StatusCode: 500, ErrorClass: ErrorClassServer}

	assert.True(t, IsRetryable(serverErr))
	assert.True(t, IsRetryable(&TransportError{Err: errors.New("reset")}))
	assert.False(t, IsRetryable(&HTTPError{StatusCode: 404, ErrorClass: ErrorClassClient}))
	assert.False(t, IsRetryable(fmt.Errorf("%w after 3 attempts: %w", ErrRetriesExhausted, serverErr)))
	assert.False(t, IsRetryable(ErrCanceled))
}

func TestHTTPError_Error(t *testing.T) {
	err := &HTTPError{StatusCode: 404, ErrorClass: ErrorClassClient, Message: "Not Found"}
	assert.Equal(t, "GitLab client error (status 404): Not Found", err.Error())
}

func TestTypedErrors_Unwrap(t *testing.T) {
	cause := errors.New("cause")

	assert.ErrorIs(t, &TransportError{Err: cause}, cause)
	assert.ErrorIs(t, &DecodeError{URL: "u", Err: cause}, cause)
	assert.ErrorIs(t, &AuthError{Err: cause}, cause)
}
