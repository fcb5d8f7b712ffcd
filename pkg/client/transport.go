package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// DefaultMaxBodySize bounds how much of a response body is read.
const DefaultMaxBodySize = 32 << 20

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Transport performs a single HTTP exchange.
// Implementations return an error only for connection-level failures;
// any received status, including 5xx, is a Response.
type Transport interface {
	Do(req *http.Request) (*Response, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(req *http.Request) (*Response, error)

// Do implements Transport.
func (f TransportFunc) Do(req *http.Request) (*Response, error) {
	return f(req)
}

// HTTPTransport is a Transport over *http.Client.
type HTTPTransport struct {
	client      *http.Client
	maxBodySize int64
}

// NewHTTPTransport wraps client. A nil client gets a 30s timeout and an
// OpenTelemetry-instrumented round tripper.
func NewHTTPTransport(client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &HTTPTransport{
		client:      client,
		maxBodySize: DefaultMaxBodySize,
	}
}

// WithMaxBodySize sets the largest body Do accepts. Values below 1 are ignored.
func (t *HTTPTransport) WithMaxBodySize(n int64) *HTTPTransport {
	if n > 0 {
		t.maxBodySize = n
	}
	return t
}

// Do implements Transport.
// A body larger than the configured maximum fails with ErrBodyTooLarge.
func (t *HTTPTransport) Do(req *http.Request) (*Response, error) {
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if int64(len(body)) > t.maxBodySize {
		return nil, fmt.Errorf("%w: limit %d bytes", ErrBodyTooLarge, t.maxBodySize)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

// AuthProvider supplies the Authorization header value for each attempt.
// An empty value sends the request unauthenticated.
type AuthProvider interface {
	AuthorizationHeader(ctx context.Context) (string, error)
}

// AuthFunc adapts a function to AuthProvider.
type AuthFunc func(ctx context.Context) (string, error)

// AuthorizationHeader implements AuthProvider.
func (f AuthFunc) AuthorizationHeader(ctx context.Context) (string, error) {
	return f(ctx)
}
