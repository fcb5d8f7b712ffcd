// Package testutil provides testing utilities for the GitLab cache client.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock GitLab endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockGitLab is a configurable mock GitLab API server for testing.
type MockGitLab struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]http.HandlerFunc

	// Tracking
	RequestCount      int
	ConditionalCount  int
	LastRequestHeader http.Header
}

// NewMockGitLab creates a new mock GitLab server.
func NewMockGitLab() *MockGitLab {
	mock := &MockGitLab{
		handlers: make(map[string]http.HandlerFunc),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.LastRequestHeader = r.Header.Clone()
		if r.Header.Get("If-None-Match") != "" {
			mock.ConditionalCount++
		}
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}

		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockGitLab) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockGitLab) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockGitLab) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.ConditionalCount = 0
	m.LastRequestHeader = nil
}

// SetHandler sets a custom handler for a specific path.
func (m *MockGitLab) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a fixed response for a path.
func (m *MockGitLab) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			_, _ = w.Write([]byte(resp.Body))
		}
	})
}

// SetProjectIssues serves pages of a project's issues list. pages[i] is the
// JSON body of page i+1; X-Total-Pages and X-Next-Page are set accordingly.
// Each page answers If-None-Match with 304 when it matches the page's ETag.
func (m *MockGitLab) SetProjectIssues(projectID int, pages []string) {
	path := fmt.Sprintf("/api/v4/projects/%d/issues", projectID)
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		page, err := strconv.Atoi(r.URL.Query().Get("page"))
		if err != nil || page < 1 {
			page = 1
		}

		setRateLimitHeaders(w.Header(), 1000)
		w.Header().Set("X-Total-Pages", strconv.Itoa(len(pages)))
		w.Header().Set("X-Page", strconv.Itoa(page))
		if page < len(pages) {
			w.Header().Set("X-Next-Page", strconv.Itoa(page+1))
		} else {
			w.Header().Set("X-Next-Page", "")
		}

		if page > len(pages) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("[]"))
			return
		}

		NewConditionalHandler(fmt.Sprintf(`W/"issues-%d-%d"`, projectID, page), pages[page-1])(w, r)
	})
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockGitLab) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetConditionalCount returns the number of conditional requests.
func (m *MockGitLab) GetConditionalCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ConditionalCount
}

// GetLastRequestHeader returns a copy of the last request's headers.
func (m *MockGitLab) GetLastRequestHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastRequestHeader.Clone()
}

// defaultHandler answers like a GitLab endpoint with a constant ETag.
func (m *MockGitLab) defaultHandler(w http.ResponseWriter, r *http.Request) {
	NewConditionalHandler(`W/"default-etag"`, `{"status":"ok"}`)(w, r)
}

func setRateLimitHeaders(h http.Header, remaining int) {
	h.Set("RateLimit-Limit", "2000")
	h.Set("RateLimit-Remaining", strconv.Itoa(remaining))
	h.Set("RateLimit-Reset", strconv.FormatInt(time.Now().Add(time.Minute).Unix(), 10))
}

// NewHealthyResponse creates a 200 OK response with an ETag.
func NewHealthyResponse(data string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       data,
		Headers: map[string]string{
			"RateLimit-Remaining": "1000",
			"ETag":                `W/"test-etag-123"`,
			"Content-Type":        "application/json",
		},
	}
}

// NewNotModifiedResponse creates a 304 Not Modified response.
func NewNotModifiedResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusNotModified,
		Headers: map[string]string{
			"RateLimit-Remaining": "1000",
		},
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"message":"429 Too Many Requests"}`,
		Headers: map[string]string{
			"RateLimit-Remaining": "0",
			"Retry-After":         "1",
			"Content-Type":        "application/json",
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"message":"500 Internal Server Error"}`,
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
	}
}

// NewConditionalHandler returns a handler that answers 304 when
// If-None-Match equals etag, and 200 with data otherwise.
func NewConditionalHandler(etag string, data string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}

		w.Header().Set("ETag", etag)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(data))
	}
}
