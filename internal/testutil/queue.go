package testutil

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"sync"
)

// ErrQueueEmpty is returned when a QueueTransport has no response left.
var ErrQueueEmpty = errors.New("testutil: no queued response")

// QueuedResponse is one canned outcome of a QueueTransport.
// If Err is set it is returned instead of a response.
type QueuedResponse struct {
	StatusCode int
	Header     http.Header
	Body       string
	Err        error
}

// QueueTransport is an http.RoundTripper that replays queued responses in
// order and records every request it receives.
type QueueTransport struct {
	mu        sync.Mutex
	responses []QueuedResponse
	requests  []*http.Request
}

// NewQueueTransport creates a transport that replays responses.
func NewQueueTransport(responses ...QueuedResponse) *QueueTransport {
	return &QueueTransport{responses: responses}
}

// Push appends responses to the queue.
func (q *QueueTransport) Push(responses ...QueuedResponse) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.responses = append(q.responses, responses...)
}

// RoundTrip implements http.RoundTripper.
func (q *QueueTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	q.mu.Lock()
	q.requests = append(q.requests, req.Clone(req.Context()))
	if len(q.responses) == 0 {
		q.mu.Unlock()
		return nil, ErrQueueEmpty
	}
	next := q.responses[0]
	q.responses = q.responses[1:]
	q.mu.Unlock()

	if next.Err != nil {
		return nil, next.Err
	}

	header := next.Header
	if header == nil {
		header = make(http.Header)
	}
	return &http.Response{
		StatusCode: next.StatusCode,
		Status:     http.StatusText(next.StatusCode),
		Header:     header,
		Body:       io.NopCloser(bytes.NewBufferString(next.Body)),
		Request:    req,
	}, nil
}

// Requests returns the requests received so far.
func (q *QueueTransport) Requests() []*http.Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*http.Request(nil), q.requests...)
}

// Remaining returns the number of queued responses not yet served.
func (q *QueueTransport) Remaining() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.responses)
}

// Client returns an *http.Client using q.
func (q *QueueTransport) Client() *http.Client {
	return &http.Client{Transport: q}
}

// ETag returns a header carrying etag.
func ETag(etag string) http.Header {
	h := make(http.Header)
	h.Set("ETag", etag)
	return h
}
