package client

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/gitlab-http-cache/internal/testutil"
	"github.com/Sternrassler/gitlab-http-cache/pkg/cache"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const projectURL = "https://gitlab.example.com/api/v4/projects/42"

func newTestExecutor(t *testing.T, q *testutil.QueueTransport, mutate ...func(*Config)) *Executor {
	t.Helper()

	logger := zerolog.Nop()
	cfg := Config{
		Transport:  NewHTTPTransport(q.Client()),
		Validators: cache.NewValidatorCache(),
		Retry:      fastRetry(),
		Logger:     &logger,
	}
	for _, m := range mutate {
		m(&cfg)
	}

	ex, err := NewExecutor(cfg)
	require.NoError(t, err)
	return ex
}

func projectKey(t *testing.T) string {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, projectURL, nil)
	require.NoError(t, err)
	return cache.KeyFromRequest(req).String()
}

func TestNewExecutor_RequiresTransport(t *testing.T) {
	_, err := NewExecutor(Config{Retry: DefaultRetryConfig()})
	assert.Error(t, err)
}

func TestNewExecutor_InvalidRetry(t *testing.T) {
	q := testutil.NewQueueTransport()
	_, err := NewExecutor(Config{Transport: NewHTTPTransport(q.Client()), Retry: RetryConfig{}})
	assert.Error(t, err)
}

func TestExecutor_Do_RelativeURL(t *testing.T) {
	ex := newTestExecutor(t, testutil.NewQueueTransport())

	_, err := ex.Do(context.Background(), Request{URL: "/api/v4/projects"})
	assert.Error(t, err)
}

func TestExecutor_Do_RetriesServerErrorThenSucceeds(t *testing.T) {
	q := testutil.NewQueueTransport(
		testutil.QueuedResponse{StatusCode: http.StatusInternalServerError},
		testutil.QueuedResponse{StatusCode: http.StatusOK, Body: `{"id":42}`},
	)
	ex := newTestExecutor(t, q)

	res, err := ex.Do(context.Background(), Request{URL: projectURL})

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, `{"id":42}`, string(res.Body))
	assert.Equal(t, 2, res.Attempts)
	assert.Len(t, q.Requests(), 2)
}

func TestExecutor_Do_ConditionalRoundTrip(t *testing.T) {
	q := testutil.NewQueueTransport(
		testutil.QueuedResponse{StatusCode: http.StatusOK, Header: testutil.ETag(`"v1"`), Body: `{"id":42}`},
		testutil.QueuedResponse{StatusCode: http.StatusNotModified},
	)
	ex := newTestExecutor(t, q)
	ctx := context.Background()

	first, err := ex.Do(ctx, Request{URL: projectURL, Conditional: true})
	require.NoError(t, err)
	assert.False(t, first.NotModified)
	assert.Equal(t, `"v1"`, first.Validator)
	assert.Empty(t, q.Requests()[0].Header.Get("If-None-Match"))

	token, ok := ex.Validators().Get(projectKey(t))
	require.True(t, ok)
	assert.Equal(t, `"v1"`, token)

	second, err := ex.Do(ctx, Request{URL: projectURL, Conditional: true})
	require.NoError(t, err)
	assert.True(t, second.NotModified)
	assert.Empty(t, second.Body)
	assert.Equal(t, `"v1"`, second.Validator)
	assert.Equal(t, `"v1"`, q.Requests()[1].Header.Get("If-None-Match"))
}

func TestExecutor_Do_NotModifiedDoesNotMutateCache(t *testing.T) {
	q := testutil.NewQueueTransport(
		testutil.QueuedResponse{StatusCode: http.StatusNotModified, Header: testutil.ETag(`"other"`)},
	)
	ex := newTestExecutor(t, q)
	ex.Validators().Put(projectKey(t), `"v1"`)

	res, err := ex.Do(context.Background(), Request{URL: projectURL, Conditional: true})

	require.NoError(t, err)
	assert.True(t, res.NotModified)
	token, ok := ex.Validators().Get(projectKey(t))
	require.True(t, ok)
	assert.Equal(t, `"v1"`, token)
	assert.Equal(t, 1, ex.Validators().Size())
}

func TestExecutor_Do_UnconditionalSkipsValidator(t *testing.T) {
	q := testutil.NewQueueTransport(
		testutil.QueuedResponse{StatusCode: http.StatusOK, Body: `{}`},
	)
	ex := newTestExecutor(t, q)
	ex.Validators().Put(projectKey(t), `"v1"`)

	_, err := ex.Do(context.Background(), Request{URL: projectURL})

	require.NoError(t, err)
	assert.Empty(t, q.Requests()[0].Header.Get("If-None-Match"))
}

func TestExecutor_Do_AuthOnEveryAttempt(t *testing.T) {
	q := testutil.NewQueueTransport(
		testutil.QueuedResponse{StatusCode: http.StatusBadGateway},
		testutil.QueuedResponse{StatusCode: http.StatusServiceUnavailable},
		testutil.QueuedResponse{StatusCode: http.StatusOK, Body: `{}`},
	)
	calls := 0
	ex := newTestExecutor(t, q, func(c *Config) {
		c.Auth = AuthFunc(func(ctx context.Context) (string, error) {
			calls++
			return "Bearer X", nil
		})
	})

	res, err := ex.Do(context.Background(), Request{URL: projectURL})

	require.NoError(t, err)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 3, calls)
	for i, req := range q.Requests() {
		assert.Equal(t, "Bearer X", req.Header.Get("Authorization"), "attempt %d", i+1)
	}
}

func TestExecutor_Do_AuthFailureNotRetried(t *testing.T) {
	q := testutil.NewQueueTransport(testutil.QueuedResponse{StatusCode: http.StatusOK})
	ex := newTestExecutor(t, q, func(c *Config) {
		c.Auth = AuthFunc(func(ctx context.Context) (string, error) {
			return "", errors.New("token expired")
		})
	})

	_, err := ex.Do(context.Background(), Request{URL: projectURL})

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, ErrorClassAuth, ClassOf(err))
	assert.Empty(t, q.Requests())
}

func TestExecutor_Do_ClientErrorNotRetried(t *testing.T) {
	q := testutil.NewQueueTransport(
		testutil.QueuedResponse{StatusCode: http.StatusNotFound, Body: `{"message":"404 Project Not Found"}`},
		testutil.QueuedResponse{StatusCode: http.StatusOK},
	)
	ex := newTestExecutor(t, q)

	_, err := ex.Do(context.Background(), Request{URL: projectURL})

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusNotFound, httpErr.StatusCode)
	assert.Equal(t, ErrorClassClient, httpErr.ErrorClass)
	assert.Equal(t, `{"message":"404 Project Not Found"}`, string(httpErr.Body))
	assert.NotErrorIs(t, err, ErrRetriesExhausted)
	assert.Len(t, q.Requests(), 1)
	assert.Equal(t, 1, q.Remaining())
}

func TestExecutor_Do_RetriesExhausted(t *testing.T) {
	q := testutil.NewQueueTransport(
		testutil.QueuedResponse{StatusCode: http.StatusInternalServerError},
		testutil.QueuedResponse{StatusCode: http.StatusInternalServerError},
		testutil.QueuedResponse{StatusCode: http.StatusInternalServerError},
	)
	ex := newTestExecutor(t, q)

	_, err := ex.Do(context.Background(), Request{URL: projectURL})

	require.ErrorIs(t, err, ErrRetriesExhausted)
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, ErrorClassServer, httpErr.ErrorClass)
	assert.Len(t, q.Requests(), 3)
}

func TestExecutor_Do_TransportErrorRetried(t *testing.T) {
	q := testutil.NewQueueTransport(
		testutil.QueuedResponse{Err: errors.New("connection reset by peer")},
		testutil.QueuedResponse{StatusCode: http.StatusOK, Body: `[]`},
	)
	ex := newTestExecutor(t, q)

	res, err := ex.Do(context.Background(), Request{URL: projectURL})

	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
}

func TestExecutor_Do_TransportErrorExhausted(t *testing.T) {
	q := testutil.NewQueueTransport()
	ex := newTestExecutor(t, q)

	_, err := ex.Do(context.Background(), Request{URL: projectURL})

	require.ErrorIs(t, err, ErrRetriesExhausted)
	var transportErr *TransportError
	assert.ErrorAs(t, err, &transportErr)
}

func TestExecutor_Do_RateLimitRetried(t *testing.T) {
	h := make(http.Header)
	h.Set("Retry-After", "0")
	q := testutil.NewQueueTransport(
		testutil.QueuedResponse{StatusCode: http.StatusTooManyRequests, Header: h},
		testutil.QueuedResponse{StatusCode: http.StatusOK, Body: `{}`},
	)
	ex := newTestExecutor(t, q)

	res, err := ex.Do(context.Background(), Request{URL: projectURL})

	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
}

func TestExecutor_Do_CanceledStoresNoValidator(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	logger := zerolog.Nop()
	validators := cache.NewValidatorCache()

	ex, err := NewExecutor(Config{
		Transport: TransportFunc(func(req *http.Request) (*Response, error) {
			cancel()
			return &Response{StatusCode: http.StatusOK, Header: testutil.ETag(`"v1"`), Body: []byte(`{}`)}, nil
		}),
		Validators: validators,
		Retry:      fastRetry(),
		Logger:     &logger,
	})
	require.NoError(t, err)

	_, err = ex.Do(ctx, Request{URL: projectURL, Conditional: true})

	assert.ErrorIs(t, err, ErrCanceled)
	assert.Equal(t, 0, validators.Size())
}

func TestExecutor_Do_CanceledBeforeStart(t *testing.T) {
	q := testutil.NewQueueTransport(testutil.QueuedResponse{StatusCode: http.StatusOK})
	ex := newTestExecutor(t, q)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ex.Do(ctx, Request{URL: projectURL})
	assert.ErrorIs(t, err, ErrCanceled)
	assert.Equal(t, 0, ex.Validators().Size())
}

func TestExecutor_Do_DefaultHeaders(t *testing.T) {
	q := testutil.NewQueueTransport(testutil.QueuedResponse{StatusCode: http.StatusOK})
	ex := newTestExecutor(t, q)

	_, err := ex.Do(context.Background(), Request{
		URL:    projectURL,
		Header: http.Header{"X-Custom": []string{"1"}},
	})

	require.NoError(t, err)
	req := q.Requests()[0]
	assert.Equal(t, http.MethodGet, req.Method)
	assert.Equal(t, DefaultUserAgent, req.Header.Get("User-Agent"))
	assert.Equal(t, "application/json", req.Header.Get("Accept"))
	assert.Equal(t, "1", req.Header.Get("X-Custom"))
	assert.Empty(t, req.Header.Get("Authorization"))
}

func TestExecutor_Do_NonGetDoesNotStoreValidator(t *testing.T) {
	q := testutil.NewQueueTransport(
		testutil.QueuedResponse{StatusCode: http.StatusCreated, Header: testutil.ETag(`"v1"`)},
	)
	ex := newTestExecutor(t, q)

	_, err := ex.Do(context.Background(), Request{Method: http.MethodPost, URL: projectURL, Body: []byte(`{}`)})

	require.NoError(t, err)
	assert.Equal(t, 0, ex.Validators().Size())
}

func TestExecutor_Do_WithoutValidatorCache(t *testing.T) {
	q := testutil.NewQueueTransport(
		testutil.QueuedResponse{StatusCode: http.StatusOK, Header: testutil.ETag(`"v1"`)},
		testutil.QueuedResponse{StatusCode: http.StatusOK, Header: testutil.ETag(`"v1"`)},
	)
	ex := newTestExecutor(t, q, func(c *Config) { c.Validators = nil })

	for i := 0; i < 2; i++ {
		_, err := ex.Do(context.Background(), Request{URL: projectURL, Conditional: true})
		require.NoError(t, err)
	}
	assert.Empty(t, q.Requests()[1].Header.Get("If-None-Match"))
}

func newPayloadStore(t *testing.T) *cache.PayloadStore {
	t.Helper()
	store, err := cache.NewPayloadStore(context.Background(), cache.PayloadStoreConfig{
		MaxSizeMB:    8,
		MaxEntrySize: 1024,
		Shards:       16,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestExecutor_Fallback(t *testing.T) {
	q := testutil.NewQueueTransport(
		testutil.QueuedResponse{StatusCode: http.StatusOK, Header: testutil.ETag(`"v1"`), Body: `{"id":42}`},
		testutil.QueuedResponse{StatusCode: http.StatusNotModified},
	)
	store := newPayloadStore(t)
	ex := newTestExecutor(t, q, func(c *Config) { c.Payloads = store })
	ctx := context.Background()

	_, err := ex.Do(ctx, Request{URL: projectURL, Conditional: true})
	require.NoError(t, err)

	res, err := ex.Do(ctx, Request{URL: projectURL, Conditional: true})
	require.NoError(t, err)
	require.True(t, res.NotModified)

	payload, err := ex.Fallback(res)
	require.NoError(t, err)
	assert.Equal(t, `{"id":42}`, string(payload.Body))
	assert.Equal(t, `"v1"`, payload.ETag)
}

func TestExecutor_Fallback_NoStore(t *testing.T) {
	ex := newTestExecutor(t, testutil.NewQueueTransport())

	_, err := ex.Fallback(&Result{NotModified: true, Key: "k", Validator: `"v1"`})
	assert.ErrorIs(t, err, ErrNotModified)
}

func TestExecutor_Fallback_ValidatorMismatch(t *testing.T) {
	store := newPayloadStore(t)
	require.NoError(t, store.Set("k", &cache.Payload{ETag: `"old"`, Body: []byte(`{}`)}))
	ex := newTestExecutor(t, testutil.NewQueueTransport(), func(c *Config) { c.Payloads = store })

	_, err := ex.Fallback(&Result{NotModified: true, Key: "k", Validator: `"v1"`})
	assert.ErrorIs(t, err, ErrNotModified)
}

func TestExecutor_Do_BodyTooLargeRejected(t *testing.T) {
	q := testutil.NewQueueTransport(
		testutil.QueuedResponse{StatusCode: http.StatusOK, Header: testutil.ETag(`"v1"`), Body: strings.Repeat("x", 79)},
	)
	store := newPayloadStore(t)
	ex := newTestExecutor(t, q, func(c *Config) {
		c.Transport = NewHTTPTransport(q.Client()).WithMaxBodySize(32)
		c.Payloads = store
	})

	res, err := ex.Do(context.Background(), Request{URL: projectURL, Conditional: true})

	require.ErrorIs(t, err, ErrBodyTooLarge)
	assert.Nil(t, res)
	assert.Len(t, q.Requests(), 1, "oversized body must not be retried")
	_, ok := ex.Validators().Get(projectKey(t))
	assert.False(t, ok, "no validator for a rejected body")
	assert.Equal(t, 0, store.Len())
}

func TestHTTPTransport_BodyAtLimit(t *testing.T) {
	q := testutil.NewQueueTransport(
		testutil.QueuedResponse{StatusCode: http.StatusOK, Body: strings.Repeat("x", 32)},
	)
	transport := NewHTTPTransport(q.Client()).WithMaxBodySize(32)

	req, err := http.NewRequest(http.MethodGet, projectURL, nil)
	require.NoError(t, err)
	resp, err := transport.Do(req)

	require.NoError(t, err)
	assert.Len(t, resp.Body, 32)
}

func TestExecutor_Do_PayloadStoredBeforeValidator(t *testing.T) {
	q := testutil.NewQueueTransport(
		testutil.QueuedResponse{StatusCode: http.StatusOK, Header: testutil.ETag(`"v2"`), Body: `{"id":42,"rev":2}`},
	)
	store := newPayloadStore(t)
	key := projectKey(t)
	require.NoError(t, store.Set(key, &cache.Payload{ETag: `"v1"`, Body: []byte(`{"id":42,"rev":1}`)}))
	ex := newTestExecutor(t, q, func(c *Config) { c.Payloads = store })

	// Whenever the new validator is visible, the payload must already match it
	var wg sync.WaitGroup
	seen := make(chan string, 1)
	done := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			token, ok := ex.Validators().Get(key)
			if !ok {
				continue
			}
			payload, err := store.Get(key)
			if err == nil && token == `"v2"` {
				seen <- payload.ETag
				return
			}
		}
	}()

	_, err := ex.Do(context.Background(), Request{URL: projectURL, Conditional: true})
	require.NoError(t, err)

	select {
	case etag := <-seen:
		assert.Equal(t, `"v2"`, etag)
	case <-time.After(time.Second):
		t.Fatal("validator never became visible")
	}
	close(done)
	wg.Wait()
}
