// Package client provides the resilient request executor for the GitLab
// REST API with conditional requests, retries, and error classification.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Sternrassler/gitlab-http-cache/pkg/cache"
	"github.com/Sternrassler/gitlab-http-cache/pkg/logging"
	"github.com/Sternrassler/gitlab-http-cache/pkg/ratelimit"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/Sternrassler/gitlab-http-cache/pkg/client"

// DefaultUserAgent is sent when Config.UserAgent is empty.
const DefaultUserAgent = "gitlab-http-cache/0.1.0"

// Request describes one logical HTTP call.
type Request struct {
	// Method defaults to GET
	Method string

	// URL is the absolute target URL
	URL string

	Header http.Header
	Body   []byte

	// Conditional sends If-None-Match when a validator is cached
	Conditional bool
}

// Result is the outcome of a successful logical call.
type Result struct {
	StatusCode int
	Header     http.Header
	Body       []byte

	// NotModified is true for a 304; Body is empty and the caller decides
	// whether it has something to show.
	NotModified bool

	// Validator is the ETag received with a 2xx, or the one sent for a 304
	Validator string

	// Key is the cache key of the request identity
	Key string

	// Attempts is the number of transport calls made
	Attempts int
}

// Config holds the executor configuration.
type Config struct {
	// Transport performs HTTP exchanges (required)
	Transport Transport

	// Auth supplies the Authorization header; nil sends requests unauthenticated
	Auth AuthProvider

	// Validators caches ETags; nil disables conditional requests
	Validators *cache.ValidatorCache

	// Payloads keeps 2xx bodies for 304 fallback; optional
	Payloads *cache.PayloadStore

	// RateLimiter gates requests on GitLab rate limit headers; optional
	RateLimiter *ratelimit.Tracker

	// Retry configures retry on 5xx, 429 and transport failures
	Retry RetryConfig

	// UserAgent header value
	UserAgent string

	// Logger defaults to the global logger with component=executor
	Logger *zerolog.Logger
}

// DefaultConfig returns a configuration with an HTTP transport, a default
// validator cache, and default retries.
func DefaultConfig() Config {
	return Config{
		Transport:  NewHTTPTransport(nil),
		Validators: cache.NewValidatorCache(),
		Retry:      DefaultRetryConfig(),
		UserAgent:  DefaultUserAgent,
	}
}

// Executor performs logical requests. It is safe for concurrent use.
type Executor struct {
	transport   Transport
	auth        AuthProvider
	validators  *cache.ValidatorCache
	payloads    *cache.PayloadStore
	rateLimiter *ratelimit.Tracker
	retry       RetryConfig
	userAgent   string
	logger      zerolog.Logger
	tracer      trace.Tracer
}

// NewExecutor creates a new executor.
func NewExecutor(cfg Config) (*Executor, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if err := cfg.Retry.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retry config: %w", err)
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}

	logger := log.With().Str("component", logging.ComponentExecutor).Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Executor{
		transport:   cfg.Transport,
		auth:        cfg.Auth,
		validators:  cfg.Validators,
		payloads:    cfg.Payloads,
		rateLimiter: cfg.RateLimiter,
		retry:       cfg.Retry,
		userAgent:   cfg.UserAgent,
		logger:      logger,
		tracer:      otel.Tracer(tracerName),
	}, nil
}

// Validators returns the validator cache (may be nil).
func (e *Executor) Validators() *cache.ValidatorCache {
	return e.validators
}

// Payloads returns the payload store (may be nil).
func (e *Executor) Payloads() *cache.PayloadStore {
	return e.payloads
}

// Do performs r with conditional headers, authorization, and retries.
//
// A 304 is returned as a Result with NotModified set, not as an error.
// Failures are one of *HTTPError (4xx), *TransportError, *AuthError,
// ErrRetriesExhausted, ErrCanceled or ErrRateLimited.
func (e *Executor) Do(ctx context.Context, r Request) (*Result, error) {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}

	target, err := url.Parse(r.URL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if !target.IsAbs() {
		return nil, fmt.Errorf("url must be absolute: %q", r.URL)
	}
	key := cache.KeyFromURL(target).String()

	ctx, span := e.tracer.Start(ctx, "glcache.request", trace.WithAttributes(
		attribute.String("http.request.method", method),
		attribute.String("url.path", target.Path),
		attribute.Bool("glcache.conditional", r.Conditional),
	))
	defer span.End()

	startTime := time.Now()
	defer func() {
		glRequestDuration.WithLabelValues(method).Observe(time.Since(startTime).Seconds())
	}()

	logger := e.logger.With().Str("method", method).Str("url", target.Redacted()).Logger()

	if e.rateLimiter != nil {
		allowed, err := e.rateLimiter.ShouldAllowRequest(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, e.fail(span, fmt.Errorf("%w: %w", ErrCanceled, ctx.Err()))
			}
			logger.Warn().Err(err).Msg("Rate limit check failed, continuing")
		} else if !allowed {
			return nil, e.fail(span, ErrRateLimited)
		}
	}

	var result *Result
	err = retryWithBackoff(ctx, e.retry, logger, func(attempt int) error {
		res, err := e.attempt(ctx, logger, method, target, key, r, attempt)
		if err != nil {
			return err
		}
		res.Attempts = attempt
		result = res
		return nil
	})
	if err != nil {
		return nil, e.fail(span, err)
	}

	// A request canceled after the response arrived must not mutate the cache
	if ctx.Err() != nil {
		return nil, e.fail(span, fmt.Errorf("%w: %w", ErrCanceled, ctx.Err()))
	}

	span.SetAttributes(
		attribute.Int("http.response.status_code", result.StatusCode),
		attribute.Int("glcache.attempts", result.Attempts),
	)

	if result.NotModified {
		glRequestsTotal.WithLabelValues("not_modified").Inc()
		glNotModifiedTotal.Inc()
		logger.Debug().Str("etag", result.Validator).Msg("304 Not Modified")
		span.SetStatus(codes.Ok, "not modified")
		return result, nil
	}

	e.store(logger, method, result)

	glRequestsTotal.WithLabelValues("ok").Inc()
	span.SetStatus(codes.Ok, "")
	return result, nil
}

// attempt performs a single transport call and classifies its outcome.
func (e *Executor) attempt(ctx context.Context, logger zerolog.Logger, method string, target *url.URL, key string, r Request, attempt int) (*Result, error) {
	var body io.Reader
	if r.Body != nil {
		body = bytes.NewReader(r.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	for name, values := range r.Header {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	req.Header.Set("User-Agent", e.userAgent)
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	var sent string
	if r.Conditional && e.validators != nil {
		if token, ok := e.validators.Get(key); ok {
			cache.AddConditionalHeaders(req, token)
			sent = token
			glConditionalRequestsTotal.Inc()
			logger.Debug().Str("etag", token).Int("attempt", attempt).Msg("Making conditional request")
		}
	}

	if e.auth != nil {
		value, err := e.auth.AuthorizationHeader(ctx)
		if err != nil {
			glErrorsTotal.WithLabelValues(string(ErrorClassAuth)).Inc()
			return nil, &AuthError{Err: err}
		}
		if value != "" {
			req.Header.Set("Authorization", value)
		}
	}

	span := trace.SpanFromContext(ctx)
	span.AddEvent("attempt", trace.WithAttributes(
		attribute.Int("glcache.attempt", attempt),
		attribute.Bool("glcache.validator_sent", sent != ""),
	))

	resp, err := e.transport.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrCanceled, ctx.Err())
		}
		if errors.Is(err, ErrBodyTooLarge) {
			// Same body on every attempt
			logger.Error().Err(err).Int("attempt", attempt).Msg("Response body rejected")
			return nil, err
		}
		glErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		glAttemptsTotal.WithLabelValues("network_error").Inc()
		logger.Warn().Err(err).Int("attempt", attempt).Msg("HTTP request failed")
		return nil, &TransportError{Err: err}
	}

	glAttemptsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

	if e.rateLimiter != nil {
		if err := e.rateLimiter.UpdateFromHeaders(ctx, resp.Header); err != nil {
			logger.Warn().Err(err).Msg("Failed to update rate limit from headers")
		}
	}

	if resp.StatusCode == http.StatusNotModified {
		return &Result{
			StatusCode:  resp.StatusCode,
			Header:      resp.Header,
			NotModified: true,
			Validator:   sent,
			Key:         key,
		}, nil
	}

	if errorClass := classifyStatus(resp.StatusCode); errorClass != "" {
		glErrorsTotal.WithLabelValues(string(errorClass)).Inc()
		logger.Warn().
			Int("status", resp.StatusCode).
			Str("error_class", string(errorClass)).
			Int("attempt", attempt).
			Msg("GitLab request error")

		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			ErrorClass: errorClass,
			Message:    http.StatusText(resp.StatusCode),
			Body:       resp.Body,
			RetryAfter: parseRetryAfter(resp.Header.Get(ratelimit.HeaderRetryAfter)),
		}
	}

	return &Result{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
		Validator:  cache.ValidatorFromHeader(resp.Header),
		Key:        key,
	}, nil
}

// store records the payload and then the validator of a 2xx result, so a
// request that sends the new validator finds the matching payload.
func (e *Executor) store(logger zerolog.Logger, method string, result *Result) {
	if result.Validator == "" || method != http.MethodGet {
		return
	}

	if e.payloads != nil {
		err := e.payloads.Set(result.Key, &cache.Payload{
			ETag:        result.Validator,
			Body:        result.Body,
			ContentType: result.Header.Get("Content-Type"),
			Header:      replayHeaders(result.Header),
			StoredAt:    time.Now(),
		})
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to store payload")
		}
	}

	if e.validators != nil {
		e.validators.Put(result.Key, result.Validator)
		logger.Debug().Str("etag", result.Validator).Msg("Stored validator")
	}
}

// Fallback returns the stored payload matching a 304 result.
// Returns ErrNotModified if no payload store is configured or the stored
// payload does not belong to the validator that was sent.
func (e *Executor) Fallback(result *Result) (*cache.Payload, error) {
	if result == nil || !result.NotModified || e.payloads == nil {
		return nil, ErrNotModified
	}

	payload, err := e.payloads.Get(result.Key)
	if err != nil {
		if !errors.Is(err, cache.ErrPayloadMiss) {
			e.logger.Warn().Err(err).Str("key", result.Key).Msg("Payload store read failed")
		}
		return nil, ErrNotModified
	}
	if payload.ETag != result.Validator {
		return nil, ErrNotModified
	}

	return payload, nil
}

// replayedHeaders are kept with a payload so a 304 can be answered in full.
var replayedHeaders = []string{
	"Link",
	"X-Page",
	"X-Per-Page",
	"X-Next-Page",
	"X-Prev-Page",
	"X-Total",
	"X-Total-Pages",
}

func replayHeaders(h http.Header) http.Header {
	out := make(http.Header)
	for _, name := range replayedHeaders {
		if v := h.Values(name); len(v) > 0 {
			out[http.CanonicalHeaderKey(name)] = append([]string(nil), v...)
		}
	}
	return out
}

// fail records err on span and metrics and returns it.
func (e *Executor) fail(span trace.Span, err error) error {
	glRequestsTotal.WithLabelValues("error").Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// parseRetryAfter parses a Retry-After value in seconds or HTTP-date form.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
