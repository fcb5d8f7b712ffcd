package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Sternrassler/gitlab-http-cache/pkg/auth"
	"github.com/Sternrassler/gitlab-http-cache/pkg/client"
	"github.com/Sternrassler/gitlab-http-cache/pkg/metrics"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Cache outcome reported to downstream clients.
const (
	headerCache      = "X-Cache"
	cacheMiss        = "MISS"
	cacheRevalidated = "REVALIDATED"
)

// forwardedHeaders are copied from the upstream response.
var forwardedHeaders = []string{
	"Content-Type",
	"ETag",
	"Link",
	"X-Page",
	"X-Per-Page",
	"X-Next-Page",
	"X-Prev-Page",
	"X-Total",
	"X-Total-Pages",
	"RateLimit-Limit",
	"RateLimit-Remaining",
	"RateLimit-Reset",
}

// proxy serves cached GitLab API GETs.
type proxy struct {
	executor *client.Executor
	upstream *url.URL
	redis    *redis.Client // nil when Redis is not configured
	tokens   *auth.Cached  // nil when unauthenticated
	timeout  time.Duration
	logger   zerolog.Logger
}

// router creates and configures the HTTP router
func (p *proxy) router() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/health", p.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/ready", p.handleReady).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	router.PathPrefix("/api/v4/").HandlerFunc(p.handleAPI).Methods(http.MethodGet)

	return router
}

func (p *proxy) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "healthy",
		"time":       time.Now().UTC(),
		"validators": p.executor.Validators().Size(),
	})
}

func (p *proxy) handleReady(w http.ResponseWriter, r *http.Request) {
	if p.redis != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := p.redis.Ping(ctx).Err(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "not ready",
				"error":  "redis unavailable",
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

// handleAPI forwards GET /api/v4/... upstream with conditional requests.
// A 304 from upstream is answered from the payload store; without a stored
// payload the resource is fetched again unconditionally.
func (p *proxy) handleAPI(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), p.timeout)
	defer cancel()

	target := p.upstreamURL(r)
	logger := p.logger.With().Str("path", r.URL.Path).Logger()

	res, err := p.executor.Do(ctx, client.Request{URL: target.String(), Conditional: true})
	if err != nil {
		p.writeError(w, logger, err)
		return
	}

	if res.NotModified {
		payload, err := p.executor.Fallback(res)
		if err == nil {
			for name, values := range payload.Header {
				w.Header()[name] = values
			}
			if payload.ContentType != "" {
				w.Header().Set("Content-Type", payload.ContentType)
			}
			p.respond(w, r, http.StatusOK, payload.ETag, payload.Body, cacheRevalidated)
			return
		}

		logger.Debug().Msg("No stored payload for 304, refetching")
		res, err = p.executor.Do(ctx, client.Request{URL: target.String()})
		if err != nil {
			p.writeError(w, logger, err)
			return
		}
	}

	for _, name := range forwardedHeaders {
		if v := res.Header.Values(name); len(v) > 0 {
			w.Header()[name] = v
		}
	}
	p.respond(w, r, res.StatusCode, res.Validator, res.Body, cacheMiss)
}

// upstreamURL maps a downstream request onto the upstream base URL,
// keeping encoded path segments such as group%2Fproject intact.
func (p *proxy) upstreamURL(r *http.Request) *url.URL {
	target := *p.upstream
	rawPath := strings.TrimRight(p.upstream.EscapedPath(), "/") + r.URL.EscapedPath()
	if path, err := url.PathUnescape(rawPath); err == nil {
		target.Path = path
		target.RawPath = rawPath
	} else {
		target.Path = strings.TrimRight(p.upstream.Path, "/") + r.URL.Path
		target.RawPath = ""
	}
	target.RawQuery = r.URL.RawQuery
	return &target
}

// respond writes body, or 304 when the downstream client already holds etag.
func (p *proxy) respond(w http.ResponseWriter, r *http.Request, status int, etag string, body []byte, outcome string) {
	w.Header().Set(headerCache, outcome)
	if etag != "" {
		w.Header().Set("ETag", etag)
		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		p.logger.Warn().Err(err).Msg("Failed to write response")
	}
}

// writeError maps executor errors to downstream responses.
func (p *proxy) writeError(w http.ResponseWriter, logger zerolog.Logger, err error) {
	var httpErr *client.HTTPError
	switch {
	case errors.As(err, &httpErr) && !errors.Is(err, client.ErrRetriesExhausted):
		if httpErr.StatusCode == http.StatusUnauthorized && p.tokens != nil {
			p.tokens.Invalidate()
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(httpErr.StatusCode)
		_, _ = w.Write(httpErr.Body)
	case errors.Is(err, client.ErrRateLimited):
		writeJSON(w, http.StatusTooManyRequests, map[string]any{"error": err.Error()})
	case errors.Is(err, client.ErrCanceled):
		writeJSON(w, http.StatusGatewayTimeout, map[string]any{"error": err.Error()})
	default:
		logger.Error().Err(err).Str("error_class", string(client.ClassOf(err))).Msg("Upstream request failed")
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
