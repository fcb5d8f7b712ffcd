package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/gitlab-http-cache/pkg/logging"
	"github.com/maypok86/otter/v2"
	"github.com/maypok86/otter/v2/stats"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultCacheTTL bounds how long a token is reused even if it does not expire.
	DefaultCacheTTL = 15 * time.Minute

	// DefaultRefreshMargin refreshes tokens this long before they expire.
	DefaultRefreshMargin = 30 * time.Second
)

// Cached wraps a TokenSource and reuses its token until it is about to
// expire. Concurrent callers on a miss share a single fetch.
type Cached struct {
	source  TokenSource
	key     string
	margin  time.Duration
	now     func() time.Time
	cache   *otter.Cache[string, Token]
	counter *stats.Counter
	logger  zerolog.Logger

	fetchMu sync.Mutex
}

// CachedOption configures Cached.
type CachedOption func(*Cached)

// WithRefreshMargin sets how early an expiring token is replaced.
func WithRefreshMargin(d time.Duration) CachedOption {
	return func(c *Cached) {
		if d >= 0 {
			c.margin = d
		}
	}
}

// WithCacheClock replaces time.Now (for testing).
func WithCacheClock(now func() time.Time) CachedOption {
	return func(c *Cached) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCached creates a caching provider over source. key identifies the
// credential (e.g. the GitLab host) in logs and in the cache.
func NewCached(source TokenSource, key string, ttl time.Duration, opts ...CachedOption) *Cached {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}

	counter := stats.NewCounter()
	c := &Cached{
		source:  source,
		key:     key,
		margin:  DefaultRefreshMargin,
		now:     time.Now,
		counter: counter,
		cache: otter.Must(&otter.Options[string, Token]{
			MaximumSize:      16,
			StatsRecorder:    counter,
			ExpiryCalculator: otter.ExpiryCreating[string, Token](ttl),
		}),
		logger: log.With().Str("component", logging.ComponentAuth).Str("key", key).Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AuthorizationHeader returns "Bearer <token>", fetching a token when none
// is cached or the cached one is about to expire.
func (c *Cached) AuthorizationHeader(ctx context.Context) (string, error) {
	token, err := c.Token(ctx)
	if err != nil {
		return "", err
	}
	return bearer(token.Value), nil
}

// Token returns a valid token.
func (c *Cached) Token(ctx context.Context) (Token, error) {
	if token, ok := c.cached(); ok {
		return token, nil
	}

	c.fetchMu.Lock()
	defer c.fetchMu.Unlock()

	// Another caller may have fetched while we waited
	if token, ok := c.cached(); ok {
		return token, nil
	}

	token, err := c.source.Token(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Token fetch failed")
		return Token{}, fmt.Errorf("fetch token: %w", err)
	}
	if !token.Valid(c.now(), c.margin) {
		return Token{}, fmt.Errorf("%w: token source returned an expired token", ErrNoToken)
	}

	c.cache.Set(c.key, token)
	c.logger.Debug().Time("expiry", token.Expiry).Msg("Token cached")
	return token, nil
}

// Invalidate drops the cached token, e.g. after a 401.
func (c *Cached) Invalidate() {
	c.cache.Invalidate(c.key)
}

func (c *Cached) cached() (Token, bool) {
	entry, ok := c.cache.GetEntry(c.key)
	if !ok {
		return Token{}, false
	}
	if !entry.Value.Valid(c.now(), c.margin) {
		c.cache.Invalidate(c.key)
		return Token{}, false
	}
	return entry.Value, true
}
