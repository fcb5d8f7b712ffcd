package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for rate limit tracking.
var (
	glRequestsRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "glcache_rate_limit_remaining",
		Help: "Number of requests remaining in the current GitLab rate limit window",
	})

	glRequestsLimit = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "glcache_rate_limit_limit",
		Help: "Size of the current GitLab rate limit window",
	})

	glRateLimitBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "glcache_rate_limit_blocks_total",
		Help: "Total number of requests blocked due to critical rate limit",
	})

	glRateLimitThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "glcache_rate_limit_throttles_total",
		Help: "Total number of requests throttled due to warning rate limit",
	})
)

// DefaultThrottleDelay is how long a request waits in the warning state.
const DefaultThrottleDelay = time.Second

// Tracker monitors GitLab rate limits and gates requests.
type Tracker struct {
	redis         *redis.Client
	logger        zerolog.Logger
	throttleDelay time.Duration
}

// NewTracker creates a new rate limit tracker.
func NewTracker(redisClient *redis.Client, logger zerolog.Logger) *Tracker {
	return &Tracker{
		redis:         redisClient,
		logger:        logger,
		throttleDelay: DefaultThrottleDelay,
	}
}

// SetThrottleDelay overrides the warning-state delay (for testing).
func (t *Tracker) SetThrottleDelay(d time.Duration) {
	t.throttleDelay = d
}

// GetState retrieves the current rate limit state from Redis.
// Returns a default healthy state if no data exists in Redis.
func (t *Tracker) GetState(ctx context.Context) (*RateLimitState, error) {
	remaining, err := t.redis.Get(ctx, RedisKeyRemaining).Int()
	if errors.Is(err, redis.Nil) {
		t.logger.Debug().Msg("No rate limit state in Redis, returning default healthy state")
		return &RateLimitState{
			Remaining:  ThresholdHealthy * 2, // Assume healthy until we get real data
			ResetAt:    time.Now(),
			LastUpdate: time.Now(),
			IsHealthy:  true,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get remaining: %w", err)
	}

	resetTimestamp, err := t.redis.Get(ctx, RedisKeyResetTimestamp).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get reset timestamp: %w", err)
	}

	lastUpdateStr, err := t.redis.Get(ctx, RedisKeyLastUpdate).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get last update: %w", err)
	}

	var lastUpdate time.Time
	if lastUpdateStr != "" {
		if err := json.Unmarshal([]byte(lastUpdateStr), &lastUpdate); err != nil {
			return nil, fmt.Errorf("parse last update: %w", err)
		}
	}

	state := &RateLimitState{
		Remaining:  remaining,
		ResetAt:    time.Unix(resetTimestamp, 0),
		LastUpdate: lastUpdate,
	}
	state.UpdateHealth()

	return state, nil
}

// ParseHeaders extracts rate limit state from GitLab response headers.
// Returns nil, nil when the response carries no rate limit headers.
func ParseHeaders(headers http.Header) (*RateLimitState, error) {
	remainStr := headers.Get(HeaderRemaining)
	if remainStr == "" {
		// Header not present - self-managed instances may disable rate limits
		return nil, nil
	}

	remain, err := strconv.Atoi(remainStr)
	if err != nil {
		return nil, fmt.Errorf("parse %s header: %w", HeaderRemaining, err)
	}

	resetStr := headers.Get(HeaderReset)
	if resetStr == "" {
		return nil, fmt.Errorf("%s header missing", HeaderReset)
	}

	resetUnix, err := strconv.ParseInt(resetStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse %s header: %w", HeaderReset, err)
	}

	state := &RateLimitState{
		Remaining:  remain,
		ResetAt:    time.Unix(resetUnix, 0),
		LastUpdate: time.Now(),
	}
	// Limit is informational; a malformed value is ignored
	if limit, err := strconv.Atoi(headers.Get(HeaderLimit)); err == nil {
		state.Limit = limit
	}
	state.UpdateHealth()

	return state, nil
}

// UpdateFromHeaders parses GitLab rate limit headers and updates Redis state.
func (t *Tracker) UpdateFromHeaders(ctx context.Context, headers http.Header) error {
	state, err := ParseHeaders(headers)
	if err != nil || state == nil {
		return err
	}

	lastUpdateJSON, err := json.Marshal(state.LastUpdate)
	if err != nil {
		return fmt.Errorf("marshal last update: %w", err)
	}

	// Store in Redis atomically
	pipe := t.redis.TxPipeline()
	pipe.Set(ctx, RedisKeyRemaining, state.Remaining, 0)
	pipe.Set(ctx, RedisKeyResetTimestamp, state.ResetAt.Unix(), 0)
	pipe.Set(ctx, RedisKeyLastUpdate, lastUpdateJSON, 0)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store rate limit state in redis: %w", err)
	}

	glRequestsRemaining.Set(float64(state.Remaining))
	if state.Limit > 0 {
		glRequestsLimit.Set(float64(state.Limit))
	}

	switch {
	case state.NeedsCriticalBlock():
		t.logger.Error().
			Int("requests_remaining", state.Remaining).
			Time("reset_at", state.ResetAt).
			Msg("GitLab rate limit CRITICAL - requests will be blocked")
	case state.NeedsThrottling():
		t.logger.Warn().
			Int("requests_remaining", state.Remaining).
			Time("reset_at", state.ResetAt).
			Msg("GitLab rate limit WARNING - requests will be throttled")
	default:
		t.logger.Debug().
			Int("requests_remaining", state.Remaining).
			Time("reset_at", state.ResetAt).
			Bool("is_healthy", state.IsHealthy).
			Msg("GitLab rate limit state updated")
	}

	return nil
}

// ShouldAllowRequest checks if a request should be allowed based on current rate limit state.
// Returns false if the request should be blocked due to the critical threshold.
// In the warning state it waits for the throttle delay, honoring ctx.
func (t *Tracker) ShouldAllowRequest(ctx context.Context) (bool, error) {
	state, err := t.GetState(ctx)
	if err != nil {
		return false, fmt.Errorf("get rate limit state: %w", err)
	}

	if state.NeedsCriticalBlock() {
		t.logger.Error().
			Int("requests_remaining", state.Remaining).
			Dur("wait_duration", state.TimeUntilReset()).
			Msg("GitLab rate limit critical - blocking request")

		glRateLimitBlocksTotal.Inc()
		return false, nil
	}

	if state.NeedsThrottling() {
		t.logger.Warn().
			Int("requests_remaining", state.Remaining).
			Msg("GitLab rate limit warning - throttling request")

		glRateLimitThrottlesTotal.Inc()
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(t.throttleDelay):
		}
	}

	return true, nil
}
