// Package ratelimit implements GitLab API rate limit tracking and request gating.
// It monitors the RateLimit-Remaining and RateLimit-Reset headers so that
// clients stop before GitLab starts answering 429.
package ratelimit

import (
	"time"
)

// Redis keys for rate limit state storage.
const (
	RedisKeyRemaining      = "glcache:rate_limit:remaining"
	RedisKeyResetTimestamp = "glcache:rate_limit:reset_timestamp"
	RedisKeyLastUpdate     = "glcache:rate_limit:last_update"
)

// GitLab rate limit response headers.
const (
	HeaderLimit      = "RateLimit-Limit"
	HeaderRemaining  = "RateLimit-Remaining"
	HeaderReset      = "RateLimit-Reset" // unix timestamp
	HeaderRetryAfter = "Retry-After"
)

// Thresholds for rate limit decisions.
const (
	// ThresholdCritical blocks all requests when remaining requests fall below this value.
	ThresholdCritical = 5

	// ThresholdWarning applies throttling when remaining requests fall below this value.
	ThresholdWarning = 20

	// ThresholdHealthy indicates normal operation.
	ThresholdHealthy = 50
)

// RateLimitState represents the current GitLab rate limit window.
// This state is shared across all client instances via Redis.
type RateLimitState struct {
	// Remaining is the number of requests left in the current window.
	// Extracted from the RateLimit-Remaining header.
	Remaining int `json:"remaining"`

	// Limit is the window size from RateLimit-Limit, 0 when not reported.
	Limit int `json:"limit,omitempty"`

	// ResetAt is when the window resets (RateLimit-Reset, unix seconds).
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is the timestamp when this state was last updated.
	LastUpdate time.Time `json:"last_update"`

	// IsHealthy is true when Remaining >= ThresholdHealthy.
	IsHealthy bool `json:"is_healthy"`
}

// IsStale returns true if the state data is older than the given duration.
func (s *RateLimitState) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// NeedsCriticalBlock returns true if requests should be blocked.
// A window that has already reset never blocks.
func (s *RateLimitState) NeedsCriticalBlock() bool {
	return s.Remaining < ThresholdCritical && s.TimeUntilReset() > 0
}

// NeedsThrottling returns true if requests should be slowed down.
func (s *RateLimitState) NeedsThrottling() bool {
	return s.Remaining < ThresholdWarning && s.TimeUntilReset() > 0 && !s.NeedsCriticalBlock()
}

// TimeUntilReset returns the duration until the window resets.
// Returns 0 if the reset time has already passed.
func (s *RateLimitState) TimeUntilReset() time.Duration {
	duration := time.Until(s.ResetAt)
	if duration < 0 {
		return 0
	}
	return duration
}

// UpdateHealth updates the IsHealthy field based on current Remaining.
func (s *RateLimitState) UpdateHealth() {
	s.IsHealthy = s.Remaining >= ThresholdHealthy
}
