package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimitState_IsStale(t *testing.T) {
	tests := []struct {
		name     string
		state    *RateLimitState
		maxAge   time.Duration
		expected bool
	}{
		{
			name:     "fresh state",
			state:    &RateLimitState{LastUpdate: time.Now()},
			maxAge:   5 * time.Minute,
			expected: false,
		},
		{
			name:     "stale state",
			state:    &RateLimitState{LastUpdate: time.Now().Add(-10 * time.Minute)},
			maxAge:   5 * time.Minute,
			expected: true,
		},
		{
			name:     "just under max age",
			state:    &RateLimitState{LastUpdate: time.Now().Add(-4 * time.Minute)},
			maxAge:   5 * time.Minute,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.state.IsStale(tt.maxAge))
		})
	}
}

func TestRateLimitState_Gating(t *testing.T) {
	future := time.Now().Add(60 * time.Second)
	past := time.Now().Add(-60 * time.Second)

	tests := []struct {
		name           string
		remaining      int
		resetAt        time.Time
		expectBlock    bool
		expectThrottle bool
	}{
		{name: "healthy", remaining: 100, resetAt: future},
		{name: "at healthy threshold", remaining: ThresholdHealthy, resetAt: future},
		{name: "warning", remaining: 15, resetAt: future, expectThrottle: true},
		{name: "at critical threshold", remaining: ThresholdCritical, resetAt: future, expectThrottle: true},
		{name: "critical", remaining: 3, resetAt: future, expectBlock: true},
		{name: "zero remaining", remaining: 0, resetAt: future, expectBlock: true},
		{name: "critical but window reset", remaining: 0, resetAt: past},
		{name: "warning but window reset", remaining: 10, resetAt: past},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := &RateLimitState{Remaining: tt.remaining, ResetAt: tt.resetAt, LastUpdate: time.Now()}
			state.UpdateHealth()

			assert.Equal(t, tt.expectBlock, state.NeedsCriticalBlock(), "NeedsCriticalBlock (remaining=%d)", tt.remaining)
			assert.Equal(t, tt.expectThrottle, state.NeedsThrottling(), "NeedsThrottling (remaining=%d)", tt.remaining)
		})
	}
}

func TestRateLimitState_TimeUntilReset(t *testing.T) {
	state := &RateLimitState{ResetAt: time.Now().Add(30 * time.Second)}
	d := state.TimeUntilReset()
	assert.Greater(t, d, 29*time.Second)
	assert.LessOrEqual(t, d, 30*time.Second)

	state.ResetAt = time.Now().Add(-time.Second)
	assert.Equal(t, time.Duration(0), state.TimeUntilReset())
}

func TestRateLimitState_UpdateHealth(t *testing.T) {
	state := &RateLimitState{Remaining: ThresholdHealthy}
	state.UpdateHealth()
	assert.True(t, state.IsHealthy)

	state.Remaining = ThresholdHealthy - 1
	state.UpdateHealth()
	assert.False(t, state.IsHealthy)
}

func TestThresholdConstants(t *testing.T) {
	assert.Less(t, ThresholdCritical, ThresholdWarning)
	assert.Less(t, ThresholdWarning, ThresholdHealthy)
}
