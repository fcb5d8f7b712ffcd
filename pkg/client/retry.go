package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
)

// RetryConfig holds the configuration for retry logic.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the initial request).
	MaxAttempts int

	// InitialBackoff is the initial backoff duration.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration.
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    500 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// Validate checks the configuration is usable.
func (c RetryConfig) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be >= 1 (got %d)", c.MaxAttempts)
	}
	if c.InitialBackoff < 0 || c.MaxBackoff < 0 {
		return fmt.Errorf("backoff durations must not be negative")
	}
	if c.BackoffMultiplier < 1 {
		return fmt.Errorf("backoff_multiplier must be >= 1 (got %v)", c.BackoffMultiplier)
	}
	return nil
}

// nextBackoff returns the exponential successor of backoff, capped at MaxBackoff.
func (c RetryConfig) nextBackoff(backoff time.Duration) time.Duration {
	next := time.Duration(float64(backoff) * c.BackoffMultiplier)
	if c.MaxBackoff > 0 && next > c.MaxBackoff {
		next = c.MaxBackoff
	}
	return next
}

// retryWithBackoff executes fn with exponential backoff retry logic.
// fn receives the 1-based attempt number. Errors are classified with ClassOf;
// only retryable classes are retried. It respects context cancellation and
// adds ±20% jitter to prevent thundering herd.
func retryWithBackoff(ctx context.Context, config RetryConfig, logger zerolog.Logger, fn func(attempt int) error) error {
	var lastErr error
	backoff := config.InitialBackoff

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		err := fn(attempt)
		if err == nil {
			if attempt > 1 {
				logger.Info().
					Int("attempt", attempt).
					Msg("Request succeeded after retry")
			}
			return nil
		}

		lastErr = err
		errorClass := ClassOf(err)

		if !shouldRetry(errorClass) {
			return err
		}

		if attempt >= config.MaxAttempts {
			break
		}

		glRetriesTotal.WithLabelValues(string(errorClass)).Inc()

		wait := time.Duration(float64(backoff) * (0.8 + rand.Float64()*0.4))
		if hint := retryAfterHint(err); hint > wait {
			wait = hint
			if config.MaxBackoff > 0 && wait > config.MaxBackoff {
				wait = config.MaxBackoff
			}
		}
		glRetryBackoffSeconds.WithLabelValues(string(errorClass)).Observe(wait.Seconds())

		logger.Warn().
			Err(err).
			Str("error_class", string(errorClass)).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Msg("Retrying request after backoff")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Warn().
				Str("error_class", string(errorClass)).
				Int("attempt", attempt).
				Msg("Context cancelled during retry backoff")
			return fmt.Errorf("%w: %w", ErrCanceled, ctx.Err())
		case <-timer.C:
		}

		backoff = config.nextBackoff(backoff)
	}

	errorClass := ClassOf(lastErr)
	glRetryExhaustedTotal.WithLabelValues(string(errorClass)).Inc()
	logger.Error().
		Err(lastErr).
		Str("error_class", string(errorClass)).
		Int("max_attempts", config.MaxAttempts).
		Msg("Retry attempts exhausted")

	return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, config.MaxAttempts, lastErr)
}

// retryAfterHint returns the Retry-After duration carried by err, if any.
func retryAfterHint(err error) time.Duration {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.RetryAfter
	}
	return 0
}
