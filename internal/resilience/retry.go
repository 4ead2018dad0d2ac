package resilience

import (
	"context"
	"time"
)

// RetryConfig controls retry behavior.
type RetryConfig struct {
	MaxRetries   int              // Additional attempts after the first failure
	InitialDelay time.Duration    // Delay before the first retry
	MaxDelay     time.Duration    // Cap on the delay between retries
	Exponential  bool             // Double the delay after each retry
	RetryIf      func(error) bool // Only retry when this returns true (nil = retry all)
}

// DefaultRetryConfig returns sensible defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Exponential:  true,
	}
}

// Retry runs fn until it succeeds, the retry budget is exhausted, or the
// context is cancelled. The last error is returned on failure.
func Retry(ctx context.Context, cfg RetryConfig, fn func(context.Context) error) error {
	delay := cfg.InitialDelay

	var lastErr error
	for attempt := 0; ; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		if attempt >= cfg.MaxRetries {
			return lastErr
		}
		if cfg.RetryIf != nil && !cfg.RetryIf(lastErr) {
			return lastErr
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if cfg.Exponential {
			delay *= 2
			if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
		}
	}
}

// BackoffDelay returns the delay before reconnect attempt k (0-indexed):
// min(base * 2^k, max).
func BackoffDelay(base, max time.Duration, attempt int) time.Duration {
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}
