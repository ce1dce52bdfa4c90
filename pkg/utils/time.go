package utils

import (
	"context"
	"math/rand"
	"time"
)

// Jitter returns d perturbed by up to ±factor (0.1 = ±10%)
func Jitter(d time.Duration, factor float64) time.Duration {
	if factor <= 0 || d <= 0 {
		return d
	}
	if factor > 1 {
		factor = 1
	}
	delta := float64(d) * factor
	offset := (rand.Float64()*2 - 1) * delta
	out := time.Duration(float64(d) + offset)
	if out < 0 {
		return 0
	}
	return out
}

// ExponentialBackoff computes the delay for the given attempt (0-based),
// doubling from base up to max, with jitter applied last.
func ExponentialBackoff(attempt int, base, max time.Duration, jitter float64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max {
			d = max
			break
		}
	}
	return Jitter(d, jitter)
}

// SleepWithContext sleeps for d or until ctx is done, whichever comes first
func SleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RetryConfig controls RetryContext behavior
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64
}

// DefaultRetryConfig returns conservative retry defaults
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Jitter:      0.1,
	}
}

// RetryContext runs fn until it succeeds, attempts are exhausted, or ctx is done.
// The last error is returned on failure.
func RetryContext(ctx context.Context, config *RetryConfig, fn func() error) error {
	if config == nil {
		config = DefaultRetryConfig()
	}
	var lastErr error
	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		if attempt < config.MaxAttempts-1 {
			delay := ExponentialBackoff(attempt, config.BaseDelay, config.MaxDelay, config.Jitter)
			if err := SleepWithContext(ctx, delay); err != nil {
				return err
			}
		}
	}
	return lastErr
}
