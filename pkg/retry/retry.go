package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Config defines retry behavior with exponential backoff.
// MaxAttempts counts every call of fn, including the first one.
type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration // 0 disables the cap
	Multiplier   float64
	JitterFactor float64 // 0.0-1.0, 0 disables jitter

	// Sleep waits for d or until ctx is done. Nil uses a real timer.
	// Tests replace it to observe the schedule without waiting.
	Sleep func(ctx context.Context, d time.Duration) error

	// OnRetry is called after a failed attempt that will be retried,
	// with the 1-based attempt number and the delay before the next one.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultConfig returns the tool invocation policy:
// 3 attempts total, 2s then 4s between them, no jitter, no cap.
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts:  3,
		InitialDelay: 2 * time.Second,
		Multiplier:   2.0,
	}
}

// Delay returns the wait after the given failed attempt (1-based).
// With the default config attempt k is followed by 2^k seconds.
func (c *Config) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	multiplier := c.Multiplier
	if multiplier <= 0 {
		multiplier = 1
	}
	delay := time.Duration(float64(c.InitialDelay) * math.Pow(multiplier, float64(attempt-1)))
	if c.MaxDelay > 0 && delay > c.MaxDelay {
		delay = c.MaxDelay
	}
	return applyJitter(delay, c.JitterFactor)
}

// applyJitter adds random jitter to a delay to prevent thundering herd.
// Jitter is calculated as: delay +/- (delay * jitterFactor * random(-1 to +1))
func applyJitter(delay time.Duration, jitterFactor float64) time.Duration {
	if jitterFactor <= 0 {
		return delay
	}
	jitter := float64(delay) * jitterFactor * (rand.Float64()*2 - 1)
	return time.Duration(float64(delay) + jitter)
}

func (c *Config) sleep(ctx context.Context, d time.Duration) error {
	if c.Sleep != nil {
		return c.Sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do executes fn with exponential backoff retry logic.
// Returns nil on success, or the last error unchanged after all attempts are used.
// Permanent errors (see IsRetryable) are returned immediately.
// Respects context cancellation during wait periods.
func Do(ctx context.Context, cfg *Config, fn func() error) error {
	_, err := DoWithResult(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// DoWithResult executes fn and returns both result and error.
// Attempts are strictly sequential; the final attempt's error is never followed by a wait.
func DoWithResult[T any](ctx context.Context, cfg *Config, fn func() (T, error)) (T, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var result T
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		r, err := fn()
		if err == nil {
			return r, nil
		}

		lastErr = err
		result = r // Keep last result even on error

		if !IsRetryable(err) || attempt == maxAttempts {
			break
		}

		delay := cfg.Delay(attempt)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, delay, err)
		}
		if err := cfg.sleep(ctx, delay); err != nil {
			return result, err
		}
	}

	return result, lastErr
}

// RetryableError is an interface for errors that explicitly declare their retryability.
// Tool lookup failures and tool-reported failures implement it to opt out of retries.
type RetryableError interface {
	error
	IsRetryable() bool
}

// IsRetryable reports whether err is worth another attempt.
// Errors anywhere in the chain that implement RetryableError decide for themselves;
// context cancellation is never retried; everything else is treated as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var r RetryableError
	if errors.As(err, &r) {
		return r.IsRetryable()
	}
	return true
}
