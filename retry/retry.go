// Package retry runs an operation a bounded number of times with exponential
// backoff, retrying only errors the caller marks as transient.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig is returned when Config.MaxAttempts is not positive.
var ErrInvalidConfig = errors.New("retry: max attempts must be positive")

// Config holds retry configuration.
type Config struct {
	MaxAttempts    int           // Maximum number of attempts (including initial attempt)
	InitialDelay   time.Duration // Initial delay between retries
	MaxDelay       time.Duration // Maximum delay between retries
	Multiplier     float64       // Multiplier for exponential backoff
	AttemptTimeout time.Duration // Deadline applied to each attempt; zero means none
}

// DefaultConfig allows two retries after the initial attempt, each attempt
// bounded to ten seconds.
var DefaultConfig = Config{
	MaxAttempts:    3,
	InitialDelay:   100 * time.Millisecond,
	MaxDelay:       2 * time.Second,
	Multiplier:     2.0,
	AttemptTimeout: 10 * time.Second,
}

// IsRetryable determines if an error should trigger a retry.
type IsRetryable func(error) bool

// Func is one attempt. attempt starts at 1. ctx carries the per-attempt deadline.
type Func[T any] func(ctx context.Context, attempt int) (T, error)

// OnRetry is called before sleeping ahead of the next attempt.
type OnRetry func(attempt int, err error, delay time.Duration)

// WithRetry executes fn until it succeeds, returns a non-retryable error, the
// attempts are exhausted or ctx is done.
func WithRetry[T any](
	ctx context.Context,
	config Config,
	isRetryable IsRetryable,
	fn Func[T],
	onRetry ...OnRetry,
) (T, error) {
	var zero T
	if config.MaxAttempts <= 0 {
		return zero, ErrInvalidConfig
	}

	var lastErr error
	delay := config.InitialDelay

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("context cancelled: %w", err)
		}

		result, err := runAttempt(ctx, config.AttemptTimeout, attempt, fn)
		if err == nil {
			return result, nil
		}

		lastErr = err

		if !isRetryable(err) {
			return zero, err
		}

		if attempt == config.MaxAttempts {
			break
		}

		for _, hook := range onRetry {
			hook(attempt, err, delay)
		}

		select {
		case <-time.After(delay):
			delay = time.Duration(float64(delay) * config.Multiplier)
			if config.MaxDelay > 0 && delay > config.MaxDelay {
				delay = config.MaxDelay
			}
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}

	return zero, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, attempt int, fn Func[T]) (T, error) {
	if timeout <= 0 {
		return fn(ctx, attempt)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(attemptCtx, attempt)
}
