package library

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

const (
	defaultMaxAttempts  = 5
	defaultBaseDelay    = 10 * time.Millisecond
	defaultJitterFactor = 0.3
)

var (
	// ErrInvalidMaxAttempts is returned when max attempts are not positive.
	ErrInvalidMaxAttempts = errors.New("max attempts must be positive")

	// ErrNegativeBaseDelay is returned when the base delay is negative.
	ErrNegativeBaseDelay = errors.New("base delay must not be negative")
)

// retryPolicy retries a write when SQLite reports the database busy or locked
// past its busy timeout. Domain errors fail fast.
//
// Schedule with defaults: 0, 10ms, 20ms, 40ms, 80ms (+30% jitter).
type retryPolicy struct {
	maxAttempts  int
	baseDelay    time.Duration
	jitterFactor float64
	retryable    func(error) bool
}

func defaultRetryPolicy() retryPolicy {
	return retryPolicy{
		maxAttempts:  defaultMaxAttempts,
		baseDelay:    defaultBaseDelay,
		jitterFactor: defaultJitterFactor,
		retryable:    isBusy,
	}
}

func newRetryPolicy(maxAttempts int, baseDelay time.Duration) (retryPolicy, error) {
	if maxAttempts <= 0 {
		return retryPolicy{}, ErrInvalidMaxAttempts
	}
	if baseDelay < 0 {
		return retryPolicy{}, ErrNegativeBaseDelay
	}
	p := defaultRetryPolicy()
	p.maxAttempts = maxAttempts
	p.baseDelay = baseDelay
	return p, nil
}

func (p retryPolicy) do(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt < p.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := p.baseDelay * time.Duration(1<<(attempt-1))
			jitter := rand.Float64() * float64(delay) * p.jitterFactor //nolint:gosec // jitter only

			select {
			case <-time.After(delay + time.Duration(jitter)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !p.retryable(lastErr) {
			return lastErr
		}
	}

	return lastErr
}
