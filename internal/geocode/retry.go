package geocode

import (
	"context"
	"time"
)

// RetryPolicy controls how often a failed geocoding call is repeated.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts including the first one.
	MaxAttempts int
	// Backoff is the fixed delay between two attempts.
	Backoff time.Duration
	// Sleep waits for d or until ctx is done. Tests replace it to avoid real delays.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry is called before each retry with the failed attempt number.
	OnRetry func(attempt int, err error)
}

// DefaultRetryPolicy returns three attempts with a 30 second pause in between.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff:     30 * time.Second,
		Sleep:       sleepContext,
	}
}

// Do calls fn until it succeeds, returns a permanent error, the context is
// done or the attempts are exhausted. The last error is returned.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil || IsPermanent(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt, lastErr)
		}
		if err := sleep(ctx, p.Backoff); err != nil {
			return lastErr
		}
	}

	return lastErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
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
