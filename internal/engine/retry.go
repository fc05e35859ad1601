package engine

import (
	"context"
	"math/rand/v2"
	"time"
)

const maxRetryDelay = 30 * time.Second

// withRetry runs fn until it succeeds, returns an error retryable rejects,
// or maxRetries retries are spent. Delays double from baseDelay with up to
// 50% jitter and are capped at maxRetryDelay. It returns the attempt count.
func withRetry(ctx context.Context, maxRetries int, baseDelay time.Duration, retryable func(error) bool, fn func(context.Context) error) (int, error) {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}

	delay := baseDelay
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return attempt + 1, nil
		}
		if attempt >= maxRetries || (retryable != nil && !retryable(err)) {
			return attempt + 1, err
		}

		timer := time.NewTimer(jitter(delay))
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt + 1, ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > maxRetryDelay {
			delay = maxRetryDelay
		}
	}
}

func jitter(delay time.Duration) time.Duration {
	half := int64(delay / 2)
	if half <= 0 {
		return delay
	}
	return delay + time.Duration(rand.Int64N(half+1))
}
