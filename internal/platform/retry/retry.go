package retry

import (
	"context"
	"time"
)

// Do retries fn on transient failure using exponential backoff while
// respecting context cancellation. Intended for idempotent operations only
// (reads, resubscriptions); writes are never retried here.
func Do(ctx context.Context, attempts int, initial time.Duration, fn func() error) error {
	backoff := initial

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if lastErr = fn(); lastErr == nil {
			return nil
		}

		if attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	return lastErr
}
