package scheduler

import (
	"context"
	"time"

	"github.com/example/doint-ledger/internal/ledger"
)

// Retry calls fn up to attempts times, waiting backoff*n between tries.
// Only storage failures are retried; rule violations return at once.
func Retry(ctx context.Context, attempts int, backoff time.Duration, fn func(context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for n := 1; n <= attempts; n++ {
		if err = fn(ctx); err == nil || !ledger.IsRetryable(err) {
			return err
		}
		if n == attempts {
			break
		}
		timer := time.NewTimer(backoff * time.Duration(n))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}
