package footprint

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

// RetryPolicy bounds the retry loop around one tile fetch: a fixed number of
// attempts with exponential backoff between them. The clock is injected so
// tests drive the schedule deterministically.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy keeps retry storms short without tight-looping during
// remote outages.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 5 * time.Second}
}

// Do runs op until it succeeds, the attempts are exhausted, or the context
// is cancelled. The last error is returned after exhaustion.
func (p RetryPolicy) Do(ctx context.Context, clock clockwork.Clock, op func(context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	delay := p.BaseDelay
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clock.After(delay):
		}
		delay = nextDelay(delay, p.MaxDelay)
	}
	return lastErr
}

func nextDelay(current, max time.Duration) time.Duration {
	next := current * 2
	if max > 0 && next > max {
		return max
	}
	return next
}
