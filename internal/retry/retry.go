package retry

import (
	"context"
	"fmt"
	"time"
)

// Policy is a bounded exponential backoff: Attempts tries with Initial sleep
// after the first failure, doubling up to Max between subsequent failures.
type Policy struct {
	Attempts int
	Initial  time.Duration
	Max      time.Duration
}

// Do runs fn until it succeeds, attempts are exhausted, or ctx is cancelled.
// The last error is wrapped on exhaustion.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := p.Initial
	if backoff <= 0 {
		backoff = time.Second
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := fn(); err != nil {
			lastErr = err
			if attempt == attempts-1 {
				break
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if p.Max > 0 && backoff > p.Max {
				backoff = p.Max
			}
			continue
		}
		return nil
	}
	return fmt.Errorf("retry failed after %d attempts: %w", attempts, lastErr)
}

// Fixed retries with a constant delay between attempts. Used where the
// call site wants a short flat pause rather than a growing one.
func Fixed(ctx context.Context, attempts int, delay time.Duration, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := fn(); err != nil {
			lastErr = err
			if attempt == attempts-1 {
				break
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			continue
		}
		return nil
	}
	return fmt.Errorf("retry failed after %d attempts: %w", attempts, lastErr)
}
