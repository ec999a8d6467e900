// Package retry provides fixed-delay sequential polling with a bounded
// attempt cap. It exists for tolerating eventually-consistent remote state,
// not for transport-level backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrExhausted wraps the final attempt error once the cap is reached.
var ErrExhausted = errors.New("retry: attempts exhausted")

// Policy describes a bounded fixed-delay retry loop.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
}

// Run invokes attempt until it returns nil, the attempt cap is reached, or
// the context is cancelled. The delay is applied between attempts, never
// after the final one. Both ErrExhausted and the final attempt error stay
// inspectable through errors.Is on the returned error.
func (p Policy) Run(ctx context.Context, attempt func(ctx context.Context) error) error {
	if p.MaxAttempts <= 0 {
		return fmt.Errorf("retry: max attempts must be positive, got %d", p.MaxAttempts)
	}

	var lastErr error
	for i := 0; i < p.MaxAttempts; i++ {
		if i > 0 && p.Delay > 0 {
			timer := time.NewTimer(p.Delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = attempt(ctx)
		if lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, p.MaxAttempts, lastErr)
}
