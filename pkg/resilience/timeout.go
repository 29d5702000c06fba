package resilience

import (
	"context"
	"fmt"
	"time"
)

// WithTimeout runs fn under a deadline of timeout (none when timeout <= 0).
// fn runs on the caller's goroutine and must honour ctx, so no transfer is
// left running after WithTimeout returns. An error returned after the
// deadline passed wraps both context.DeadlineExceeded and fn's error.
func WithTimeout(ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := fn(timeoutCtx)
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return fmt.Errorf("%s: parent context cancelled: %w", name, err)
	case timeoutCtx.Err() == context.DeadlineExceeded:
		return fmt.Errorf("%s: exceeded %v: %w: %w", name, timeout, context.DeadlineExceeded, err)
	default:
		return err
	}
}
