package resilience

import (
	"context"
	"errors"
	"time"
)

// ErrOpTimeout is returned when a guarded call exceeds its deadline.
var ErrOpTimeout = errors.New("operation timeout")

// WithTimeout runs fn with a deadline. The function receives a derived
// context and should honor its cancellation; if it does not return in
// time, WithTimeout returns ErrOpTimeout and the function's eventual
// result is discarded.
func WithTimeout(ctx context.Context, d time.Duration, fn func(context.Context) error) error {
	tctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(tctx)
	}()

	select {
	case err := <-done:
		return err
	case <-tctx.Done():
		if errors.Is(tctx.Err(), context.DeadlineExceeded) {
			return ErrOpTimeout
		}
		return tctx.Err()
	}
}
