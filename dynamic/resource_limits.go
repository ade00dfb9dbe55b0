package dynamic

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout is returned when an entrypoint runs past its time limit.
var ErrTimeout = errors.New("plugin execution timed out")

// ResourceLimits configures constraints on plugin entrypoints.
type ResourceLimits struct {
	// LoadTimeout bounds a single Builder or Dashboard entrypoint call.
	// Zero means no timeout.
	LoadTimeout time.Duration
}

// DefaultResourceLimits returns the production defaults.
func DefaultResourceLimits() ResourceLimits {
	return ResourceLimits{LoadTimeout: 5 * time.Second}
}

// executeWithLimits runs fn on its own goroutine and stops waiting once the
// timeout or ctx expires. An abandoned call keeps running until it returns;
// interpreted code cannot be preempted.
func executeWithLimits(ctx context.Context, name string, limits ResourceLimits, fn func()) error {
	if limits.LoadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, limits.LoadTimeout)
		defer cancel()
	}

	ch := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- fmt.Errorf("panic in %s: %v", name, r)
			}
		}()
		fn()
		ch <- nil
	}()

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s after %v", ErrTimeout, name, limits.LoadTimeout)
		}
		return ctx.Err()
	case err := <-ch:
		return err
	}
}
