package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/pucknotes/note-discovery/pkg/errors"
)

// WithTimeout runs fn under a deadline of timeout. fn must honour ctx. A
// deadline hit by this call, rather than by the parent, is reported as
// both ErrTimeout and context.DeadlineExceeded.
func WithTimeout(ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := fn(attemptCtx)
	if err == nil || ctx.Err() != nil {
		return err
	}
	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w after %v: %w", name, apperrors.ErrTimeout, timeout, context.DeadlineExceeded)
	}
	return err
}
