// Package opexec wraps controller operations with uniform timeout,
// classification and cancellation handling: timeouts become classified
// timeout errors, other failures are classified, and cancellation is
// re-raised untouched so it never surfaces as an ordinary failure.
package opexec

import (
	"context"
	"errors"
	"time"

	"github.com/ssk18/BleFlux/internal/pending"
	"github.com/ssk18/BleFlux/pkg/blerr"
)

// Run executes fn bounded by timeout (0 = no extra bound beyond ctx). The
// error contract:
//   - context.Canceled propagates unchanged,
//   - a missed deadline yields a timeout-category *blerr.Error for op,
//   - any other failure is classified via blerr.Wrap.
func Run[T any](ctx context.Context, timeout time.Duration, op blerr.Op, ectx blerr.Context, fn func(context.Context) (T, error)) (T, error) {
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	v, err := fn(runCtx)
	if err == nil {
		return v, nil
	}

	var zero T
	switch {
	case errors.Is(err, context.Canceled):
		return zero, err
	case errors.Is(err, context.DeadlineExceeded):
		if errors.Is(ctx.Err(), context.Canceled) {
			// The caller cancelled while the deadline fired; cancellation wins.
			return zero, ctx.Err()
		}
		return zero, blerr.Timeout(op, ectx.Address)
	default:
		return zero, blerr.Wrap(op, err, ectx)
	}
}

// Await runs a waiter's Await through Run, giving pending-operation waits the
// same timeout and cancellation semantics as any other operation.
func Await[T any](ctx context.Context, timeout time.Duration, op blerr.Op, ectx blerr.Context, w *pending.Waiter[T]) (T, error) {
	return Run(ctx, timeout, op, ectx, w.Await)
}
