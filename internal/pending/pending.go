// Package pending implements the single-slot resolvable waiter that converts
// asynchronous adapter callbacks into awaitable results. Each controller
// holds at most one waiter at a time. A waiter abandoned by a timed-out or
// cancelled Await may still be resolved later; the buffered slot absorbs the
// late resolve so the callback side never blocks on it.
package pending

import (
	"context"
	"sync/atomic"
)

type outcome[T any] struct {
	val T
	err error
}

// Waiter is a one-shot resolvable future. Resolve and Fail are safe to call
// from any goroutine; only the first call wins, later calls are no-ops.
type Waiter[T any] struct {
	ch       chan outcome[T]
	resolved atomic.Bool
}

// New creates an unresolved waiter.
func New[T any]() *Waiter[T] {
	return &Waiter[T]{ch: make(chan outcome[T], 1)}
}

// Resolve completes the waiter with a value. Returns false if the waiter was
// already resolved.
func (w *Waiter[T]) Resolve(v T) bool {
	if !w.resolved.CompareAndSwap(false, true) {
		return false
	}
	w.ch <- outcome[T]{val: v}
	return true
}

// Fail completes the waiter with an error. Returns false if the waiter was
// already resolved.
func (w *Waiter[T]) Fail(err error) bool {
	if !w.resolved.CompareAndSwap(false, true) {
		return false
	}
	w.ch <- outcome[T]{err: err}
	return true
}

// Resolved reports whether the waiter has been completed.
func (w *Waiter[T]) Resolved() bool {
	return w.resolved.Load()
}

// Await blocks until the waiter resolves or ctx is done. Context errors are
// returned unchanged so cancellation stays observable to callers. A waiter
// abandoned by a cancelled Await may still be resolved later; the buffered
// slot keeps that resolve from blocking the callback side.
func (w *Waiter[T]) Await(ctx context.Context) (T, error) {
	select {
	case o := <-w.ch:
		return o.val, o.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
