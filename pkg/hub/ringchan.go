package hub

import "sync/atomic"

// RingChannel is a bounded channel-like buffer with overwrite-oldest
// semantics: producers never block, the oldest element is discarded when the
// buffer is full. It backs the drop-oldest subscription policy.
type RingChannel[T any] struct {
	ch          chan T
	written     atomic.Uint64
	overwritten atomic.Uint64
}

// NewRingChannel creates a ring channel with the given capacity.
func NewRingChannel[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("hub: ring capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the underlying receive-only channel.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// Send inserts an item, discarding the oldest if the buffer is full. Never
// blocks indefinitely.
func (rc *RingChannel[T]) Send(v T) {
	select {
	case rc.ch <- v:
		rc.written.Add(1)
	default:
		select {
		case <-rc.ch:
			rc.overwritten.Add(1)
		default:
			// consumer drained it between the two selects
		}
		select {
		case rc.ch <- v:
			rc.written.Add(1)
		default:
			// a concurrent producer refilled the slot; drop v
			rc.overwritten.Add(1)
		}
	}
}

// TrySend attempts to insert without blocking or discarding. Returns false
// when the buffer is full.
func (rc *RingChannel[T]) TrySend(v T) bool {
	select {
	case rc.ch <- v:
		rc.written.Add(1)
		return true
	default:
		return false
	}
}

// Written returns the number of accepted sends.
func (rc *RingChannel[T]) Written() uint64 { return rc.written.Load() }

// Overwritten returns the number of elements discarded to make room.
func (rc *RingChannel[T]) Overwritten() uint64 { return rc.overwritten.Load() }

func (rc *RingChannel[T]) close() {
	close(rc.ch)
}
