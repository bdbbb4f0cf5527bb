// Package hub provides a broadcast channel for state transitions, discovered
// device snapshots and classified failures. Publishers never learn about
// subscribers; each subscription picks its own overflow policy.
package hub

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"

	"github.com/ssk18/BleFlux/internal/groutine"
)

// Policy controls what happens when a subscriber cannot keep up.
type Policy int

const (
	// PolicyDropOldest keeps the most recent values, discarding the oldest.
	PolicyDropOldest Policy = iota
	// PolicyUnbounded queues without limit; a pump goroutine drains the queue.
	PolicyUnbounded
	// PolicyBlocking gives the subscriber a bounded buffer; a full buffer
	// blocks the publisher.
	PolicyBlocking
	// PolicyRendezvous delivers without buffering; the publisher blocks until
	// the subscriber receives.
	PolicyRendezvous
)

func (p Policy) String() string {
	switch p {
	case PolicyDropOldest:
		return "drop_oldest"
	case PolicyUnbounded:
		return "unbounded"
	case PolicyBlocking:
		return "blocking"
	case PolicyRendezvous:
		return "rendezvous"
	default:
		return "unknown"
	}
}

// Hub broadcasts values of type T to zero or more subscriptions.
type Hub[T any] struct {
	subs   *hashmap.Map[uint64, *Subscription[T]]
	nextID atomic.Uint64
	closed atomic.Bool
	logger *logrus.Logger
}

// New creates a hub. A nil logger falls back to a default logrus instance.
func New[T any](logger *logrus.Logger) *Hub[T] {
	if logger == nil {
		logger = logrus.New()
	}
	return &Hub[T]{
		subs:   hashmap.New[uint64, *Subscription[T]](),
		logger: logger,
	}
}

// Subscribe registers a new subscription with the given overflow policy.
// capacity sizes the buffer for PolicyDropOldest and PolicyBlocking and is
// ignored otherwise; capacity <= 0 defaults to 16.
func (h *Hub[T]) Subscribe(policy Policy, capacity int) *Subscription[T] {
	if capacity <= 0 {
		capacity = 16
	}

	s := &Subscription[T]{
		id:     h.nextID.Add(1),
		hub:    h,
		policy: policy,
		done:   make(chan struct{}),
	}

	switch policy {
	case PolicyDropOldest:
		s.ring = NewRingChannel[T](capacity)
	case PolicyBlocking:
		s.ch = make(chan T, capacity)
	case PolicyRendezvous:
		s.ch = make(chan T)
	case PolicyUnbounded:
		s.ch = make(chan T)
		s.wake = make(chan struct{}, 1)
		groutine.Go(context.Background(), "hub-pump", func(ctx context.Context) {
			s.pump()
		})
	}

	if h.closed.Load() {
		// Closed hub hands out already-cancelled subscriptions.
		s.Cancel()
		return s
	}

	h.subs.Set(s.id, s)
	return s
}

// Publish broadcasts v to all current subscriptions. Blocking and rendezvous
// subscribers may stall the publisher; the classified-failure stream should
// therefore prefer drop-oldest in callback contexts.
func (h *Hub[T]) Publish(v T) {
	if h.closed.Load() {
		return
	}
	h.subs.Range(func(_ uint64, s *Subscription[T]) bool {
		s.send(v)
		return true
	})
}

// Len returns the number of active subscriptions.
func (h *Hub[T]) Len() int {
	return h.subs.Len()
}

// Close cancels every subscription. Publishing after Close is a no-op.
func (h *Hub[T]) Close() {
	if !h.closed.CompareAndSwap(false, true) {
		return
	}
	h.subs.Range(func(_ uint64, s *Subscription[T]) bool {
		s.Cancel()
		return true
	})
}

// Subscription is one receiver attached to a hub. Values are read from C();
// the channel is closed when the subscription is cancelled.
type Subscription[T any] struct {
	id     uint64
	hub    *Hub[T]
	policy Policy

	ring *RingChannel[T] // PolicyDropOldest
	ch   chan T          // all other policies

	// PolicyUnbounded queue, drained by pump()
	qmu   sync.Mutex
	queue []T
	wake  chan struct{}

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
	once   sync.Once
}

// C returns the receive channel for this subscription.
func (s *Subscription[T]) C() <-chan T {
	if s.policy == PolicyDropOldest {
		return s.ring.C()
	}
	return s.ch
}

// Cancel detaches the subscription from the hub and closes its channel.
// Safe to call more than once and concurrently with Publish.
func (s *Subscription[T]) Cancel() {
	s.once.Do(func() {
		if s.hub != nil {
			s.hub.subs.Del(s.id)
		}
		// Unblock any publisher stuck in send before taking the write lock.
		close(s.done)

		s.mu.Lock()
		s.closed = true
		if s.policy == PolicyDropOldest {
			s.ring.close()
		} else if s.policy != PolicyUnbounded {
			close(s.ch)
		}
		// The unbounded pump closes s.ch itself after draining.
		s.mu.Unlock()
	})
}

// send delivers v according to the subscription policy. Holding the read
// lock across the channel send keeps Cancel from closing the channel
// underneath an in-flight send.
func (s *Subscription[T]) send(v T) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}

	switch s.policy {
	case PolicyDropOldest:
		s.ring.Send(v)
	case PolicyUnbounded:
		s.qmu.Lock()
		s.queue = append(s.queue, v)
		s.qmu.Unlock()
		select {
		case s.wake <- struct{}{}:
		default:
		}
	default: // PolicyBlocking, PolicyRendezvous
		select {
		case s.ch <- v:
		case <-s.done:
		}
	}
}

// pump drains the unbounded queue into the out channel until cancelled.
func (s *Subscription[T]) pump() {
	defer close(s.ch)
	for {
		s.qmu.Lock()
		var (
			v  T
			ok bool
		)
		if len(s.queue) > 0 {
			v, ok = s.queue[0], true
			s.queue = s.queue[1:]
		}
		s.qmu.Unlock()

		if !ok {
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}

		select {
		case s.ch <- v:
		case <-s.done:
			return
		}
	}
}
