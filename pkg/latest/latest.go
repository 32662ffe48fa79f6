// Package latest provides a single-slot, latest-wins handoff between one
// producer goroutine and one consumer goroutine.
//
// Publish never blocks. If the consumer has not taken the previous value, it
// is replaced (and counted as dropped). The consumer therefore always sees
// the newest value, may skip superseded values, and never sees values out of
// order.
package latest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var ErrClosed = errors.New("slot closed")

type Slot[T any] struct {
	lock   sync.Mutex
	value  T
	full   bool
	closed bool
	ready  chan struct{} // capacity 1. Holds a token while a value is pending.

	published atomic.Uint64
	dropped   atomic.Uint64
}

func NewSlot[T any]() *Slot[T] {
	return &Slot[T]{
		ready: make(chan struct{}, 1),
	}
}

// Publish stores v, replacing any value that has not yet been taken.
// Returns true if a pending value was replaced.
// Publishing to a closed slot is a no-op.
func (s *Slot[T]) Publish(v T) bool {
	s.lock.Lock()
	if s.closed {
		s.lock.Unlock()
		return false
	}
	replaced := s.full
	s.value = v
	s.full = true
	s.lock.Unlock()

	s.published.Add(1)
	if replaced {
		s.dropped.Add(1)
	}
	select {
	case s.ready <- struct{}{}:
	default:
		// token already pending
	}
	return replaced
}

// Ready returns a channel that receives a token whenever a value may be
// available. Consumers select on it, and then call TryTake.
// A token can be stale (the value already taken), so TryTake may fail.
func (s *Slot[T]) Ready() <-chan struct{} {
	return s.ready
}

// TryTake removes and returns the pending value, if there is one
func (s *Slot[T]) TryTake() (T, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	var zero T
	if !s.full {
		return zero, false
	}
	v := s.value
	s.value = zero
	s.full = false
	return v, true
}

// Take blocks until a value is available, the slot is closed, or ctx is done.
func (s *Slot[T]) Take(ctx context.Context) (T, error) {
	var zero T
	for {
		if v, ok := s.TryTake(); ok {
			return v, nil
		}
		if s.IsClosed() {
			return zero, ErrClosed
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-s.ready:
		}
	}
}

// Close wakes any consumer blocked in Take. A value that is still pending can
// still be taken with TryTake.
func (s *Slot[T]) Close() {
	s.lock.Lock()
	s.closed = true
	s.lock.Unlock()
	select {
	case s.ready <- struct{}{}:
	default:
	}
}

func (s *Slot[T]) IsClosed() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.closed
}

// Published is the total number of values published
func (s *Slot[T]) Published() uint64 {
	return s.published.Load()
}

// Dropped is the number of values that were replaced before the consumer took them
func (s *Slot[T]) Dropped() uint64 {
	return s.dropped.Load()
}
