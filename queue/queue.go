// Copyright (C) 2019 Google LLC. All Rights Reserved.

// Package queue implements a bounded, generic FIFO queue with both blocking
// and non-blocking, select-compatible access, adapted from the original
// implementation's bounded queue<T>.
//
// A Queue tracks readiness with two internal [flag.Flag] values, one for
// "not empty" and one for "not full". Each flag is replaced with a fresh,
// unset one at the moment its condition stops holding, since a Flag itself
// can only transition from unset to set once.
package queue

import (
	"context"
	"errors"
	"sync"

	equeue "github.com/eapache/queue"

	"github.com/creachadair/arpc/awaitable"
	"github.com/creachadair/arpc/flag"
)

// ErrTryAgain is returned by a Queue's non-blocking operations, and as the
// reaction error of an AsyncPut/AsyncGet awaitable that lost a race for the
// last slot or item.
var ErrTryAgain = errors.New("queue: would block")

// A Queue is a FIFO queue of values of type T with an optional maximum
// capacity. The zero value is not ready for use; construct one with [New].
//
// A Queue is safe for concurrent use by multiple goroutines.
type Queue[T any] struct {
	mu       sync.Mutex
	capacity int // <= 0 means unbounded
	items    *equeue.Queue
	notEmpty *flag.Flag
	notFull  *flag.Flag
}

// New constructs an empty Queue. A capacity of 0 or less means the queue is
// unbounded, and Put/MaybePut/AsyncPut never block or fail for lack of room.
func New[T any](capacity int) *Queue[T] {
	q := &Queue[T]{
		capacity: capacity,
		items:    equeue.New(),
		notEmpty: flag.New(),
		notFull:  flag.New(),
	}
	q.notFull.Set() // an empty queue always has room
	return q
}

// Len reports the number of items currently queued.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Length()
}

// MaybePut adds v to the queue if there is room, without blocking. It
// reports whether v was added.
func (q *Queue[T]) MaybePut(v T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tryPut(v)
}

// MaybeGet removes and returns the item at the head of the queue, without
// blocking. It reports false if the queue was empty.
func (q *Queue[T]) MaybeGet() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tryGet()
}

// Put adds v to the queue, blocking until there is room or ctx ends.
func (q *Queue[T]) Put(ctx context.Context, v T) error {
	for {
		q.mu.Lock()
		if q.tryPut(v) {
			q.mu.Unlock()
			return nil
		}
		wait := q.notFull
		q.mu.Unlock()
		if err := wait.Wait(ctx); err != nil {
			return err
		}
	}
}

// Get removes and returns the item at the head of the queue, blocking until
// one is available or ctx ends.
func (q *Queue[T]) Get(ctx context.Context) (T, error) {
	for {
		q.mu.Lock()
		if v, ok := q.tryGet(); ok {
			q.mu.Unlock()
			return v, nil
		}
		wait := q.notEmpty
		q.mu.Unlock()
		var zero T
		if err := wait.Wait(ctx); err != nil {
			return zero, err
		}
	}
}

// AsyncPut returns an [awaitable.Awaitable] that fires once there is (or
// appears to be) room in the queue, and whose reaction adds v and reports
// the queue's length after insertion. If another goroutine claims the
// opening first, the reaction fails with [ErrTryAgain]; the caller should
// retry by constructing a new AsyncPut.
func (q *Queue[T]) AsyncPut(v T) awaitable.Awaitable {
	q.mu.Lock()
	wait := q.notFull
	q.mu.Unlock()
	return wait.AsyncWait().Then(func(any) (any, error) {
		if !q.MaybePut(v) {
			return nil, ErrTryAgain
		}
		return q.Len(), nil
	})
}

// AsyncGet returns an [awaitable.Awaitable] that fires once the queue
// appears non-empty, and whose reaction removes and returns the head item.
// If another goroutine drains it first, the reaction fails with
// [ErrTryAgain]; the caller should retry by constructing a new AsyncGet.
func (q *Queue[T]) AsyncGet() awaitable.Awaitable {
	q.mu.Lock()
	wait := q.notEmpty
	q.mu.Unlock()
	return wait.AsyncWait().Then(func(any) (any, error) {
		v, ok := q.MaybeGet()
		if !ok {
			return nil, ErrTryAgain
		}
		return v, nil
	})
}

// tryPut requires q.mu to be held.
func (q *Queue[T]) tryPut(v T) bool {
	if q.capacity > 0 && q.items.Length() >= q.capacity {
		return false
	}
	wasEmpty := q.items.Length() == 0
	q.items.Add(v)
	if wasEmpty {
		q.notEmpty.Set()
	}
	if q.capacity > 0 && q.items.Length() >= q.capacity {
		q.notFull = flag.New()
	}
	return true
}

// tryGet requires q.mu to be held.
func (q *Queue[T]) tryGet() (T, bool) {
	var zero T
	if q.items.Length() == 0 {
		return zero, false
	}
	wasFull := q.capacity > 0 && q.items.Length() >= q.capacity
	v := q.items.Peek().(T)
	q.items.Remove()
	if wasFull {
		q.notFull.Set()
	}
	if q.items.Length() == 0 {
		q.notEmpty = flag.New()
	}
	return v, true
}
