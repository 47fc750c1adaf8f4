// Copyright (C) 2019 Google LLC. All Rights Reserved.

// Package future implements a single-shot producer/consumer rendezvous,
// adapted from the original implementation's promise<T>/future<T> pair.
//
// A [Promise] is resolved exactly once, with either a value or an error; the
// paired [Future] delivers that outcome to however many goroutines wait on
// it, synchronously via Wait or as part of a [awaitable.Select] via
// AsyncWait.
package future

import (
	"context"
	"sync"

	"github.com/creachadair/arpc/awaitable"
	"github.com/creachadair/arpc/flag"
)

type state[T any] struct {
	mu    sync.Mutex
	done  *flag.Flag
	value T
	err   error
}

// A Promise is the write end of a future<T> rendezvous. The zero value is
// not valid; construct a linked pair with [New].
type Promise[T any] struct{ s *state[T] }

// A Future is the read end of a future<T> rendezvous. The zero value is not
// valid; construct a linked pair with [New].
type Future[T any] struct{ s *state[T] }

// New constructs a linked Promise/Future pair.
func New[T any]() (Promise[T], Future[T]) {
	s := &state[T]{done: flag.New()}
	return Promise[T]{s}, Future[T]{s}
}

// Set resolves p's future with (v, err). Only the first call has any
// effect; subsequent calls are silently ignored, mirroring a C++ promise
// that may only be fulfilled once.
func (p Promise[T]) Set(v T, err error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	if !p.s.done.IsSet() {
		p.s.value, p.s.err = v, err
		p.s.done.Set()
	}
}

// Done reports whether f's promise has been resolved, without blocking.
func (f Future[T]) Done() bool { return f.s.done.IsSet() }

// Wait blocks until f's promise is resolved, or ctx ends, whichever comes
// first, and returns the resolved value and error.
func (f Future[T]) Wait(ctx context.Context) (T, error) {
	if err := f.s.done.Wait(ctx); err != nil {
		var zero T
		return zero, err
	}
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	return f.s.value, f.s.err
}

// AsyncWait returns an [awaitable.Awaitable] that fires once f's promise is
// resolved, carrying the resolved value as its Result.Value and the
// resolved error (if any) as its Result.Err.
func (f Future[T]) AsyncWait() awaitable.Awaitable {
	return f.s.done.AsyncWait().Then(func(any) (any, error) {
		f.s.mu.Lock()
		defer f.s.mu.Unlock()
		return f.s.value, f.s.err
	})
}
