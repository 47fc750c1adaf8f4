// Copyright (C) 2019 Google LLC. All Rights Reserved.

// Package flag provides a sticky, one-way boolean readiness signal that can
// be waited on synchronously or composed into an [awaitable.Awaitable].
//
// It plays the role of the original implementation's pipe-backed flag: there
// a flag's readable end was handed directly to poll() as a wait source; here
// a flag exposes a channel that closes exactly once, the idiomatic Go
// analogue of a one-shot readiness fd.
package flag

import (
	"context"
	"sync"

	"github.com/creachadair/arpc/awaitable"
)

// A Flag is a boolean that starts false and can be set to true exactly once.
// Once set, it stays set: there is no way to clear a Flag.
//
// A Flag is safe for concurrent use by multiple goroutines. Use [New] to
// construct one; the zero value is not ready for use.
type Flag struct {
	initOnce sync.Once
	setOnce  sync.Once
	ready    chan struct{}
}

// New constructs an unset Flag, ready for use.
func New() *Flag {
	return &Flag{ready: make(chan struct{})}
}

func (f *Flag) init() {
	f.initOnce.Do(func() {
		if f.ready == nil {
			f.ready = make(chan struct{})
		}
	})
}

// Set marks f as ready. Calling Set more than once has no additional effect.
func (f *Flag) Set() {
	f.init()
	f.setOnce.Do(func() { close(f.ready) })
}

// IsSet reports whether f has been set, without blocking.
func (f *Flag) IsSet() bool {
	f.init()
	select {
	case <-f.ready:
		return true
	default:
		return false
	}
}

// Wait blocks until f is set, or ctx ends, whichever comes first.
func (f *Flag) Wait(ctx context.Context) error {
	f.init()
	select {
	case <-f.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AsyncWait returns an [awaitable.Awaitable] that fires once f is set.
func (f *Flag) AsyncWait() awaitable.Awaitable {
	f.init()
	return awaitable.FromSignal(f.ready)
}
