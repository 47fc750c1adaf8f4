// Copyright (C) 2019 Google LLC. All Rights Reserved.

// Package rpcctx implements the context tree that carries deadlines,
// cancellation, and typed per-call metadata across local and remote call
// boundaries, adapted from the original implementation's context/
// dynamic_base_class/registry trio.
//
// A [Context] embeds a stdlib [context.Context]: deadline and cancellation
// propagation are exactly what context.Context already gives for free (a
// child derived from a cancelled or deadline-expired parent is itself
// cancelled or expired). What the stdlib type does not give is (a)
// recursive child bookkeeping with join-on-close semantics, and (b) a
// typed, wire-serializable key/value bag keyed by a portable class name.
// Context adds exactly those two things.
//
// The original's thread-local "current context" stack has no analogue
// here: every API that needs one takes an explicit *Context (or
// context.Context) parameter, the idiomatic Go rendering of that
// mechanism.
package rpcctx

import (
	"context"
	"errors"
	"sync"
	"time"
)

// A Context is a node in the call-scope tree. The zero value is not valid;
// construct one with [Root] or a parent's [Context.NewChild].
type Context struct {
	std    context.Context
	cancel context.CancelFunc
	parent *Context
	shield bool

	mu       sync.Mutex
	cond     *sync.Cond
	closed   bool
	children map[*Context]struct{}
	data     map[string]dataEntry
}

// An Option configures a new Context at construction.
type Option func(*config)

type config struct {
	shield      bool
	hasDeadline bool
	deadline    time.Time
}

// Shielded detaches the new context from its parent's cancellation: when
// the parent is cancelled, a shielded child is not. A shielded child is
// also not tracked as a descendant for join-on-close or recursive Cancel.
func Shielded() Option { return func(c *config) { c.shield = true } }

// WithDeadline bounds the new context's effective deadline to at most t.
func WithDeadline(t time.Time) Option {
	return func(c *config) { c.hasDeadline, c.deadline = true, t }
}

// WithTimeout bounds the new context's effective deadline to at most
// time.Now().Add(d).
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.hasDeadline, c.deadline = true, time.Now().Add(d) }
}

// Root constructs a new, unattached root context: the process-wide
// sentinel every call-scope tree descends from.
func Root() *Context { return newContext(nil, config{}) }

// NewChild constructs a context whose parent is c. Per the tree's
// deadline-monotonicity invariant, the child's effective deadline is
// clamped to c's even if opts requests a later one.
func (c *Context) NewChild(opts ...Option) *Context {
	var cfg config
	for _, o := range opts {
		o(&cfg)
	}
	return newContext(c, cfg)
}

func newContext(parent *Context, cfg config) *Context {
	stdParent := context.Background()
	if parent != nil && !cfg.shield {
		stdParent = parent.std
	}

	if parent != nil {
		if pd, ok := parent.Deadline(); ok && (!cfg.hasDeadline || pd.Before(cfg.deadline)) {
			cfg.hasDeadline, cfg.deadline = true, pd
		}
	}

	var std context.Context
	var cancel context.CancelFunc
	if cfg.hasDeadline {
		std, cancel = context.WithDeadline(stdParent, cfg.deadline)
	} else {
		std, cancel = context.WithCancel(stdParent)
	}

	c := &Context{
		std:      std,
		cancel:   cancel,
		parent:   parent,
		shield:   cfg.shield,
		children: make(map[*Context]struct{}),
		data:     make(map[string]dataEntry),
	}
	c.cond = sync.NewCond(&c.mu)
	if parent != nil && !cfg.shield {
		parent.addChild(c)
	}
	return c
}

// Std returns the stdlib context.Context equivalent to c, suitable for
// passing to [github.com/creachadair/arpc/awaitable.Select] or any stdlib
// API that wants a context.Context.
func (c *Context) Std() context.Context { return c.std }

// Cancel marks c as cancelled. Cancellation propagates automatically to
// every non-shielded descendant, since each derives its stdlib context from
// c's.
func (c *Context) Cancel() { c.cancel() }

// IsCancelled reports whether c or a non-shielded ancestor has been
// explicitly cancelled. It reports false when only a deadline has passed,
// matching the design note that the sticky cancelled flag flips on
// explicit cancel, not on deadline expiry.
func (c *Context) IsCancelled() bool { return errors.Is(c.std.Err(), context.Canceled) }

// IsDeadlineExceeded reports whether c's effective deadline has passed.
func (c *Context) IsDeadlineExceeded() bool { return errors.Is(c.std.Err(), context.DeadlineExceeded) }

// Deadline reports c's effective deadline, the tightest among c and its
// ancestors, if any.
func (c *Context) Deadline() (time.Time, bool) { return c.std.Deadline() }

// DeadlineLeft reports the time remaining until c's effective deadline,
// clamped to zero, or false if c has no deadline.
func (c *Context) DeadlineLeft() (time.Duration, bool) {
	d, ok := c.std.Deadline()
	if !ok {
		return 0, false
	}
	left := time.Until(d)
	if left < 0 {
		left = 0
	}
	return left, true
}

// Close detaches c from its parent, waiting first for every child of c to
// detach (join semantics), then releases c's stdlib resources. Close must
// be called exactly once per Context obtained from Root or NewChild.
func (c *Context) Close() {
	c.mu.Lock()
	for len(c.children) > 0 {
		c.cond.Wait()
	}
	c.closed = true
	c.mu.Unlock()

	if c.parent != nil && !c.shield {
		c.parent.removeChild(c)
	}
	c.cancel()
}

func (c *Context) addChild(ch *Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.children[ch] = struct{}{}
}

func (c *Context) removeChild(ch *Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.children, ch)
	c.cond.Broadcast()
}
