// Copyright (C) 2019 Google LLC. All Rights Reserved.

package transport

import (
	"context"
	"fmt"
	"sync"
)

// A DialFunc opens a fresh Channel to a fixed peer. It is the collaborator
// a Reconnecting wraps.
type DialFunc func(ctx context.Context) (Channel, error)

// A Reconnecting is a client transport wrapper implementing spec §4.5's
// connect-idempotent / disconnect-on-error policy: Connect is a no-op if a
// live channel already exists, and Send/ReadFull tear the channel down on
// any I/O failure so the next call reconnects. This yields exactly one
// in-flight transport at a time, grounded on the original's
// connection.h/connection.cpp.
type Reconnecting struct {
	dial      DialFunc
	onConnect func()

	mu  sync.Mutex
	cur Channel
}

// NewReconnecting constructs a Reconnecting that dials with dial.
func NewReconnecting(dial DialFunc) *Reconnecting { return &Reconnecting{dial: dial} }

// OnConnect registers a callback invoked (without the Reconnecting's lock
// held) after each successful dial, including reconnects following a
// disconnect. It is not invoked concurrently with itself. Passing nil
// disables the callback.
func (r *Reconnecting) OnConnect(f func()) {
	r.mu.Lock()
	r.onConnect = f
	r.mu.Unlock()
}

// Connect ensures a channel is connected, dialing one via dial if none is
// current. It is idempotent: if a channel already exists, Connect returns
// immediately.
func (r *Reconnecting) Connect(ctx context.Context) error {
	r.mu.Lock()
	if r.cur != nil {
		r.mu.Unlock()
		return nil
	}
	ch, err := r.dial(ctx)
	if err != nil {
		r.mu.Unlock()
		return fmt.Errorf("transport: connect: %w", err)
	}
	r.cur = ch
	onConnect := r.onConnect
	r.mu.Unlock()

	if onConnect != nil {
		onConnect()
	}
	return nil
}

// Disconnect closes the current channel, if any, and clears it so the next
// Connect dials afresh.
func (r *Reconnecting) Disconnect() error {
	r.mu.Lock()
	ch := r.cur
	r.cur = nil
	r.mu.Unlock()
	if ch == nil {
		return nil
	}
	return ch.Close()
}

// Connected reports whether a channel is currently connected, without
// dialing.
func (r *Reconnecting) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cur != nil
}

func (r *Reconnecting) current() Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cur
}

// Send connects if necessary, then writes all of p to the current channel.
// Any failure disconnects before the error is returned.
func (r *Reconnecting) Send(ctx context.Context, p []byte) error {
	if err := r.Connect(ctx); err != nil {
		return err
	}
	if _, err := Write(ctx, r.current(), p); err != nil {
		r.Disconnect()
		return err
	}
	return nil
}

// ReadFull connects if necessary, then reads exactly len(buf) bytes from
// the current channel. Any failure disconnects before the error is
// returned.
func (r *Reconnecting) ReadFull(ctx context.Context, buf []byte) error {
	if err := r.Connect(ctx); err != nil {
		return err
	}
	if _, err := ReadFull(ctx, r.current(), buf); err != nil {
		r.Disconnect()
		return err
	}
	return nil
}
