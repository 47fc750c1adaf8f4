// Copyright (C) 2019 Google LLC. All Rights Reserved.

// Package transport implements the raw, non-blocking byte-stream Channel
// abstraction and the reconnecting client wrapper built on top of it,
// grounded on the original implementation's channel.h/socket.cpp and
// connection.h/connection.cpp, and on chirp's channel package for its Go
// idiom (a small interface plus a couple of concrete implementations rather
// than a framework).
//
// Server-side operations (bind, listen, accept) are not implemented here:
// per this module's scope, the server-side dispatcher is an external
// collaborator, realized only by the arpctest package for tests.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/creachadair/arpc/awaitable"
)

// ErrTryAgain is returned by MaybeRead/MaybeWrite when the underlying
// non-blocking syscall would have blocked.
var ErrTryAgain = errors.New("transport: would block")

// A Channel is a non-blocking byte stream: a single owned file descriptor,
// exclusive and closed on Close. Callers loop at a higher layer; a Channel
// never silently retries a partial read or write.
type Channel interface {
	// MaybeRead performs at most one non-blocking read into buf. It reports
	// ErrTryAgain if the read would have blocked, and (0, nil) at EOF.
	MaybeRead(buf []byte) (int, error)

	// MaybeWrite performs at most one non-blocking write of buf. It reports
	// ErrTryAgain if the write would have blocked.
	MaybeWrite(buf []byte) (int, error)

	// CanRead returns an Awaitable that fires once the channel is readable
	// (data available, or peer closed).
	CanRead() awaitable.Awaitable

	// CanWrite returns an Awaitable that fires once the channel is writable.
	CanWrite() awaitable.Awaitable

	// Close closes the channel. After Close, all further operations report
	// an error. Close is safe to call more than once; only the first call
	// has effect.
	Close() error
}

// Read blocks until at least one byte is read into buf, or an error occurs,
// or ctx ends. At EOF it reports (0, nil), as MaybeRead does. It is the blocking convenience built from MaybeRead and
// CanRead described by spec §4.1.
func Read(ctx context.Context, ch Channel, buf []byte) (int, error) {
	for {
		n, err := ch.MaybeRead(buf)
		if err == nil {
			return n, nil
		}
		if !errors.Is(err, ErrTryAgain) {
			return 0, err
		}
		if _, err := awaitable.Select(ctx, ch.CanRead()); err != nil {
			return 0, err
		}
	}
}

// Write blocks until all of buf has been written, or an error occurs, or
// ctx ends.
func Write(ctx context.Context, ch Channel, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := ch.MaybeWrite(buf[total:])
		if err != nil {
			if errors.Is(err, ErrTryAgain) {
				if _, werr := awaitable.Select(ctx, ch.CanWrite()); werr != nil {
					return total, werr
				}
				continue
			}
			return total, err
		}
		total += n
	}
	return total, nil
}

// ReadFull reads exactly len(buf) bytes, blocking as Read does, unless an
// error occurs. An EOF before any byte is read is reported as io.EOF; a
// premature EOF after some bytes is reported as io.ErrUnexpectedEOF.
func ReadFull(ctx context.Context, ch Channel, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := Read(ctx, ch, buf[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			if total == 0 {
				return 0, io.EOF
			}
			return total, io.ErrUnexpectedEOF
		}
	}
	return total, nil
}

// wrapErrno gives a uniform error for a syscall failure on op.
func wrapErrno(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("transport: %s: %w", op, err)
}
