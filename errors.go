// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

package arpc

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/creachadair/arpc/channel"
)

// The error taxonomy below gives each failure kind described by the
// protocol a distinct sentinel so callers can classify failures with
// errors.Is, the same way chirp classifies transport shutdown with
// errors.Is(err, io.EOF) in its Peer.
var (
	// ErrIOError reports a non-retriable OS I/O failure.
	ErrIOError = errors.New("arpc: i/o error")

	// ErrTryAgain reports that a non-blocking operation would have blocked.
	ErrTryAgain = errors.New("arpc: would block")

	// ErrDataMismatch reports a bad framing checksum, an unrecognized
	// message type, or a method signature hash mismatch.
	ErrDataMismatch = errors.New("arpc: data mismatch")

	// ErrNotFound reports that an object or method name is unknown, either
	// to the local catalog (the generic Call proxy then fails without a
	// round trip) or to the remote peer.
	ErrNotFound = errors.New("arpc: not found")

	// ErrInvalidArgument reports that argument decoding failed.
	ErrInvalidArgument = errors.New("arpc: invalid argument")

	// ErrInternal reports an invariant violation inside this package.
	ErrInternal = errors.New("arpc: internal error")

	// ErrUnknown names the failure class of a received error envelope whose
	// class is not registered locally. This package keeps no registry of
	// error classes and does not return ErrUnknown: a received error envelope
	// is reported as a *CallError carrying its class and message.
	ErrUnknown = errors.New("arpc: unknown remote error")
)

// Cancelled and DeadlineExceeded are not new sentinels: the protocol's
// "cancelled" and "deadline_exceeded" failure classes are represented
// directly by context.Canceled and context.DeadlineExceeded, since every
// occurrence of either in this module originates from a context ending.
// EOF is represented by io.EOF for the same reason (spec: "EOF on a stream
// read is reported as a zero-byte result, not an error" at the Channel
// layer; at the framing layer a peer that closes the connection between
// frames surfaces as io.EOF wrapped by ErrIOError, and one that closes
// mid-frame as io.ErrUnexpectedEOF wrapped by ErrIOError).

// CallError is the concrete type of errors reported by [Client.Call] and
// [Client.AsyncCall]. For service errors, Err is nil and ErrorData carries
// the error details reported by the peer. For local failures (timeout,
// cancellation, transport failure), Err carries the underlying cause.
type CallError struct {
	ErrorData
	Err       error     // nil for service errors
	RequestID uint32    // the request this error pertains to
	Response  *Response // set if the error came from a received response
}

// Unwrap reports the underlying cause of c, or nil for service errors.
func (c *CallError) Unwrap() error { return c.Err }

// Error implements the error interface.
func (c *CallError) Error() string {
	if c.Err != nil {
		return fmt.Sprintf("request %d: %v", c.RequestID, c.Err)
	} else if c.Response != nil && c.Response.Code == CodeServiceError {
		return fmt.Sprintf("request %d: service error: %v", c.RequestID, c.ErrorData.Error())
	}
	return fmt.Sprintf("request %d: %s", c.RequestID, c.ErrorData.Error())
}

func callError(reqID uint32, err error) *CallError {
	return &CallError{Err: err, RequestID: reqID}
}

// classify maps a raw transport or framing failure onto the protocol's
// closed error taxonomy, the way chirp's io adapters and the original's
// errors.h map OS failures onto typed failure classes.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, ErrDataMismatch):
		return err
	case errors.Is(err, channel.ErrDataMismatch):
		return fmt.Errorf("%w: %w", ErrDataMismatch, err)
	case errors.Is(err, io.EOF):
		return fmt.Errorf("%w: %w", ErrIOError, io.EOF)
	default:
		return fmt.Errorf("%w: %w", ErrIOError, err)
	}
}

// treatAsClean reports whether err represents an orderly shutdown (nil or
// io.EOF) rather than a fatal failure, mirroring chirp's treatErrorAsSuccess.
func treatAsClean(err error) bool {
	return err == nil || errors.Is(err, io.EOF)
}
