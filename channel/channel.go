// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

// Package channel implements the length-prefixed, integrity-checked packet
// framing described by spec §4.5/§6, layered on top of a raw
// [github.com/creachadair/arpc/transport] byte stream. Its shape (a small
// interface plus a Direct in-memory pair and one real implementation) is
// grounded on chirp's own channel package; unlike chirp's checksum-less
// `CP\x00<type><len>` header, this framing adds the CRC-32C trailer the
// spec requires.
package channel

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"sync"

	"github.com/creachadair/arpc/transport"
)

// ErrDataMismatch reports a bad framing checksum or an over-length frame.
var ErrDataMismatch = errors.New("channel: data mismatch")

// maxFrame bounds the payload length accepted from a length prefix, so a
// corrupt or malicious header cannot force an unbounded allocation.
const maxFrame = 1 << 28

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// A Channel sends and receives whole, integrity-checked frames. It is the
// framed counterpart of [transport.Channel]: transport moves bytes,
// Channel moves complete envelopes.
type Channel interface {
	// Send transmits payload as a single frame.
	Send(ctx context.Context, payload []byte) error

	// Recv receives the next available frame.
	Recv(ctx context.Context) ([]byte, error)

	// Close closes the channel. After Close, all further operations report
	// an error.
	Close() error
}

// Direct constructs a connected pair of in-memory channels that pass frames
// directly without encoding, mirroring chirp's channel.Direct. Frames sent
// to A are received by B and vice versa.
func Direct() (a, b Channel) {
	a2b := newDirectLink()
	b2a := newDirectLink()
	a = &direct{send: a2b, recv: b2a}
	b = &direct{send: b2a, recv: a2b}
	return
}

// A directLink is one direction of a Direct pair. Close signals end-of-data
// through a dedicated channel rather than closing ch itself, so a Send that
// races a Close never selects a send on a closed channel, which would panic.
type directLink struct {
	ch     chan []byte
	closed chan struct{}
	once   sync.Once
}

func newDirectLink() *directLink {
	return &directLink{ch: make(chan []byte), closed: make(chan struct{})}
}

func (l *directLink) close() { l.once.Do(func() { close(l.closed) }) }

type direct struct {
	send *directLink
	recv *directLink
}

func (d *direct) Send(ctx context.Context, payload []byte) error {
	select {
	case d.send.ch <- append([]byte(nil), payload...):
		return nil
	case <-d.send.closed:
		return io.ErrClosedPipe
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *direct) Recv(ctx context.Context) ([]byte, error) {
	select {
	case p := <-d.recv.ch:
		return p, nil
	case <-d.recv.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *direct) Close() error {
	d.send.close()
	return nil
}

// Reconn frames its payloads over a [transport.Reconnecting], implementing
// spec §4.5's wire format: `uint32 length (little-endian) || length bytes
// of payload || uint32 crc32c(payload)`.
type Reconn struct {
	rc *transport.Reconnecting
}

// New wraps rc with length-prefixed, CRC-32C-checked framing.
func New(rc *transport.Reconnecting) *Reconn { return &Reconn{rc: rc} }

// Send implements [Channel].
func (c *Reconn) Send(ctx context.Context, payload []byte) error {
	frame := make([]byte, 4, 8+len(payload))
	binary.LittleEndian.PutUint32(frame, uint32(len(payload)))
	frame = append(frame, payload...)
	var tail [4]byte
	binary.LittleEndian.PutUint32(tail[:], crc32.Checksum(payload, castagnoli))
	frame = append(frame, tail[:]...)
	return c.rc.Send(ctx, frame)
}

// Recv implements [Channel].
func (c *Reconn) Recv(ctx context.Context) ([]byte, error) {
	var hdr [4]byte
	if err := c.rc.ReadFull(ctx, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(hdr[:])
	if n > maxFrame {
		return nil, fmt.Errorf("%w: frame length %d exceeds maximum", ErrDataMismatch, n)
	}
	buf := make([]byte, n+4)
	if err := c.rc.ReadFull(ctx, buf); err != nil {
		return nil, err
	}
	payload, tail := buf[:n], buf[n:]
	if got, want := crc32.Checksum(payload, castagnoli), binary.LittleEndian.Uint32(tail); got != want {
		return nil, fmt.Errorf("%w: crc32c mismatch", ErrDataMismatch)
	}
	return payload, nil
}

// Close implements [Channel].
func (c *Reconn) Close() error { return c.rc.Disconnect() }
