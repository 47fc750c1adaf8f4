// Copyright (C) 2019 Google LLC. All Rights Reserved.

package transport

import (
	"context"
	"net"
	"sync/atomic"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/creachadair/arpc/awaitable"
)

// Dial establishes a TCP channel to address. Non-blocking mode is set
// explicitly on the socket via golang.org/x/sys/unix, rather than relying
// only on the runtime's implicit netpoller configuration. See tcpChannel
// for how the channel's operations wait for readiness.
func Dial(ctx context.Context, network, address string) (Channel, error) {
	d := net.Dialer{
		Control: func(_, _ string, c syscall.RawConn) error {
			var setErr error
			if err := c.Control(func(fd uintptr) {
				setErr = unix.SetNonblock(int(fd), true)
			}); err != nil {
				return err
			}
			return setErr
		},
	}
	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, wrapErrno("dial", err)
	}
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		conn.Close()
		return nil, wrapErrno("dial", errNotTCP)
	}
	return newTCPChannel(tc)
}

// WrapTCP adapts an already-connected TCP socket into a non-blocking
// [Channel], for a server that accepts connections rather than dialing
// them. It sets the same explicit non-blocking mode Dial does.
func WrapTCP(conn *net.TCPConn) (Channel, error) { return newTCPChannel(conn) }

func newTCPChannel(tc *net.TCPConn) (Channel, error) {
	raw, err := tc.SyscallConn()
	if err != nil {
		tc.Close()
		return nil, wrapErrno("syscallconn", err)
	}
	var setErr error
	if err := raw.Control(func(fd uintptr) { setErr = unix.SetNonblock(int(fd), true) }); err != nil {
		tc.Close()
		return nil, wrapErrno("setnonblock", err)
	}
	if setErr != nil {
		tc.Close()
		return nil, wrapErrno("setnonblock", setErr)
	}
	return &tcpChannel{conn: tc, raw: raw}, nil
}

var errNotTCP = &net.OpError{Op: "dial", Err: net.UnknownNetworkError("expected *net.TCPConn")}

// tcpChannel is the TCP [Channel] returned by Dial and WrapTCP.
//
// MaybeRead and MaybeWrite run their syscall through syscall.RawConn, which
// waits in the runtime poller and retries whenever the syscall reports
// EAGAIN/EWOULDBLOCK. They therefore block until some bytes move, EOF, an
// error, or Close, and do not report ErrTryAgain; a context given to Read,
// Write or ReadFull does not end such a wait. CanRead and CanWrite do not
// wait for readiness: their Awaitables fire as soon as the helper goroutine
// has run.
type tcpChannel struct {
	conn   *net.TCPConn
	raw    syscall.RawConn
	closed atomic.Bool
}

func (c *tcpChannel) MaybeRead(buf []byte) (int, error) {
	if c.closed.Load() {
		return 0, net.ErrClosed
	}
	var n int
	var opErr error
	err := c.raw.Read(func(fd uintptr) bool {
		n, opErr = unix.Read(int(fd), buf)
		return !isAgain(opErr)
	})
	if err != nil {
		return 0, wrapErrno("read", err)
	}
	if isAgain(opErr) {
		return 0, ErrTryAgain
	}
	if opErr != nil {
		return 0, wrapErrno("read", opErr)
	}
	return n, nil // n == 0 && err == nil means EOF, per spec §4.1
}

func (c *tcpChannel) MaybeWrite(buf []byte) (int, error) {
	if c.closed.Load() {
		return 0, net.ErrClosed
	}
	var n int
	var opErr error
	err := c.raw.Write(func(fd uintptr) bool {
		n, opErr = unix.Write(int(fd), buf)
		return !isAgain(opErr)
	})
	if err != nil {
		return 0, wrapErrno("write", err)
	}
	if isAgain(opErr) {
		return 0, ErrTryAgain
	}
	if opErr != nil {
		return 0, wrapErrno("write", opErr)
	}
	return n, nil
}

func isAgain(err error) bool {
	return err == unix.EAGAIN || err == unix.EWOULDBLOCK
}

// CanRead returns an Awaitable that fires once a dedicated goroutine has
// called RawConn.Read with a callback that reports done on its first call,
// so it does not wait for the descriptor to become readable.
func (c *tcpChannel) CanRead() awaitable.Awaitable {
	sig := make(chan struct{})
	go func() {
		c.raw.Read(func(fd uintptr) bool { return true })
		close(sig)
	}()
	return awaitable.FromSignal(sig)
}

// CanWrite returns an Awaitable that fires once a dedicated goroutine has
// called RawConn.Write with a callback that reports done on its first call,
// so it does not wait for the descriptor to become writable.
func (c *tcpChannel) CanWrite() awaitable.Awaitable {
	sig := make(chan struct{})
	go func() {
		c.raw.Write(func(fd uintptr) bool { return true })
		close(sig)
	}()
	return awaitable.FromSignal(sig)
}

func (c *tcpChannel) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.conn.Close()
}
