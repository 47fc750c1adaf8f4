// Copyright (C) 2019 Google LLC. All Rights Reserved.

package transport_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/creachadair/arpc/transport"
	"github.com/fortytw2/leaktest"
)

func listenLoopback(t *testing.T) net.Listener {
	t.Helper()
	lst, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(func() { lst.Close() })
	return lst
}

// TestDialReadWrite verifies the basic blocking Read/Write/ReadFull
// convenience functions built atop a dialed TCP Channel's non-blocking
// MaybeRead/MaybeWrite/CanRead/CanWrite primitives (spec §4.1).
func TestDialReadWrite(t *testing.T) {
	defer leaktest.Check(t)()

	lst := listenLoopback(t)
	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := lst.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	ctx := context.Background()
	ch, err := transport.Dial(ctx, "tcp", lst.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer ch.Close()

	conn := <-accepted
	defer conn.Close()

	want := []byte("hello, channel")
	if _, err := conn.Write(want); err != nil {
		t.Fatalf("server Write: %v", err)
	}

	got := make([]byte, len(want))
	if _, err := transport.ReadFull(ctx, ch, got); err != nil {
		t.Fatalf("ReadFull: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("ReadFull: got %q, want %q", got, want)
	}

	reply := []byte("hi back")
	if _, err := transport.Write(ctx, ch, reply); err != nil {
		t.Fatalf("Write: %v", err)
	}
	gotReply := make([]byte, len(reply))
	if _, err := io.ReadFull(conn, gotReply); err != nil {
		t.Fatalf("server ReadFull: %v", err)
	}
	if !bytes.Equal(gotReply, reply) {
		t.Errorf("server read: got %q, want %q", gotReply, reply)
	}
}

// TestReadFullUnexpectedEOF verifies that a peer closing mid-frame is
// reported distinctly from a clean EOF at a frame boundary.
func TestReadFullUnexpectedEOF(t *testing.T) {
	defer leaktest.Check(t)()

	lst := listenLoopback(t)
	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := lst.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	ctx := context.Background()
	ch, err := transport.Dial(ctx, "tcp", lst.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer ch.Close()

	conn := <-accepted
	conn.Write([]byte("ab"))
	conn.Close()

	buf := make([]byte, 4)
	if _, err := transport.ReadFull(ctx, ch, buf); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("ReadFull: got %v on a short read, want io.ErrUnexpectedEOF", err)
	}
}

// TestDialContextTimeout verifies that Dial honors ctx, satisfying the
// S1 scenario's "a context timeout must bound the call" property for raw
// dials against an address that will not accept.
func TestDialContextTimeout(t *testing.T) {
	defer leaktest.Check(t)()

	// 10.255.255.1 is a non-routable address commonly used to force a dial
	// timeout rather than an immediate refusal.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := transport.Dial(ctx, "tcp", "10.255.255.1:81")
	if err == nil {
		t.Fatal("Dial: got nil error, want a timeout or connection error")
	}
}
