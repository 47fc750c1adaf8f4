// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

package channel_test

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"

	"github.com/creachadair/arpc/channel"
	"github.com/creachadair/arpc/transport"
	"github.com/fortytw2/leaktest"
)

// TestDirectPair verifies that a Direct pair passes frames unmodified in
// both directions.
func TestDirectPair(t *testing.T) {
	defer leaktest.Check(t)()

	a, b := channel.Direct()
	defer a.Close()
	defer b.Close()

	ctx := context.Background()
	if err := a.Send(ctx, []byte("ping")); err != nil {
		t.Fatalf("a.Send: %v", err)
	}
	got, err := b.Recv(ctx)
	if err != nil {
		t.Fatalf("b.Recv: %v", err)
	}
	if string(got) != "ping" {
		t.Errorf("b.Recv: got %q, want %q", got, "ping")
	}

	if err := b.Send(ctx, []byte("pong")); err != nil {
		t.Fatalf("b.Send: %v", err)
	}
	got, err = a.Recv(ctx)
	if err != nil {
		t.Fatalf("a.Recv: %v", err)
	}
	if string(got) != "pong" {
		t.Errorf("a.Recv: got %q, want %q", got, "pong")
	}
}

// TestDirectCloseIsEOF verifies that closing one end of a Direct pair
// delivers io.EOF to the other end's next Recv.
func TestDirectCloseIsEOF(t *testing.T) {
	defer leaktest.Check(t)()

	a, b := channel.Direct()
	defer b.Close()

	a.Close()
	if _, err := b.Recv(context.Background()); err == nil {
		t.Error("b.Recv after a.Close() returned nil error, want io.EOF")
	}
}

// TestReconnFramingRoundTrip verifies spec §8 property 5: a payload sent
// through the length-prefixed, CRC-32C-checked Reconn framing decodes back
// to the identical bytes.
func TestReconnFramingRoundTrip(t *testing.T) {
	defer leaktest.Check(t)()

	lst, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer lst.Close()

	go func() {
		conn, err := lst.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		io.Copy(conn, conn) // echo every frame back unchanged
	}()

	ctx := context.Background()
	rc := transport.NewReconnecting(func(ctx context.Context) (transport.Channel, error) {
		return transport.Dial(ctx, "tcp", lst.Addr().String())
	})
	ch := channel.New(rc)
	defer ch.Close()

	payload := bytes.Repeat([]byte("round-trip"), 100)
	if err := ch.Send(ctx, payload); err != nil {
		t.Fatalf("Send: %v", err)
	}

	got, err := ch.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("Recv: got %d bytes, want the %d bytes sent", len(got), len(payload))
	}
}

// TestReconnCRCMismatch verifies that a corrupted frame is reported as a
// data mismatch rather than silently accepted.
func TestReconnCRCMismatch(t *testing.T) {
	defer leaktest.Check(t)()

	srvLst, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer srvLst.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := srvLst.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	ctx := context.Background()
	clientCh, err := transport.Dial(ctx, "tcp", srvLst.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer clientCh.Close()
	conn := <-accepted
	defer conn.Close()

	// Write a length-prefixed frame with a deliberately wrong CRC trailer.
	frame := []byte{4, 0, 0, 0, 'b', 'a', 'd', '!', 0, 0, 0, 0}
	if _, err := conn.Write(frame); err != nil {
		t.Fatalf("server Write: %v", err)
	}

	rc := transport.NewReconnecting(func(ctx context.Context) (transport.Channel, error) {
		return clientCh, nil
	})
	rch := channel.New(rc)
	defer rch.Close()

	if _, err := rch.Recv(ctx); err == nil {
		t.Error("Recv on a corrupted frame returned nil error, want a data mismatch")
	} else if !bytesContains(err.Error(), "mismatch") {
		t.Errorf("Recv error = %v, want it to mention a mismatch", err)
	}
}

func bytesContains(s, sub string) bool {
	return bytes.Contains([]byte(s), []byte(sub))
}
