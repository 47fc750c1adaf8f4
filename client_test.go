// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

package arpc_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/creachadair/arpc"
	"github.com/creachadair/arpc/arpctest"
	"github.com/creachadair/arpc/catalog"
	"github.com/creachadair/arpc/rpcctx"
	"github.com/fortytw2/leaktest"
)

func echoCatalog() *catalog.Catalog {
	return catalog.New("echo").Add("Echo", catalog.Signature{Param: "[]byte", Result: "[]byte"})
}

// panicky implements encoding.BinaryUnmarshaler by panicking, so it can
// stand in for a broken user-supplied codec.
type panicky struct{}

func (*panicky) UnmarshalBinary([]byte) error { panic("codec exploded") }
func (panicky) MarshalBinary() ([]byte, error) { return nil, nil }

// TestCallCodecPanicRecovers verifies that a panic inside a user-supplied
// codec surfaces as an ErrInternal error rather than crashing the caller.
func TestCallCodecPanicRecovers(t *testing.T) {
	defer leaktest.Check(t)()

	cat := catalog.New("echo").Add("Echo", catalog.Signature{Param: "[]byte", Result: "panicky"})
	loc := arpctest.NewLocal("echo", cat)
	loc.Stub.Handle("Echo", func(_ context.Context, req *arpc.Request) ([]byte, error) {
		return []byte("doesn't matter"), nil
	})
	loc.Serve(context.Background())
	defer loc.Stop()

	_, err := arpc.Call[[]byte, panicky](rpcctx.Root(), loc.Client, cat, "Echo", []byte("x"))
	if !errors.Is(err, arpc.ErrInternal) {
		t.Errorf("Call: got %v, want ErrInternal", err)
	}
}

// TestCallHappyPath verifies spec §8 property 6: a client call against a
// stub that echoes its argument returns the echoed data, and the client's
// pending table is empty afterward.
func TestCallHappyPath(t *testing.T) {
	defer leaktest.Check(t)()

	cat := echoCatalog()
	loc := arpctest.NewLocal("echo", cat)
	loc.Stub.Handle("Echo", func(_ context.Context, req *arpc.Request) ([]byte, error) {
		return req.Args, nil
	})
	loc.Serve(context.Background())
	defer func() {
		if err := loc.Stop(); err != nil {
			t.Errorf("Stop: %v", err)
		}
	}()

	got, err := arpc.Call[[]byte, []byte](rpcctx.Root(), loc.Client, cat, "Echo", []byte("hello"))
	if err != nil {
		t.Fatalf("Call: unexpected error: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("Call: got %q, want %q", got, "hello")
	}
}

// TestCallUnknownMethod verifies that calling a method the catalog does not
// know about fails locally without a round trip.
func TestCallUnknownMethod(t *testing.T) {
	defer leaktest.Check(t)()

	cat := echoCatalog()
	loc := arpctest.NewLocal("echo", cat)
	loc.Serve(context.Background())
	defer loc.Stop()

	_, err := arpc.Call[[]byte, []byte](rpcctx.Root(), loc.Client, cat, "Nope", []byte("x"))
	if !errors.Is(err, arpc.ErrNotFound) {
		t.Errorf("Call: got %v, want ErrNotFound", err)
	}
}

// TestCallServiceError verifies that a handler-returned error surfaces as a
// CallError carrying the message, per spec §6's error envelope.
func TestCallServiceError(t *testing.T) {
	defer leaktest.Check(t)()

	cat := echoCatalog()
	loc := arpctest.NewLocal("echo", cat)
	loc.Stub.Handle("Echo", func(_ context.Context, _ *arpc.Request) ([]byte, error) {
		return nil, errors.New("boom")
	})
	loc.Serve(context.Background())
	defer loc.Stop()

	_, err := arpc.Call[[]byte, []byte](rpcctx.Root(), loc.Client, cat, "Echo", []byte("x"))
	var ce *arpc.CallError
	if !errors.As(err, &ce) {
		t.Fatalf("Call: got %[1]T (%[1]v), want *CallError", err)
	}
	if ce.Message != "boom" {
		t.Errorf("CallError.Message = %q, want %q", ce.Message, "boom")
	}
}

// TestDeadlineSweep verifies spec §8 properties 5 and 7: a call bounded by
// a short deadline against a handler that never returns resolves with
// context.DeadlineExceeded within the deadline window, the server observes
// a CANCEL_REQUEST for that call's ID, and no pending entry leaks.
func TestDeadlineSweep(t *testing.T) {
	defer leaktest.Check(t)()

	cat := catalog.New("slow").Add("Sleep", catalog.Signature{Param: "[]byte", Result: "[]byte"})
	loc := arpctest.NewLocal("slow", cat)

	blocked := make(chan struct{})
	loc.Stub.Handle("Sleep", func(ctx context.Context, _ *arpc.Request) ([]byte, error) {
		close(blocked)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	loc.Serve(context.Background())
	defer loc.Stop()

	ctx := rpcctx.Root().NewChild(rpcctx.WithTimeout(50 * time.Millisecond))
	defer ctx.Close()

	hash, ok := cat.MethodHash("Sleep")
	if !ok {
		t.Fatal("MethodHash: Sleep not registered")
	}

	start := time.Now()
	_, id, err := loc.Client.Call(ctx, "slow", "Sleep", hash, nil)
	elapsed := time.Since(start)

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Call: got %v, want context.DeadlineExceeded", err)
	}
	if elapsed > 2*time.Second {
		t.Errorf("Call: took %v, want well under 2s", elapsed)
	}

	select {
	case <-blocked:
	case <-time.After(time.Second):
		t.Fatal("handler never started")
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	if err := loc.Stub.CancelFlag(id).Wait(waitCtx); err != nil {
		t.Errorf("server never observed CANCEL_REQUEST for request %d: %v", id, err)
	}
}

// TestRepeatedCalls verifies that several sequential calls on one in-memory
// Client/Stub pair each succeed. StartChannel offers no redial (there is no
// dial function for an in-memory pair), so no reconnect happens here; the
// reconnect-capable path is exercised over a real dial in the transport
// package's own tests.
func TestRepeatedCalls(t *testing.T) {
	defer leaktest.Check(t)()

	cat := echoCatalog()
	loc := arpctest.NewLocal("echo", cat)
	loc.Stub.Handle("Echo", func(_ context.Context, req *arpc.Request) ([]byte, error) {
		return req.Args, nil
	})
	loc.Serve(context.Background())
	defer loc.Stop()

	for i := 0; i < 3; i++ {
		got, err := arpc.Call[[]byte, []byte](rpcctx.Root(), loc.Client, cat, "Echo", []byte("again"))
		if err != nil {
			t.Fatalf("Call %d: %v", i, err)
		}
		if string(got) != "again" {
			t.Errorf("Call %d: got %q, want %q", i, got, "again")
		}
	}
}

// TestTransportFailureFanOut verifies spec §8 property 8: killing the
// server mid-flight rejects every in-flight call with the same underlying
// classified error, and leaves no pending entries behind.
func TestTransportFailureFanOut(t *testing.T) {
	defer leaktest.Check(t)()

	cat := catalog.New("slow").Add("Sleep", catalog.Signature{Param: "[]byte", Result: "[]byte"})
	loc := arpctest.NewLocal("slow", cat)

	started := make(chan struct{})
	loc.Stub.Handle("Sleep", func(ctx context.Context, _ *arpc.Request) ([]byte, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	loc.Serve(context.Background())

	hash, _ := cat.MethodHash("Sleep")

	const n = 3
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, _, err := loc.Client.Call(rpcctx.Root(), "slow", "Sleep", hash, nil)
			results <- err
		}()
	}

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("handler never started")
	}

	// Kill the server side of the in-memory pair without a clean client
	// close, simulating a crashed peer.
	loc.Stub.Close()
	defer loc.Stub.Stop()

	for i := 0; i < n; i++ {
		select {
		case err := <-results:
			if !errors.Is(err, arpc.ErrIOError) {
				t.Errorf("Call: got %v, want an ErrIOError", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("a call never resolved after the transport failed")
		}
	}

	if n := loc.Client.Metrics().Get("calls_pending"); n != nil {
		if v := n.String(); v != "0" {
			t.Errorf("calls_pending after fan-out = %s, want 0", v)
		}
	}

	loc.Client.Close()
}
