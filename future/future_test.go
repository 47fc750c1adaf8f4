// Copyright (C) 2019 Google LLC. All Rights Reserved.

package future_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/creachadair/arpc/awaitable"
	"github.com/creachadair/arpc/future"
	"github.com/fortytw2/leaktest"
)

func TestFutureResolve(t *testing.T) {
	defer leaktest.Check(t)()

	prom, fut := future.New[string]()
	if fut.Done() {
		t.Fatal("Done = true before Set, want false")
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		prom.Set("hello", nil)
	}()

	v, err := fut.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: unexpected error: %v", err)
	}
	if v != "hello" {
		t.Errorf("Wait: got %q, want %q", v, "hello")
	}
	if !fut.Done() {
		t.Error("Done = false after Set, want true")
	}
}

func TestFutureResolveError(t *testing.T) {
	defer leaktest.Check(t)()

	boom := errors.New("boom")
	prom, fut := future.New[int]()
	prom.Set(0, boom)

	_, err := fut.Wait(context.Background())
	if !errors.Is(err, boom) {
		t.Errorf("Wait: got %v, want %v", err, boom)
	}
}

func TestFutureSetOnlyOnce(t *testing.T) {
	defer leaktest.Check(t)()

	prom, fut := future.New[int]()
	prom.Set(1, nil)
	prom.Set(2, nil) // must be ignored

	v, err := fut.Wait(context.Background())
	if err != nil || v != 1 {
		t.Errorf("Wait: got %d, %v, want 1, nil", v, err)
	}
}

func TestFutureWaitContextEnds(t *testing.T) {
	defer leaktest.Check(t)()

	_, fut := future.New[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := fut.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait: got %v, want context.DeadlineExceeded", err)
	}
}

func TestFutureAsyncWait(t *testing.T) {
	defer leaktest.Check(t)()

	prom, fut := future.New[int]()
	prom.Set(7, nil)

	results, err := awaitable.Select(context.Background(), fut.AsyncWait())
	if err != nil {
		t.Fatalf("Select: unexpected error: %v", err)
	}
	if !results[0].Fired || results[0].Value != 7 {
		t.Errorf("results[0] = %+v, want Fired=true Value=7", results[0])
	}
}
