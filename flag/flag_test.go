// Copyright (C) 2019 Google LLC. All Rights Reserved.

package flag_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/creachadair/arpc/awaitable"
	"github.com/creachadair/arpc/flag"
	"github.com/fortytw2/leaktest"
)

func TestFlagBasic(t *testing.T) {
	defer leaktest.Check(t)()

	f := flag.New()
	if f.IsSet() {
		t.Fatal("IsSet = true on a fresh Flag, want false")
	}

	done := make(chan error, 1)
	go func() { done <- f.Wait(context.Background()) }()

	time.Sleep(10 * time.Millisecond) // give Wait a chance to block
	f.Set()
	f.Set() // setting twice must not panic or block

	if err := <-done; err != nil {
		t.Errorf("Wait: unexpected error: %v", err)
	}
	if !f.IsSet() {
		t.Error("IsSet = false after Set, want true")
	}
}

func TestFlagWaitContextEnds(t *testing.T) {
	defer leaktest.Check(t)()

	f := flag.New()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := f.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait: got %v, want context.DeadlineExceeded", err)
	}
}

func TestFlagAsyncWait(t *testing.T) {
	defer leaktest.Check(t)()

	f := flag.New()
	go func() {
		time.Sleep(10 * time.Millisecond)
		f.Set()
	}()

	results, err := awaitable.Select(context.Background(), f.AsyncWait())
	if err != nil {
		t.Fatalf("Select: unexpected error: %v", err)
	}
	if !results[0].Fired {
		t.Error("results[0].Fired = false, want true")
	}
}
