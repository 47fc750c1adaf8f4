// Copyright (C) 2023 Michael J. Fromberger. All Rights Reserved.

package catalog_test

import (
	"errors"
	"testing"

	"github.com/creachadair/arpc/catalog"
)

func TestLookupAndHash(t *testing.T) {
	cat := catalog.New("greeter").Add("Hello", catalog.Signature{Param: "string", Result: "string"})

	sig, ok := cat.Lookup("Hello")
	if !ok {
		t.Fatal("Lookup(Hello) = false, want true")
	}
	h1, ok := cat.MethodHash("Hello")
	if !ok {
		t.Fatal("MethodHash(Hello) = false, want true")
	}
	h2 := catalog.Hash("Hello", sig)
	if h1 != h2 {
		t.Errorf("MethodHash = %d, want %d (matching catalog.Hash directly)", h1, h2)
	}

	if _, ok := cat.MethodHash("Bye"); ok {
		t.Error("MethodHash(Bye) = true, want false")
	}
}

// TestCheckDistinguishesUnknownFromMismatch verifies spec §9 Open Question
// (b): an unregistered method name reports ErrNotFound, while a registered
// name with the wrong hash reports ErrDataMismatch — these must be
// distinguishable outcomes.
func TestCheckDistinguishesUnknownFromMismatch(t *testing.T) {
	cat := catalog.New("greeter").Add("Hello", catalog.Signature{Param: "string", Result: "string"})
	want, _ := cat.MethodHash("Hello")

	if err := cat.Check("Hello", want); err != nil {
		t.Errorf("Check(Hello, correct hash) = %v, want nil", err)
	}
	if err := cat.Check("Bye", want); !errors.Is(err, catalog.ErrNotFound) {
		t.Errorf("Check(Bye, ...) = %v, want ErrNotFound", err)
	}
	if err := cat.Check("Hello", want+1); !errors.Is(err, catalog.ErrDataMismatch) {
		t.Errorf("Check(Hello, wrong hash) = %v, want ErrDataMismatch", err)
	}
}

// TestHashSensitiveToSignature verifies that changing either side of a
// method's declared signature changes its hash, so a client and server
// built against divergent signatures for the same name are detected.
func TestHashSensitiveToSignature(t *testing.T) {
	base := catalog.Hash("M", catalog.Signature{Param: "A", Result: "B"})
	diffParam := catalog.Hash("M", catalog.Signature{Param: "A2", Result: "B"})
	diffResult := catalog.Hash("M", catalog.Signature{Param: "A", Result: "B2"})
	diffName := catalog.Hash("M2", catalog.Signature{Param: "A", Result: "B"})

	for _, h := range []catalog.MethodHash{diffParam, diffResult, diffName} {
		if h == base {
			t.Errorf("hash collided with base signature's hash: %d", h)
		}
	}
}
