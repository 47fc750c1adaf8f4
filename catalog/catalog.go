// Copyright (C) 2023 Michael J. Fromberger. All Rights Reserved.

// Package catalog maps method names to signature hashes for a named
// object, adapted from chirp's catalog package. Unlike chirp, which maps
// names to bare sequential method IDs, this catalog maps names to a
// [MethodHash] computed over a declared signature descriptor, since spec
// §6 transmits a name/hash pair rather than a numeric ID, and a mismatched
// hash must be distinguishable from an unknown name (see DESIGN.md, Open
// Question (b)).
package catalog

import (
	"errors"
	"fmt"
	"hash/fnv"
	"io"
)

// ErrNotFound reports that a method name is not registered in a Catalog.
var ErrNotFound = errors.New("catalog: method not found")

// ErrDataMismatch reports that a method name is registered, but its
// signature hash does not match what the caller expected.
var ErrDataMismatch = errors.New("catalog: method hash mismatch")

// A MethodHash is a compile-time-stable digest over a method's full
// signature, computed with FNV-1a 64-bit over the method name and its
// declared parameter/result type descriptors, mirroring the original's
// type_hash.h "compile-time-stable hash over the full signature".
type MethodHash uint64

// A Signature names a method's parameter and result types for hashing
// purposes. Each field should be a short, stable descriptor (e.g. the
// registered name of a [encoding.BinaryMarshaler] type, or "[]byte" /
// "string" for raw payloads).
type Signature struct {
	Param  string
	Result string
}

// Hash computes the MethodHash for a method named name with signature sig.
func Hash(name string, sig Signature) MethodHash {
	h := fnv.New64a()
	io.WriteString(h, name)
	h.Write([]byte{0})
	io.WriteString(h, sig.Param)
	h.Write([]byte{0})
	io.WriteString(h, sig.Result)
	return MethodHash(h.Sum64())
}

// A Catalog maps method names to signatures for a single named object. The
// zero value is not ready for use; construct one with [New].
type Catalog struct {
	object  string
	methods map[string]Signature
}

// New constructs an empty Catalog for the given object name.
func New(object string) *Catalog {
	return &Catalog{object: object, methods: make(map[string]Signature)}
}

// Object returns the object name c was constructed with.
func (c *Catalog) Object() string { return c.object }

// Add registers name with signature sig in c, and returns c to permit
// chaining.
func (c *Catalog) Add(name string, sig Signature) *Catalog {
	c.methods[name] = sig
	return c
}

// Lookup reports the signature registered for name, if any.
func (c *Catalog) Lookup(name string) (Signature, bool) {
	sig, ok := c.methods[name]
	return sig, ok
}

// MethodHash reports the computed hash for name, if it is registered.
func (c *Catalog) MethodHash(name string) (MethodHash, bool) {
	sig, ok := c.methods[name]
	if !ok {
		return 0, false
	}
	return Hash(name, sig), true
}

// Check verifies that name is registered in c and that its computed hash
// equals want. It reports [ErrNotFound] or [ErrDataMismatch] accordingly,
// fixing spec §9 Open Question (b)'s method-hash mismatch policy.
func (c *Catalog) Check(name string, want MethodHash) error {
	sig, ok := c.methods[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if got := Hash(name, sig); got != want {
		return fmt.Errorf("%w: %q", ErrDataMismatch, name)
	}
	return nil
}
