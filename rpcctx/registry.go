// Copyright (C) 2019 Google LLC. All Rights Reserved.

package rpcctx

import (
	"fmt"
	"sync"
)

// dataEntry is one slot of a Context's key/value bag: an erased value plus
// the erased encoder needed to put it back on the wire.
type dataEntry struct {
	value  any
	encode func(any) []byte
}

type erasedCodec struct {
	encode func(any) []byte
	decode func([]byte) (any, error)
}

// classRegistry is the process-wide table of portable class name to codec,
// the Go stand-in for the original's dynamic_base_class registration: every
// type that may cross the wire in a Context's data bag registers itself
// once, at init time, with [Register].
var classRegistry sync.Map // string -> erasedCodec

// A Key identifies one slot of a Context's data bag, typed by T and wire
// portable by its registered class name.
type Key[T any] struct {
	name   string
	encode func(T) []byte
	decode func([]byte) (T, error)
}

// Register associates a portable class name with typed encode/decode
// functions and returns a [Key] for setting and getting values of type T
// under that name in any [Context]'s data bag. Register should be called
// from a package-level var initializer, once per (name, T) pair; a second
// registration of the same name overwrites the first, so callers should
// choose names as carefully as the original's class names (fully qualified
// and stable across versions).
func Register[T any](name string, encode func(T) []byte, decode func([]byte) (T, error)) *Key[T] {
	classRegistry.Store(name, erasedCodec{
		encode: func(v any) []byte { return encode(v.(T)) },
		decode: func(b []byte) (any, error) { return decode(b) },
	})
	return &Key[T]{name: name, encode: encode, decode: decode}
}

// Set stores v under k in c's data bag, shadowing any value of the same key
// visible from an ancestor.
func (k *Key[T]) Set(c *Context, v T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[k.name] = dataEntry{value: v, encode: func(a any) []byte { return k.encode(a.(T)) }}
}

// Get reports the value stored under k in c's data bag, or in the nearest
// ancestor that has one, and whether a value was found.
func (k *Key[T]) Get(c *Context) (T, bool) {
	for cur := c; cur != nil; cur = cur.parent {
		cur.mu.Lock()
		e, ok := cur.data[k.name]
		cur.mu.Unlock()
		if ok {
			v, isT := e.value.(T)
			if !isT {
				var zero T
				return zero, false
			}
			return v, true
		}
	}
	var zero T
	return zero, false
}

func (c *Context) localEntries() map[string]dataEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]dataEntry, len(c.data))
	for k, v := range c.data {
		out[k] = v
	}
	return out
}

func lookupClass(name string) (erasedCodec, error) {
	v, ok := classRegistry.Load(name)
	if !ok {
		return erasedCodec{}, fmt.Errorf("rpcctx: unregistered class %q", name)
	}
	return v.(erasedCodec), nil
}
