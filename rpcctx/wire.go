// Copyright (C) 2019 Google LLC. All Rights Reserved.

package rpcctx

import (
	"time"

	"github.com/creachadair/arpc/packet"
)

// Encode serializes c's wire-relevant state: its remaining deadline (if
// any), its locally-set data bag entries, and whether it has been
// explicitly cancelled. Ancestors are not walked for the data bag blobs;
// only locally-set entries travel, since the receiving side reconstructs a
// fresh child that will itself inherit nothing from the sender's ancestors.
func (c *Context) Encode() []byte {
	var b packet.Builder

	left, ok := c.DeadlineLeft()
	b.Bool(ok)
	if ok {
		b.Uint64(uint64(left / time.Millisecond))
	}

	entries := c.localEntries()
	b.Vint30(uint32(len(entries)))
	for name, e := range entries {
		b.VPutString(name)
		b.VPut(e.encode(e.value))
	}

	b.Bool(c.IsCancelled())
	return b.Bytes()
}

// Decode parses a wire-encoded context produced by [Context.Encode] and
// installs its state onto a new child of parent: the remaining deadline
// becomes a timeout, the data bag entries are loaded via the entries'
// registered classes (unregistered class names are skipped, not fatal, so
// that adding a new metadata type to a newer peer does not break an older
// one), and the context is cancelled if the wire form says so.
func Decode(parent *Context, data []byte) (*Context, error) {
	s := packet.NewScanner(data)

	hasDeadline, err := s.Bool()
	if err != nil {
		return nil, err
	}
	var opts []Option
	if hasDeadline {
		ms, err := s.Uint64()
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithTimeout(time.Duration(ms)*time.Millisecond))
	}

	child := parent.NewChild(opts...)

	n, err := s.Vint30()
	if err != nil {
		return nil, err
	}
	for range n {
		name, err := packet.VGet[string](s)
		if err != nil {
			return nil, err
		}
		payload, err := packet.VGet[[]byte](s)
		if err != nil {
			return nil, err
		}
		codec, err := lookupClass(name)
		if err != nil {
			continue // unknown class: tolerate, per forward-compatibility note above
		}
		v, err := codec.decode(payload)
		if err != nil {
			return nil, err
		}
		child.mu.Lock()
		child.data[name] = dataEntry{value: v, encode: codec.encode}
		child.mu.Unlock()
	}

	cancelled, err := s.Bool()
	if err != nil {
		return nil, err
	}
	if cancelled {
		child.Cancel()
	}
	return child, nil
}
