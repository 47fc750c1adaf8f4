// Copyright (C) 2023 Michael J. Fromberger. All Rights Reserved.

// Package handler provides the typed parameter/result marshaling adapters
// used by the client-side call proxy, adapted from chirp's handler package.
//
// Parameters and results may be []byte or string, or a type whose pointer
// supports [encoding.BinaryUnmarshaler]/[encoding.BinaryMarshaler] or
// [encoding.TextUnmarshaler]/[encoding.TextMarshaler]. This is the Go
// stand-in for the "metaprogrammed aggregate reflection" design note: an
// explicit marshaler implementation per type, rather than compiler-assisted
// field reflection.
package handler

import (
	"bytes"
	"encoding"
	"fmt"
)

// Unmarshal decodes data into v. The concrete type of v must be a pointer
// to a []byte or string, or must implement [encoding.BinaryUnmarshaler] or
// [encoding.TextUnmarshaler]. If v implements both, BinaryUnmarshaler is
// preferred.
func Unmarshal(data []byte, v any) error {
	switch t := v.(type) {
	case *[]byte:
		*t = bytes.Clone(data)
	case *string:
		*t = string(data)
	case encoding.BinaryUnmarshaler:
		return t.UnmarshalBinary(data)
	case encoding.TextUnmarshaler:
		return t.UnmarshalText(data)
	default:
		return fmt.Errorf("handler: cannot unmarshal into %T", v)
	}
	return nil
}

// Marshal encodes v. The concrete type of v must be a []byte or string (or
// a pointer to these); otherwise it must implement
// [encoding.BinaryMarshaler] or [encoding.TextMarshaler]. If v implements
// both, BinaryMarshaler is preferred.
//
// As a special case, if v is a nil pointer to a string or []byte, the
// result is nil without error.
func Marshal(v any) ([]byte, error) {
	switch t := v.(type) {
	case []byte:
		return t, nil
	case *[]byte:
		if t == nil {
			return nil, nil
		}
		return *t, nil
	case string:
		return []byte(t), nil
	case *string:
		if t == nil {
			return nil, nil
		}
		return []byte(*t), nil
	case encoding.BinaryMarshaler:
		return t.MarshalBinary()
	case encoding.TextMarshaler:
		return t.MarshalText()
	default:
		return nil, fmt.Errorf("handler: cannot marshal %T", v)
	}
}
