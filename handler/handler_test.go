// Copyright (C) 2023 Michael J. Fromberger. All Rights Reserved.

package handler_test

import (
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/creachadair/arpc/handler"
)

// point is a minimal BinaryMarshaler/BinaryUnmarshaler fixture.
type point struct{ X, Y int32 }

func (p point) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint32(buf[:4], uint32(p.X))
	binary.BigEndian.PutUint32(buf[4:], uint32(p.Y))
	return buf, nil
}

func (p *point) UnmarshalBinary(data []byte) error {
	if len(data) != 8 {
		return fmt.Errorf("point: want 8 bytes, got %d", len(data))
	}
	p.X = int32(binary.BigEndian.Uint32(data[:4]))
	p.Y = int32(binary.BigEndian.Uint32(data[4:]))
	return nil
}

func TestBytesAndString(t *testing.T) {
	data, err := handler.Marshal([]byte("hi"))
	if err != nil || string(data) != "hi" {
		t.Fatalf("Marshal([]byte): got %q, %v", data, err)
	}

	var s string
	if err := handler.Unmarshal([]byte("hi"), &s); err != nil || s != "hi" {
		t.Fatalf("Unmarshal into *string: got %q, %v", s, err)
	}

	data, err = handler.Marshal("hi")
	if err != nil || string(data) != "hi" {
		t.Fatalf("Marshal(string): got %q, %v", data, err)
	}

	var b []byte
	if err := handler.Unmarshal([]byte("hi"), &b); err != nil || string(b) != "hi" {
		t.Fatalf("Unmarshal into *[]byte: got %q, %v", b, err)
	}
}

func TestNilPointerShortCircuits(t *testing.T) {
	var p *[]byte
	data, err := handler.Marshal(p)
	if err != nil || data != nil {
		t.Fatalf("Marshal(nil *[]byte): got %v, %v, want nil, nil", data, err)
	}

	var ps *string
	data, err = handler.Marshal(ps)
	if err != nil || data != nil {
		t.Fatalf("Marshal(nil *string): got %v, %v, want nil, nil", data, err)
	}
}

func TestBinaryMarshaler(t *testing.T) {
	want := point{X: 3, Y: 4}

	data, err := handler.Marshal(want)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var got point
	if err := handler.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got != want {
		t.Errorf("Unmarshal: got %+v, want %+v", got, want)
	}
}

func TestMarshalUnsupportedType(t *testing.T) {
	if _, err := handler.Marshal(42); err == nil {
		t.Error("Marshal(int): got nil error, want an error")
	}
	var v int
	if err := handler.Unmarshal([]byte("x"), &v); err == nil {
		t.Error("Unmarshal into *int: got nil error, want an error")
	}
}
