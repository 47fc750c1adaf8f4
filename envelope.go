// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

package arpc

import (
	"fmt"

	"github.com/creachadair/arpc/catalog"
	"github.com/creachadair/arpc/packet"
)

// A MessageType identifies the structure of an Envelope's payload, per spec
// §6's fixed-per-deployment wire values.
type MessageType byte

const (
	TypeRequest  MessageType = 1 // initial call for a method
	TypeResponse MessageType = 2 // final result of a call
	TypeCancel   MessageType = 3 // best-effort cancellation signal
)

func (t MessageType) String() string {
	switch t {
	case TypeRequest:
		return "REQUEST"
	case TypeResponse:
		return "RESPONSE"
	case TypeCancel:
		return "CANCEL_REQUEST"
	default:
		return fmt.Sprintf("TYPE:%d", byte(t))
	}
}

// An Envelope is the outer wire unit carried by one [channel.Channel]
// frame: a fixed header, followed by a message-type-specific payload
// ([Request], [Response], or [Cancel], each already encoded).
type Envelope struct {
	Type      MessageType
	RequestID uint32
	Payload   []byte
}

// Encode serializes e in binary format.
func (e Envelope) Encode() []byte {
	var b packet.Builder
	b.Grow(5 + len(e.Payload))
	b.Put(byte(e.Type))
	b.Uint32(e.RequestID)
	b.Put(e.Payload...)
	return b.Bytes()
}

// DecodeEnvelope parses data as an Envelope. The returned Payload aliases
// data; callers that retain it past the lifetime of data must copy it.
func DecodeEnvelope(data []byte) (Envelope, error) {
	s := packet.NewScanner(data)
	t, err := s.Byte()
	if err != nil {
		return Envelope{}, fmt.Errorf("envelope: %w", err)
	}
	id, err := s.Uint32()
	if err != nil {
		return Envelope{}, fmt.Errorf("envelope: %w", err)
	}
	return Envelope{Type: MessageType(t), RequestID: id, Payload: s.Rest()}, nil
}

// Request is the payload of a TypeRequest envelope: the method descriptor
// triple `{object_name, method_name, method_hash}` of spec §6, the caller's
// serialized [github.com/creachadair/arpc/rpcctx.Context], and the already
// codec-serialized argument tuple.
type Request struct {
	Object     string
	Method     string
	MethodHash catalog.MethodHash
	Context    []byte // Context.Encode() output
	Args       []byte
}

// Encode encodes r in binary format.
func (r Request) Encode() []byte {
	var b packet.Builder
	b.VPutString(r.Object)
	b.VPutString(r.Method)
	b.Uint64(uint64(r.MethodHash))
	b.VPut(r.Context)
	b.VPut(r.Args)
	return b.Bytes()
}

// UnmarshalBinary decodes data into a Request. It implements
// encoding.BinaryUnmarshaler.
func (r *Request) UnmarshalBinary(data []byte) error {
	s := packet.NewScanner(data)
	obj, err := packet.VGet[string](s)
	if err != nil {
		return fmt.Errorf("request: object name: %w", err)
	}
	method, err := packet.VGet[string](s)
	if err != nil {
		return fmt.Errorf("request: method name: %w", err)
	}
	hash, err := s.Uint64()
	if err != nil {
		return fmt.Errorf("request: method hash: %w", err)
	}
	ctxBytes, err := packet.VGet[[]byte](s)
	if err != nil {
		return fmt.Errorf("request: context: %w", err)
	}
	args, err := packet.VGet[[]byte](s)
	if err != nil {
		return fmt.Errorf("request: args: %w", err)
	}
	*r = Request{Object: obj, Method: method, MethodHash: catalog.MethodHash(hash), Context: ctxBytes, Args: args}
	return nil
}

// ResultCode describes the result status of a completed call. Result codes
// not defined here are reserved for future protocol use.
type ResultCode byte

const (
	CodeSuccess       ResultCode = 0 // call completed successfully
	CodeUnknownMethod ResultCode = 1 // object or method name unknown to the server
	CodeDuplicateID   ResultCode = 2 // duplicate request ID
	CodeCanceled      ResultCode = 3 // call was canceled
	CodeServiceError  ResultCode = 4 // call failed due to a service error
	CodeDataMismatch  ResultCode = 5 // method-hash mismatch, per spec §9 Open Question (b)
)

func (c ResultCode) String() string {
	switch c {
	case CodeSuccess:
		return "SUCCESS"
	case CodeUnknownMethod:
		return "UNKNOWN_METHOD"
	case CodeDuplicateID:
		return "DUPLICATE_REQUEST_ID"
	case CodeCanceled:
		return "CANCELED"
	case CodeServiceError:
		return "SERVICE_ERROR"
	case CodeDataMismatch:
		return "DATA_MISMATCH"
	default:
		return fmt.Sprintf("result code %d", byte(c))
	}
}

// Response is the payload of a TypeResponse envelope: spec §6's
// `result_holder<R>` tagged union, represented as a status code plus a
// code-dependent data blob (the codec-serialized value on success, an
// [ErrorData] encoding on CodeServiceError, and empty otherwise).
type Response struct {
	Code ResultCode
	Data []byte
}

// Encode encodes r in binary format.
func (r Response) Encode() []byte {
	var b packet.Builder
	b.Grow(1 + packet.VLen(len(r.Data)))
	b.Put(byte(r.Code))
	b.VPut(r.Data)
	return b.Bytes()
}

// UnmarshalBinary decodes data into a Response. It implements
// encoding.BinaryUnmarshaler.
func (r *Response) UnmarshalBinary(data []byte) error {
	s := packet.NewScanner(data)
	code, err := s.Byte()
	if err != nil {
		return fmt.Errorf("response: code: %w", err)
	}
	d, err := packet.VGet[[]byte](s)
	if err != nil {
		return fmt.Errorf("response: data: %w", err)
	}
	if len(d) == 0 {
		d = nil // the wire form does not distinguish nil from empty data
	}
	*r = Response{Code: ResultCode(code), Data: d}
	return nil
}

// Cancel is the (empty) payload of a TypeCancel envelope; the request ID it
// cancels lives in the enclosing Envelope's header.
type Cancel struct{}

// Encode encodes c in binary format (always empty).
func (c Cancel) Encode() []byte { return nil }

// ErrorData is the error envelope of spec §6: a portable class name plus a
// human-readable message. The receiving side reports it as a *[CallError]
// carrying Class and Message as received; Class is not mapped to a local
// error kind, and [ErrUnknown] is not reported for it.
type ErrorData struct {
	Class   string
	Message string
}

// Error implements the error interface, so an ErrorData can be returned
// directly by a method handler to control the class and message reported
// to the caller.
func (e ErrorData) Error() string {
	if e.Class != "" {
		return fmt.Sprintf("[%s] %s", e.Class, e.Message)
	}
	return e.Message
}

// Encode encodes e in binary format.
func (e ErrorData) Encode() []byte {
	var b packet.Builder
	b.VPutString(e.Class)
	b.VPutString(e.Message)
	return b.Bytes()
}

// UnmarshalBinary decodes data into an ErrorData. It implements
// encoding.BinaryUnmarshaler.
func (e *ErrorData) UnmarshalBinary(data []byte) error {
	if len(data) == 0 {
		*e = ErrorData{}
		return nil
	}
	s := packet.NewScanner(data)
	class, err := packet.VGet[string](s)
	if err != nil {
		return fmt.Errorf("error data: class: %w", err)
	}
	msg, err := packet.VGet[string](s)
	if err != nil {
		return fmt.Errorf("error data: message: %w", err)
	}
	*e = ErrorData{Class: class, Message: msg}
	return nil
}
