// Copyright (C) 2023 Michael J. Fromberger. All Rights Reserved.

package arpc

import (
	"context"
	"fmt"

	"github.com/creachadair/arpc/catalog"
	"github.com/creachadair/arpc/handler"
	"github.com/creachadair/arpc/rpcctx"
)

// Call invokes the method named method on the object described by cat,
// through cli, marshaling param as the argument and unmarshaling the
// result into an R. This is the interface proxy glue of spec §4.7: for
// each typed method the metaprogramming layer in the original provides a
// name, a parameter type, a result type, and a compile-time-stable
// signature hash; Call packs exactly those into the envelope that
// [Client.Call] sends, using cat to resolve the hash and the
// [github.com/creachadair/arpc/handler] adapters to cross the []byte
// boundary.
//
// Call is a free function, not a method of Client, because Go methods
// cannot carry their own type parameters.
func Call[P, R any](ctx *rpcctx.Context, cli *Client, cat *catalog.Catalog, method string, param P) (out R, oerr error) {
	// A panic from a user-supplied codec (a custom MarshalBinary or
	// UnmarshalBinary on P or R) must not take the caller's goroutine down
	// with it, mirroring the recover chirp's dispatchRequestLocked wraps
	// around a handler invocation.
	defer func() {
		if r := recover(); r != nil {
			var zero R
			out, oerr = zero, fmt.Errorf("%w: panic in codec: %v", ErrInternal, r)
		}
	}()

	var zero R

	hash, ok := cat.MethodHash(method)
	if !ok {
		return zero, fmt.Errorf("%w: %s.%s", ErrNotFound, cat.Object(), method)
	}

	data, err := handler.Marshal(param)
	if err != nil {
		return zero, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	rsp, id, err := cli.Call(ctx, cat.Object(), method, hash, data)
	if err != nil {
		return zero, err
	}

	payload, err := decodeResult(id, rsp)
	if err != nil {
		return zero, err
	}
	if len(payload) == 0 {
		return zero, nil
	}

	result := new(R)
	if err := handler.Unmarshal(payload, result); err != nil {
		return zero, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return *result, nil
}

// decodeResult interprets rsp's result code, returning the success payload
// or an error classified per the protocol's closed result-code taxonomy.
func decodeResult(id uint32, rsp *Response) ([]byte, error) {
	switch rsp.Code {
	case CodeSuccess:
		return rsp.Data, nil

	case CodeServiceError:
		var ed ErrorData
		if uerr := ed.UnmarshalBinary(rsp.Data); uerr != nil {
			ed = ErrorData{Message: string(rsp.Data)}
		}
		return nil, &CallError{ErrorData: ed, RequestID: id, Response: rsp}

	case CodeCanceled:
		return nil, &CallError{Err: context.Canceled, RequestID: id, Response: rsp}

	case CodeUnknownMethod:
		return nil, fmt.Errorf("%w: request %d", ErrNotFound, id)

	case CodeDataMismatch:
		return nil, fmt.Errorf("%w: request %d", ErrDataMismatch, id)

	case CodeDuplicateID:
		return nil, fmt.Errorf("%w: duplicate request id %d", ErrInternal, id)

	default:
		return nil, fmt.Errorf("%w: unrecognized result code %v", ErrDataMismatch, rsp.Code)
	}
}
