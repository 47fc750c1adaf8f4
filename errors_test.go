// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

package arpc_test

import (
	"context"
	"errors"
	"testing"

	"github.com/creachadair/arpc"
)

func TestCallErrorUnwrap(t *testing.T) {
	ce := &arpc.CallError{Err: context.DeadlineExceeded, RequestID: 7}
	if !errors.Is(ce, context.DeadlineExceeded) {
		t.Errorf("errors.Is(ce, DeadlineExceeded) = false, want true")
	}
}

func TestCallErrorServiceMessage(t *testing.T) {
	ce := &arpc.CallError{
		ErrorData: arpc.ErrorData{Class: "bad_input", Message: "missing field"},
		RequestID: 3,
		Response:  &arpc.Response{Code: arpc.CodeServiceError},
	}
	want := "request 3: service error: [bad_input] missing field"
	if got := ce.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
