// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

package arpc

import (
	"context"
	"errors"
	"io"
	"testing"
)

// TestClassifyTaxonomy verifies that classify maps every failure this
// module's transport and channel layers can produce onto exactly one
// sentinel of the closed error taxonomy, passing context.Canceled and
// context.DeadlineExceeded through unchanged.
func TestClassifyTaxonomy(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"nil", nil, nil},
		{"canceled", context.Canceled, context.Canceled},
		{"deadline", context.DeadlineExceeded, context.DeadlineExceeded},
		{"eof", io.EOF, ErrIOError},
		{"other", errors.New("some syscall error"), ErrIOError},
	}
	for _, c := range cases {
		got := classify(c.err)
		if c.want == nil {
			if got != nil {
				t.Errorf("classify(nil) = %v, want nil", got)
			}
			continue
		}
		if !errors.Is(got, c.want) {
			t.Errorf("classify(%v) = %v, want wrapping %v", c.err, got, c.want)
		}
	}
}

func TestTreatAsClean(t *testing.T) {
	if !treatAsClean(nil) {
		t.Error("treatAsClean(nil) = false, want true")
	}
	if !treatAsClean(io.EOF) {
		t.Error("treatAsClean(io.EOF) = false, want true")
	}
	if treatAsClean(errors.New("boom")) {
		t.Error("treatAsClean(boom) = true, want false")
	}
}
