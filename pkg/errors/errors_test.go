package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestPipelineErrorUnwrap(t *testing.T) {
	err := Newf(ErrInvalidTerm, "a/b", "contains %q", "/")
	if !errors.Is(err, ErrInvalidTerm) {
		t.Fatalf("expected errors.Is(err, ErrInvalidTerm)")
	}
	want := `invalid term: a/b: contains "/"`
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	wrapped := fmt.Errorf("writing term: %w", err)
	var pe *PipelineError
	if !errors.As(wrapped, &pe) || pe.Item != "a/b" {
		t.Errorf("errors.As did not recover the item, got %+v", pe)
	}
}

func TestKind(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{New(ErrMalformedRecord, "", "empty line"), "malformed_record"},
		{fmt.Errorf("x: %w", ErrInvalidMaxCount), "invalid_max_count"},
		{New(ErrCountExceedsMax, "d1", "7 > 4"), "count_exceeds_max"},
		{New(ErrNotFound, "k", "gone"), "not_found"},
		{New(ErrTransfer, "k", "reset"), "transfer"},
		{New(ErrProvisioning, "b", "denied"), "provisioning"},
		{New(ErrIO, "f", "disk full"), "io"},
		{errors.New("boom"), "internal"},
	}
	for _, tc := range cases {
		if got := Kind(tc.err); got != tc.want {
			t.Errorf("Kind(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestIsWarning(t *testing.T) {
	if !IsWarning(New(ErrMissingMaxCount, "d1", "no __max__")) {
		t.Error("missing max count should be a warning")
	}
	if IsWarning(New(ErrInvalidMaxCount, "d1", "zero")) {
		t.Error("invalid max count should not be a warning")
	}
}
