// Package errors defines the pipeline's error taxonomy. Every failure that
// crosses a package boundary wraps one of the sentinels below so callers can
// classify it with errors.Is.
package errors

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedRecord = errors.New("malformed record")
	ErrMissingMaxCount = errors.New("record has no max count")
	ErrInvalidMaxCount = errors.New("invalid max count")
	ErrCountExceedsMax = errors.New("term count exceeds max count")
	ErrInvalidTerm     = errors.New("invalid term")
	ErrIO              = errors.New("i/o failure")
	ErrTransfer        = errors.New("transfer failed")
	ErrNotFound        = errors.New("object not found")
	ErrProvisioning    = errors.New("bucket provisioning failed")
)

// PipelineError ties a sentinel to the item it happened on.
type PipelineError struct {
	Err     error
	Item    string
	Message string
}

func (e *PipelineError) Error() string {
	if e.Item == "" {
		return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Err.Error(), e.Item, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

func New(sentinel error, item string, message string) *PipelineError {
	return &PipelineError{
		Err:     sentinel,
		Item:    item,
		Message: message,
	}
}

func Newf(sentinel error, item string, format string, args ...any) *PipelineError {
	return &PipelineError{
		Err:     sentinel,
		Item:    item,
		Message: fmt.Sprintf(format, args...),
	}
}

// Kind returns a short, stable label for err, suitable for metric labels
// and report rows.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrMalformedRecord):
		return "malformed_record"
	case errors.Is(err, ErrMissingMaxCount):
		return "missing_max_count"
	case errors.Is(err, ErrInvalidMaxCount):
		return "invalid_max_count"
	case errors.Is(err, ErrCountExceedsMax):
		return "count_exceeds_max"
	case errors.Is(err, ErrInvalidTerm):
		return "invalid_term"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrTransfer):
		return "transfer"
	case errors.Is(err, ErrProvisioning):
		return "provisioning"
	case errors.Is(err, ErrIO):
		return "io"
	default:
		return "internal"
	}
}

// IsWarning reports whether err describes a record that was skipped without
// being counted as a failure.
func IsWarning(err error) bool {
	return errors.Is(err, ErrMissingMaxCount)
}
