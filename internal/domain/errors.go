package domain

import (
	"errors"
	"fmt"
)

// ErrEmptyInput is returned when a batch has no readings, so no time extent
// and no windows can be derived from it.
var ErrEmptyInput = errors.New("empty reading batch: cannot compute timestamp extent")

// WindowError reports a window whose records could not be written. Windows are
// independent, so the caller can re-derive and retry exactly this one.
type WindowError struct {
	Window  Window
	Records int
	Err     error
}

func (e *WindowError) Error() string {
	return fmt.Sprintf("write window %s (%d records): %v", e.Window, e.Records, e.Err)
}

func (e *WindowError) Unwrap() error { return e.Err }
