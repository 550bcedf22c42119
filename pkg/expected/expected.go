// Package expected defines the error type for normal, anticipated
// failure modes: business-rule violations such as commanding power out
// of range, operating during an interlock window, or moving a shutter
// with contradictory sensors.
//
// An expected error is not a bug. Supervisors present it to operators
// without alarm and the message carries enough numeric detail
// (remaining seconds, configured thresholds) to be directly actionable.
package expected

import (
	"errors"
	"fmt"
)

// Error is a normal, anticipated failure.
type Error struct {
	msg string
}

// Newf creates an expected error with a formatted message.
func Newf(format string, args ...any) *Error {
	return &Error{msg: fmt.Sprintf(format, args...)}
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.msg
}

// Is reports whether err is (or wraps) an expected error.
func Is(err error) bool {
	var e *Error
	return errors.As(err, &e)
}
