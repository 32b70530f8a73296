// Package winerr carries Win32 error codes through Go error values.
//
// The remote-call protocol transports failures as 32-bit thread exit codes,
// and the agent entry points return the same codes across the C ABI, so an
// error here is a numeric code plus a short origin tag.
package winerr

import (
	"errors"
	"fmt"
	"syscall"
)

// Error is an error with a Win32 (or agent-defined) numeric code.
type Error struct {
	Code uint32
	Op   string
}

// New returns an Error with the given code and origin tag.
func New(code uint32, op string) *Error {
	return &Error{Code: code, Op: op}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (code 0x%08X)", e.Op, e.Code)
}

// From converts a failed OS call into an Error, keeping the errno value as
// the code. A nil err returns nil.
func From(op string, err error) error {
	if err == nil {
		return nil
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return &Error{Code: uint32(errno), Op: op}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Code extracts the numeric code from err. Errors that do not carry one map
// to fallback.
func Code(err error, fallback uint32) uint32 {
	if err == nil {
		return 0
	}
	var we *Error
	if errors.As(err, &we) {
		return we.Code
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return uint32(errno)
	}
	return fallback
}
