package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/roach88/storetest/effect"
)

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// ErrCodeTimeout indicates the script did not finish within the timeout.
	ErrCodeTimeout ErrorCode = "TIMEOUT"

	// ErrCodeMalformed indicates an instruction outside the effect vocabulary.
	ErrCodeMalformed ErrorCode = "MALFORMED_INSTRUCTION"

	// ErrCodeConfig indicates an unusable configuration.
	ErrCodeConfig ErrorCode = "INVALID_CONFIG"

	// ErrCodeReused indicates Run was called twice on one engine.
	ErrCodeReused ErrorCode = "ENGINE_REUSED"
)

// TimeoutError is returned when a run times out. Report holds the diagnostic
// rendering of the action and effect logs.
type TimeoutError struct {
	Code    ErrorCode
	Timeout time.Duration
	Report  string
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: no progress within %s\n\n%s", e.Code, e.Timeout, e.Report)
}

// NewTimeoutError creates a TimeoutError.
func NewTimeoutError(timeout time.Duration, report string) *TimeoutError {
	return &TimeoutError{Code: ErrCodeTimeout, Timeout: timeout, Report: report}
}

// IsTimeout returns true if err is or wraps a TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// Error is a non-timeout engine failure.
type Error struct {
	Code    ErrorCode
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// MalformedError is the panic value raised when a script yields something the
// engine cannot execute. It signals a programming defect, not a test failure.
type MalformedError struct {
	Code        ErrorCode
	Instruction effect.Instruction
	Reason      string
}

// Error implements the error interface.
func (e *MalformedError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: cannot execute %T: %s", e.Code, e.Instruction, e.Reason)
	}
	return fmt.Sprintf("%s: cannot execute %T", e.Code, e.Instruction)
}

// NewMalformedError creates a MalformedError for in.
func NewMalformedError(in effect.Instruction) *MalformedError {
	return &MalformedError{Code: ErrCodeMalformed, Instruction: in}
}

// IsMalformed returns true if err is or wraps a MalformedError.
func IsMalformed(err error) bool {
	var me *MalformedError
	return errors.As(err, &me)
}

// errTimedOut is the cancellation cause set by the timeout watcher.
var errTimedOut = errors.New("timed out")
