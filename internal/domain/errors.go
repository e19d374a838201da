package domain

import (
	"errors"
	"fmt"
)

// ErrExhausted signals that a data source has no more events. This is the
// normal end of a backtest, surfaced to strategies as a boolean, never as a
// raised error.
var ErrExhausted = errors.New("data exhausted")

// ValidationError reports a malformed request: misaligned tick/lot, unknown
// order id, cancel on a non-cancellable order. Rejected synchronously.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error [" + e.Field + "]: " + e.Reason
}

// NewValidationError creates a ValidationError with a formatted reason.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsValidation checks if an error is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ProtocolError reports corrupted or mis-ordered input: an incremental
// update before any snapshot, or non-monotonic timestamps within a stream.
// Fatal; the run must abort because continuing would silently corrupt
// results.
type ProtocolError struct {
	Op     string
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return "protocol error [" + e.Op + "]: " + e.Reason + ": " + e.Err.Error()
	}
	return "protocol error [" + e.Op + "]: " + e.Reason
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// NewProtocolError creates a ProtocolError with a formatted reason.
func NewProtocolError(op, format string, args ...any) *ProtocolError {
	return &ProtocolError{Op: op, Reason: fmt.Sprintf(format, args...)}
}

// IsProtocol checks if an error is a ProtocolError.
func IsProtocol(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}
