package main

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by lookups and status updates for an unknown messageId.
	ErrNotFound = errors.New("message not found")

	// ErrUnsafeBulkOperation is returned when a delete is attempted without any
	// filter, which would otherwise wipe the whole table.
	ErrUnsafeBulkOperation = errors.New("refusing bulk operation without filters")
)

// ValidationError rejects malformed input before any I/O happens.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %q: %s", e.Field, e.Reason)
}

func newValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}
