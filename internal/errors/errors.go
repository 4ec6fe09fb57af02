// Package errors provides the coded failure taxonomy shared by every rally
// operation.
package errors

import (
	"errors"

	"github.com/dyluth/rally/pkg/ledger"
)

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unclassified error.
	CodeUnknown Code = "UNKNOWN"

	// CodeNotFound means a referenced record, link or profile does not exist.
	CodeNotFound Code = "NOT_FOUND"

	// CodeInvalidState means the entity is not in a state that allows the operation.
	CodeInvalidState Code = "INVALID_STATE"

	// CodeUnauthorized means the caller is not allowed to perform the operation.
	CodeUnauthorized Code = "UNAUTHORIZED"

	// CodeConflict means the operation collides with existing data.
	CodeConflict Code = "CONFLICT"

	// CodeMalformedData means a payload or record failed to decode or verify.
	CodeMalformedData Code = "MALFORMED_DATA"

	// CodeTransportFailure means a remote call could not be delivered.
	CodeTransportFailure Code = "TRANSPORT_FAILURE"
)

// Error is the domain error type with structured metadata.
type Error struct {
	Code     Code              // Machine-readable error code
	Message  string            // Human-readable message
	Metadata map[string]string // Additional context (hashes, names)
	Cause    error             // Wrapped underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates a simple domain error with a code and message.
func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// WithMetadata creates a domain error carrying context values.
func WithMetadata(code Code, message string, metadata map[string]string) *Error {
	return &Error{
		Code:     code,
		Message:  message,
		Metadata: metadata,
	}
}

// Wrap creates a domain error that wraps an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Sentinels for errors.Is comparisons by code.
var (
	ErrNotFound         = New(CodeNotFound, "not found")
	ErrInvalidState     = New(CodeInvalidState, "invalid state")
	ErrUnauthorized     = New(CodeUnauthorized, "unauthorized")
	ErrConflict         = New(CodeConflict, "conflict")
	ErrMalformedData    = New(CodeMalformedData, "malformed data")
	ErrTransportFailure = New(CodeTransportFailure, "transport failure")
)

// CodeOf returns the code of the first *Error in err's chain.
// Storage not-found errors map to CodeNotFound and unreachable agents to
// CodeTransportFailure.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	if ledger.IsNotFound(err) {
		return CodeNotFound
	}
	if errors.Is(err, ledger.ErrUnreachable) {
		return CodeTransportFailure
	}
	return CodeUnknown
}

// FromStorage converts a ledger error into a domain error.
// Not-found errors become CodeNotFound with message; anything else is
// returned unchanged.
func FromStorage(err error, message string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if ledger.IsNotFound(err) {
		return Wrap(CodeNotFound, message, err)
	}
	return err
}
