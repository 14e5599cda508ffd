// Package ufoerr defines the error kinds used throughout the pipeline core
// as wrapped sentinel errors, so callers can branch
// on kind with errors.Is/errors.As instead of matching strings.
package ufoerr

import "errors"

// Kind identifies one of this package's error categories.
type Kind string

const (
	KindLoadProgram       Kind = "load_program"
	KindCompileProgram    Kind = "compile_program"
	KindKernelNotFound    Kind = "kernel_not_found"
	KindAllocationFailed  Kind = "allocation_failed"
	KindGraphInvalid      Kind = "graph_invalid"
	KindTaskSetupFailed   Kind = "task_setup_failed"
	KindTaskProcessFailed Kind = "task_process_failed"
	KindTransportFailed   Kind = "transport_failed"
	KindProtocolViolation Kind = "protocol_violation"
)

// Error pairs a Kind with the underlying cause and an optional diagnostic,
// e.g. a device compiler build log attached to a compile_program error.
type Error struct {
	Kind       Kind
	Message    string
	Diagnostic string
	Cause      error
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	if e.Diagnostic != "" {
		return e.Message + ": " + e.Diagnostic
	}
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDiagnostic attaches a device-side diagnostic log to the error and
// returns it for chaining.
func (e *Error) WithDiagnostic(log string) *Error {
	e.Diagnostic = log
	return e
}

// Is lets errors.Is(err, ufoerr.Sentinel(ufoerr.KindX)) match by comparing
// Kind against a bare *Error of that kind with no cause.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// KindOf extracts the Kind from err, or "" if err is not (or does not
// wrap) a *ufoerr.Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Sentinel returns a bare *Error of the given kind, suitable for use with
// errors.Is(err, ufoerr.Sentinel(ufoerr.KindGraphInvalid)).
func Sentinel(kind Kind) *Error {
	return &Error{Kind: kind}
}
