// Package domainerrors provides coded domain errors with stable machine-readable
// codes. Services return these instead of raw errors so transports can translate
// failures without string matching, and callers must handle every failure kind.
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable machine-readable error code surfaced to API clients.
type Code string

const (
	CodeInvalidInput       Code = "invalid_input"
	CodeValidationFailed   Code = "validation_failed"
	CodeUnauthenticated    Code = "unauthenticated"
	CodeTenantMissing      Code = "tenant_missing"
	CodePolicyDenied       Code = "policy_denied"
	CodeInvalidTransition  Code = "invalid_transition"
	CodeVersionConflict    Code = "version_conflict"
	CodeBusy               Code = "busy"
	CodeDispatchFailed     Code = "dispatch_failed"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeInvariantViolation Code = "invariant_violation"
	CodeInternal           Code = "internal"
)

// Error carries a code, a human message, and an optional wrapped cause.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a coded error with a human-readable message.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap annotates an underlying error with a code and message. The cause stays
// reachable via errors.Is / errors.As.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, cause: err}
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	for errors.As(err, &de) {
		if de.Code == code {
			return true
		}
		err = de.cause
		de = nil
	}
	return false
}

// CodeOf extracts the outermost code from err, or CodeInternal if err is not
// a coded error.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// MessageOf extracts the human message from err, or a generic fallback.
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return "internal error"
}

// ToHTTPStatus maps a code to the HTTP status surfaced by the transport layer.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeInvalidInput, CodeValidationFailed:
		return http.StatusUnprocessableEntity
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeTenantMissing, CodePolicyDenied:
		return http.StatusForbidden
	case CodeInvalidTransition, CodeVersionConflict, CodeConflict, CodeInvariantViolation:
		return http.StatusConflict
	case CodeBusy:
		return http.StatusServiceUnavailable
	case CodeNotFound:
		return http.StatusNotFound
	case CodeDispatchFailed, CodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
