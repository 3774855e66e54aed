// Package apperr defines the error taxonomy shared across the portal
// backend.
//
// Every recognized failure maps to one of five kinds. Handlers translate
// kinds to HTTP status codes; anything that is not an *Error is treated
// as KindInternal and never leaks its message to the caller.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error into the domain taxonomy.
type Kind int

const (
	// KindInternal is an unclassified failure. Details are logged, not
	// surfaced.
	KindInternal Kind = iota

	// KindNotFound means a referenced chat/agent/message/user is absent.
	KindNotFound

	// KindInvalidInput means a malformed or missing request field.
	KindInvalidInput

	// KindNotAllowed means a cross-tenant access attempt.
	KindNotAllowed

	// KindRemoteServer means the LLM provider, the registry or a DARP
	// server is unreachable or erroring.
	KindRemoteServer
)

// String returns the kind name used in logs and error events.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidInput:
		return "invalid_input"
	case KindNotAllowed:
		return "not_allowed"
	case KindRemoteServer:
		return "remote_server_error"
	default:
		return "internal_error"
	}
}

// HTTPStatus returns the status code a handler should respond with.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindNotAllowed:
		return http.StatusForbidden
	case KindRemoteServer:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified application error. The Message is safe to show
// to callers; Err carries the underlying cause for logs.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *Error) Unwrap() error { return e.Err }

// NotFound builds a KindNotFound error.
func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

// InvalidInput builds a KindInvalidInput error.
func InvalidInput(message string) *Error {
	return &Error{Kind: KindInvalidInput, Message: message}
}

// NotAllowed builds a KindNotAllowed error.
func NotAllowed(message string) *Error {
	return &Error{Kind: KindNotAllowed, Message: message}
}

// RemoteServer builds a KindRemoteServer error wrapping cause (may be nil).
func RemoteServer(message string, cause error) *Error {
	return &Error{Kind: KindRemoteServer, Message: message, Err: cause}
}

// Internal builds a KindInternal error wrapping cause (may be nil).
func Internal(message string, cause error) *Error {
	return &Error{Kind: KindInternal, Message: message, Err: cause}
}

// KindOf extracts the kind from err. Errors outside the taxonomy are
// KindInternal.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// PublicMessage returns the caller-safe message for err. Unclassified
// errors get a generic message so internals never leak.
func PublicMessage(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) && appErr.Kind != KindInternal {
		return appErr.Message
	}
	return "Something went wrong"
}
