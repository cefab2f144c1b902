// Package apperr defines the error kinds shared by the services and the
// mapping the HTTP layer uses to render them.
package apperr

import (
	"errors"
	"net/http"
)

// Kind classifies an error by what the caller can do about it.
type Kind int

const (
	SystemError Kind = iota
	InvalidArgument
	NotFound
	Conflict
	Unauthorized
	Expired
)

// String returns the wire code for the kind.
func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "invalid_argument"
	case NotFound:
		return "not_found"
	case Conflict:
		return "conflict"
	case Unauthorized:
		return "forbidden"
	case Expired:
		return "expired"
	default:
		return "internal_error"
	}
}

// HTTPStatus returns the status code used when the kind reaches a client.
func (k Kind) HTTPStatus() int {
	switch k {
	case InvalidArgument:
		return http.StatusUnprocessableEntity
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case Unauthorized:
		return http.StatusForbidden
	case Expired:
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified error with a client-safe message. The wrapped cause
// is kept for logs and errors.Is/As but never rendered.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New returns a classified error without a cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap classifies err under kind with a client-safe message.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// System wraps an unexpected failure.
func System(message string, err error) *Error {
	return Wrap(SystemError, message, err)
}

// KindOf reports the kind of err. Unclassified errors are system errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return SystemError
}

// MessageOf returns the client-safe message for err.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
