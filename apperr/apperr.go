// Package apperr defines the error taxonomy shared by the stores, the
// services and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error
type Kind int

const (
	// StoreFailure is the zero value so unclassified errors surface as
	// server errors.
	StoreFailure Kind = iota
	InvalidInput
	NotFound
	Forbidden
	Conflict
	InvalidState
)

func (k Kind) String() string {
	switch k {
	case InvalidInput:
		return "invalid_input"
	case NotFound:
		return "not_found"
	case Forbidden:
		return "forbidden"
	case Conflict:
		return "conflict"
	case InvalidState:
		return "invalid_state"
	default:
		return "store_failure"
	}
}

// Error is an error with a Kind and a client-safe message
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error of the given kind
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches a kind and message to an existing error
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Store wraps a persistence error as StoreFailure.
func Store(op string, err error) *Error {
	return Wrap(StoreFailure, op+" failed", err)
}

// KindOf returns the kind of the first *Error in err's chain, or
// StoreFailure when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return StoreFailure
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the client-safe message for err. Store failures never
// leak driver details.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != StoreFailure {
		return e.Message
	}
	return "Server error"
}

// HTTPStatus maps a kind onto the status code used by the HTTP surface.
// Conflicts are a normal race outcome and are answered with 200.
func HTTPStatus(kind Kind) int {
	switch kind {
	case InvalidInput:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case Forbidden:
		return http.StatusForbidden
	case InvalidState:
		return http.StatusConflict
	case Conflict:
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}
