// Package apierr defines the error kinds the workflow engine and HTTP
// façade use to map internal failures onto response status codes.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an Error for status-code mapping (spec §7).
type Kind string

const (
	Empty           Kind = "empty"
	Unauthorized    Kind = "unauthorized"
	NotFound        Kind = "not_found"
	SubscriberError Kind = "subscriber_error"
	StoreError      Kind = "store_error"
	Validation      Kind = "validation"
)

// Error is a kind-tagged error carrying an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error of the given kind around a cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// As extracts an *Error from err, if any wraps one.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// HTTPStatus maps a Kind onto the status code spec §7 assigns it.
func HTTPStatus(kind Kind) int {
	switch kind {
	case Empty:
		return http.StatusServiceUnavailable
	case Unauthorized:
		return http.StatusUnauthorized
	case NotFound:
		return http.StatusNotFound
	case SubscriberError:
		return http.StatusBadGateway
	case Validation:
		return http.StatusBadRequest
	case StoreError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// StatusFor maps any error to the status code the HTTP façade should
// return, falling back to 500 for errors not tagged with a Kind.
func StatusFor(err error) int {
	if e, ok := As(err); ok {
		return HTTPStatus(e.Kind)
	}
	return http.StatusInternalServerError
}
