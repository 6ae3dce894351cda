package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	Internal Kind = iota
	Validation
	Authentication
	NotFound
	Network
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case Authentication:
		return "authentication"
	case NotFound:
		return "not_found"
	case Network:
		return "network"
	default:
		return "internal"
	}
}

// Error is an error with a kind and a message that is safe to show to the user.
type Error struct {
	Kind    Kind
	Field   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Invalid(field, message string) *Error {
	return &Error{Kind: Validation, Field: field, Message: message}
}

func Unauthenticated(message string, err error) *Error {
	return &Error{Kind: Authentication, Message: message, Err: err}
}

func Missing(message string, err error) *Error {
	return &Error{Kind: NotFound, Message: message, Err: err}
}

func Unreachable(message string, err error) *Error {
	return &Error{Kind: Network, Message: message, Err: err}
}

// KindOf returns Internal for errors that carry no kind.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the user-facing message, or fallback when err has none.
func Message(err error, fallback string) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return fallback
}
