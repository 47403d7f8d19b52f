// Package apperr defines the error kinds shared by every domain package.
// Domain errors wrap one of the kinds so the transport layer can map them
// with errors.Is without knowing the concrete domain error.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrValidation        = errors.New("validation error")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrUpstream          = errors.New("upstream error")
)

// Error is a domain error of a given kind.
type Error struct {
	Kind    error
	Message string
}

func New(kind error, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Newf(kind error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Kind
}

// Is makes two domain errors with the same kind and message equal, so
// wrapped copies created by Newf still match the package sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == e.Message
}

// Kind returns the kind of err, or nil when err carries none.
func Kind(err error) error {
	for _, k := range []error{ErrValidation, ErrNotFound, ErrConflict, ErrInsufficientStock, ErrUnauthorized, ErrUpstream} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
