package apperr

import (
	"errors"
	"fmt"
)

// Sentinel categories services attach to their failures so the HTTP edge can
// map them to status codes without inspecting messages. Forbidden is folded
// into not-found wherever revealing existence would leak information.
var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("forbidden")
	ErrConflict   = errors.New("conflict")
)

// Error carries a stable machine-readable code of the form
// "<operation>.<reason>" alongside the underlying cause.
type Error struct {
	code string
	err  error
}

// New builds an Error with the canonical code layout.
func New(operation, reason string, cause error) error {
	return &Error{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

func (e *Error) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *Error) Unwrap() error {
	return e.err
}

// Code returns the stable error code.
func (e *Error) Code() string {
	return e.code
}
