package reminder

import (
	"errors"
	"fmt"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	// ErrConflict means a conditional write lost: the dose was no longer in
	// the state the caller read.
	ErrConflict = errors.New("conflict")
)

// ValidationError names the offending field. It matches ErrValidation.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string { return e.Msg }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NotFoundError is returned for absent records and for records owned by a
// different user. It matches ErrNotFound.
type NotFoundError struct {
	Kind string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s not found", e.Kind) }

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

func reminderNotFound() error { return &NotFoundError{Kind: "reminder"} }

func doseNotFound() error { return &NotFoundError{Kind: "dose"} }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}
