package domain

import (
	"errors"
	"fmt"
)

// Error classes. Every error returned by an evaluator wraps exactly one of
// these so the block applier can decide between rejecting an operation and
// halting the block.
var (
	ErrValidation   = errors.New("validation failed")
	ErrPrecondition = errors.New("precondition failed")
	ErrNotFound     = errors.New("not found")
	ErrOutOfRange   = errors.New("out of range")
	ErrConsistency  = errors.New("consistency violation")

	ErrAlreadyExists = errors.New("already exists")
	ErrLockHeld      = errors.New("lock already held")
)

// Validationf returns an ErrValidation carrying a formatted message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Preconditionf returns an ErrPrecondition carrying a formatted message.
func Preconditionf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrPrecondition, fmt.Sprintf(format, args...))
}

// NotFoundf returns an ErrNotFound carrying a formatted message.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// OutOfRangef returns an ErrOutOfRange carrying a formatted message.
func OutOfRangef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrOutOfRange, fmt.Sprintf(format, args...))
}

// Consistencyf returns an ErrConsistency carrying a formatted message.
func Consistencyf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConsistency, fmt.Sprintf(format, args...))
}

// IsFatal reports whether err must halt block processing.
func IsFatal(err error) bool {
	return errors.Is(err, ErrConsistency)
}
