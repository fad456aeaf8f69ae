package reputation

import (
	"errors"
)

// Validation errors. Rejected before any mutation.
var (
	ErrUnknownAction = errors.New("unknown action type")
	ErrInvalidDelta  = errors.New("invalid delta")
	ErrInvalidUser   = errors.New("invalid user id")
)

// ErrUserNotFound is returned when no reputation row exists for the user.
var ErrUserNotFound = errors.New("user reputation not found")

// ErrPersistence wraps storage failures of the score write. The caller may retry.
var ErrPersistence = errors.New("reputation persistence failed")

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrUnknownAction) || errors.Is(err, ErrInvalidDelta) || errors.Is(err, ErrInvalidUser)
}

// IsRetryable reports whether the operation that produced err can be retried as is.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrPersistence)
}
