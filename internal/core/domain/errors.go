package domain

import (
	"errors"
	"fmt"
)

// Domain errors. The storage layer translates driver errors into these before
// they leave the package, and the HTTP layer maps them to status codes in one
// place. No store-internal error representation crosses either boundary.
var (
	// ErrAccountExists means the email is already registered.
	ErrAccountExists = errors.New("an account with this email already exists")

	// ErrHandleExhausted means handle generation kept colliding past the
	// retry cap. With 16 bytes of entropy this indicates a broken store,
	// not bad luck.
	ErrHandleExhausted = errors.New("could not allocate a unique payment handle")

	// ErrNotFound is the store-level miss for a single account lookup.
	ErrNotFound = errors.New("account not found")

	// ErrInsufficientBalance rejects a transfer that would drive the
	// sender's balance negative.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInvalidCredentials covers both an unknown email and a wrong
	// password, deliberately indistinguishable to the caller.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrVersionConflict is the store-level optimistic-write rejection.
	// The engine retries on it; callers never see it directly.
	ErrVersionConflict = errors.New("account was modified by a concurrent write")

	// ErrTransferConflict surfaces after the engine exhausts its retries
	// against ErrVersionConflict.
	ErrTransferConflict = errors.New("transfer aborted after repeated write conflicts")

	// ErrStoreUnavailable wraps store timeouts and connectivity failures.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrRandomness means the OS randomness source failed. Fatal to the
	// creation attempt.
	ErrRandomness = errors.New("randomness source unavailable")
)

// ValidationError rejects malformed or missing caller input. Never retried.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// Validationf builds a ValidationError from a format string.
func Validationf(format string, args ...any) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// DuplicateKeyError reports which unique field an insert collided on.
// Field is one of "email" or "handle".
type DuplicateKeyError struct {
	Field string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("duplicate value for unique field %q", e.Field)
}

// NotFoundError reports which side of a transfer could not be resolved.
// Which is "sender" or "receiver".
type NotFoundError struct {
	Which string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s account not found", e.Which)
}
