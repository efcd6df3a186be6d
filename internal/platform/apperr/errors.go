package apperr

import (
	"errors"
	"fmt"
)

// Sentinel error kinds. Every DomainError unwraps to exactly one of these.
var (
	ErrValidation   = errors.New("validation failed")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrBlocked      = errors.New("blocked")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
)

// DomainError carries an error kind together with a caller-facing message.
type DomainError struct {
	Err     error
	Message string
}

func (e *DomainError) Error() string {
	if e.Message == "" {
		return e.Err.Error()
	}
	return e.Message
}

// Unwrap exposes the kind so errors.Is(err, ErrNotFound) works.
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewValidationError reports bad caller input.
func NewValidationError(format string, args ...any) *DomainError {
	return &DomainError{Err: ErrValidation, Message: fmt.Sprintf(format, args...)}
}

// NewNotFoundError reports a missing entity.
func NewNotFoundError(entity, id string) *DomainError {
	return &DomainError{Err: ErrNotFound, Message: fmt.Sprintf("%s %s not found", entity, id)}
}

// NewConflictError reports a write that lost against concurrent state.
func NewConflictError(message string) *DomainError {
	return &DomainError{Err: ErrConflict, Message: message}
}

// NewInvalidStateError reports a transition that is not allowed from the current status.
func NewInvalidStateError(from, to string) *DomainError {
	return &DomainError{Err: ErrConflict, Message: fmt.Sprintf("cannot transition from %s to %s", from, to)}
}

// NewBlockedError reports an operation refused because dependent records exist.
func NewBlockedError(message string) *DomainError {
	return &DomainError{Err: ErrBlocked, Message: message}
}

// NewUnauthorizedError reports missing or invalid credentials.
func NewUnauthorizedError(message string) *DomainError {
	return &DomainError{Err: ErrUnauthorized, Message: message}
}

// NewForbiddenError reports an authenticated caller lacking permission.
func NewForbiddenError(message string) *DomainError {
	return &DomainError{Err: ErrForbidden, Message: message}
}

func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }
func IsNotFound(err error) bool   { return errors.Is(err, ErrNotFound) }
func IsConflict(err error) bool   { return errors.Is(err, ErrConflict) }
func IsBlocked(err error) bool    { return errors.Is(err, ErrBlocked) }
