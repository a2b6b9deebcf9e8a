package service

import (
	"errors"
	"fmt"
)

// Error kinds. Every error the service returns wraps one of these;
// the handler maps kinds to HTTP status codes.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrConflict     = errors.New("conflict")
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
)

// Sentinel errors for the auth service.
var (
	ErrInvalidCredentials  = fmt.Errorf("%w: invalid credentials", ErrUnauthorized)
	ErrInvalidRefreshToken = fmt.Errorf("%w: invalid refresh token", ErrUnauthorized)
	ErrSessionNotFound     = fmt.Errorf("%w: session not found", ErrUnauthorized)
	ErrEmailTaken          = fmt.Errorf("%w: email already exists", ErrConflict)
	ErrUsernameTaken       = fmt.Errorf("%w: username already exists", ErrConflict)
	ErrIdentityNotFound    = fmt.Errorf("%w: user not found", ErrNotFound)
)

// ValidationError describes rejected client input. Its message is safe to show to clients.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Unwrap lets errors.Is(err, ErrInvalidInput) match.
func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}
