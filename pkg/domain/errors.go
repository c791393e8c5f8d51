package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCredentials is returned when a phone/password pair does not match.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUnauthorized is returned when a session token is missing or invalid.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrGeneratorUnavailable is returned when no answer generator is configured.
	ErrGeneratorUnavailable = errors.New("answer generation not configured")
)

// ValidationError names the missing or malformed input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Invalid builds a ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a referenced entity that does not exist.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string { return e.Entity + " not found" }

// ConflictError reports a duplicate unique key.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// UpstreamError reports a failure of a third-party service.
type UpstreamError struct {
	Service string
	Status  int
	Message string
	Err     error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Service, e.Message, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("%s: upstream returned %d: %s", e.Service, e.Status, e.Message)
	default:
		return fmt.Sprintf("%s: %s", e.Service, e.Message)
	}
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Details is the client-safe description of the failure.
func (e *UpstreamError) Details() string {
	if e.Status != 0 {
		return fmt.Sprintf("API returned %d: %s", e.Status, e.Message)
	}
	return e.Message
}
