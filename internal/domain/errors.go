package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for well-known failure conditions that cross package
// boundaries.  Callers should use [errors.Is] to match these.
var (
	// ErrNotFound means a referenced user, domain, relay, or session does not
	// exist (or is not visible to the caller).
	ErrNotFound = errors.New("not found")

	// ErrSubdomainConflict indicates the requested subdomain is reserved by
	// another user or bound to an active session.
	ErrSubdomainConflict = errors.New("subdomain conflict")

	// ErrInvalidCursor is returned for pagination tokens that cannot be decoded.
	ErrInvalidCursor = errors.New("invalid cursor")

	// ErrInvalidRequest wraps field-level validation failures.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrUnauthorized indicates missing or invalid credentials.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimitExceeded is returned when a caller exceeds the allowed
	// request rate.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrReservationNotAllowed is returned when the user's plan does not
	// allow reserved subdomains.
	ErrReservationNotAllowed = errors.New("plan does not allow reserved subdomains")
)

// ConflictError names the subdomain that could not be allocated.
type ConflictError struct {
	Subdomain string
	Reason    string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("subdomain %q %s", e.Subdomain, e.Reason)
}

func (e *ConflictError) Unwrap() error {
	return ErrSubdomainConflict
}

// NotFoundError carries the kind and id of the missing record.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return e.Kind + " not found"
	}
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// Invalidf builds a validation error matching [ErrInvalidRequest].
func Invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}
