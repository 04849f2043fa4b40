package auth

import (
	"errors"
	"fmt"
)

// Authentication outcomes. These are terminal and must not be retried.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrExpired            = errors.New("session expired")
)

// ErrStoreUnavailable marks an infrastructure failure of the credential or
// session store (including timeouts and malformed records). Callers may retry
// it, but must never treat it as "not logged in".
var ErrStoreUnavailable = errors.New("store unavailable")

// Normal "absent" outcomes returned by store implementations.
var (
	ErrAccountNotFound = errors.New("account not found")
	ErrSessionNotFound = errors.New("session not found")
)

func storeUnavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

// IsAuthFailure reports whether err is one of the authentication denials.
func IsAuthFailure(err error) bool {
	return errors.Is(err, ErrInvalidCredentials) ||
		errors.Is(err, ErrInvalidToken) ||
		errors.Is(err, ErrExpired)
}
