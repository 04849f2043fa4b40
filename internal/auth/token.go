package auth

import (
	"encoding/base64"

	"github.com/2beens/adminauth/pkg"
)

const (
	// SessionIDBytes is the amount of randomness behind every session id (256 bits).
	SessionIDBytes = 32

	minTokenBytes = 16
	maxTokenLen   = 128
)

// NewSessionID returns a fresh, URL-safe, unguessable session id.
func NewSessionID() (string, error) {
	return pkg.GenerateRandomString(SessionIDBytes)
}

// ValidToken reports whether token is shaped like something we could have issued.
// It does not touch any store.
func ValidToken(token string) bool {
	if token == "" || len(token) > maxTokenLen {
		return false
	}
	decoded, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return false
	}
	return len(decoded) >= minTokenBytes
}
