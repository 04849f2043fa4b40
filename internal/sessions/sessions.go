// Package sessions holds the session store implementations used by the auth service.
package sessions

import (
	"errors"
	"fmt"
	"time"

	"github.com/2beens/adminauth/internal/auth"
)

const maxIDAttempts = 3

var ErrIDCollision = errors.New("session id collision")

// IDFunc returns a new random, URL-safe session id made of n random bytes.
type IDFunc func(n int) (string, error)

func checkLifetime(createdAt, expiresAt time.Time) (time.Duration, error) {
	if createdAt.IsZero() || expiresAt.IsZero() {
		return 0, errors.New("session timestamps empty")
	}
	ttl := expiresAt.Sub(createdAt)
	if ttl <= 0 {
		return 0, fmt.Errorf("session expiry %s not after creation %s", expiresAt, createdAt)
	}
	return ttl, nil
}

// allocateID keeps drawing ids until tryStore accepts one.
// tryStore reports false when the id is already taken.
func allocateID(idFunc IDFunc, tryStore func(id string) (bool, error)) (string, error) {
	for i := 0; i < maxIDAttempts; i++ {
		id, err := idFunc(auth.SessionIDBytes)
		if err != nil {
			return "", fmt.Errorf("generate session id: %w", err)
		}
		stored, err := tryStore(id)
		if err != nil {
			return "", err
		}
		if stored {
			return id, nil
		}
	}
	return "", ErrIDCollision
}
