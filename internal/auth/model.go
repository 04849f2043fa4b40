package auth

import "time"

// AdminAccount is an administrator credential record. Accounts are provisioned
// outside of this package; the login flow only reads them and bumps LastLoginAt.
type AdminAccount struct {
	Username     string
	PasswordHash string
	IsActive     bool
	LastLoginAt  *time.Time
}

// Session is a server-held login session. The session ID doubles as the
// opaque token handed to the client.
type Session struct {
	ID        string
	Owner     string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Active reports whether the session is still usable at the given instant.
func (s *Session) Active(now time.Time) bool {
	return now.Before(s.ExpiresAt)
}

// Identity is what a successful token validation yields.
type Identity struct {
	Username  string
	SessionID string
	ExpiresAt time.Time
}

// LoginResult carries the token of a freshly opened session and its expiry.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
}
