package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/2beens/adminauth/internal/telemetry/tracing"
	"github.com/2beens/adminauth/pkg"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

const (
	DefaultTTL          = 24 * time.Hour
	DefaultStoreTimeout = 3 * time.Second
)

//go:generate mockgen -source=$GOFILE -destination=mocks_test.go -package=auth_test

type credentialStore interface {
	FindByUsername(ctx context.Context, username string) (*AdminAccount, error)
	TouchLastLogin(ctx context.Context, username string, at time.Time) error
}

type sessionStore interface {
	Create(ctx context.Context, owner string, createdAt, expiresAt time.Time) (string, error)
	Get(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, id string) error
	DeleteAllForOwner(ctx context.Context, owner string) (int, error)
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

type passwordHasher interface {
	Hash(password string) (string, error)
	Verify(password, hash string) bool
}

// Service issues, validates and revokes admin login sessions.
// It keeps no session state of its own; every call goes to the stores.
type Service struct {
	credentials credentialStore
	sessions    sessionStore
	hasher      passwordHasher
	ttl         time.Duration

	// StoreTimeout bounds every single store call.
	StoreTimeout time.Duration
	// ability to inject the clock (for unit and dev testing)
	Now func() time.Time

	dummyHashOnce sync.Once
	dummyHash     string
}

func NewAuthService(
	credentials credentialStore,
	sessions sessionStore,
	hasher passwordHasher,
	ttl time.Duration,
) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{
		credentials:  credentials,
		sessions:     sessions,
		hasher:       hasher,
		ttl:          ttl,
		StoreTimeout: DefaultStoreTimeout,
		Now:          time.Now,
	}
}

func (s *Service) TTL() time.Duration {
	return s.ttl
}

// Login checks the credentials and opens a new session. Unknown users,
// inactive accounts and wrong passwords all yield ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, username, password string) (_ *LoginResult, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "auth.login")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	account, err := s.findAccount(ctx, username)
	if errors.Is(err, ErrAccountNotFound) {
		// burn the same bcrypt time as for a real account
		s.hasher.Verify(password, s.timingEqualizerHash())
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, storeUnavailable("find account", err)
	}

	passwordOK := s.hasher.Verify(password, account.PasswordHash)
	if !passwordOK || !account.IsActive {
		return nil, ErrInvalidCredentials
	}

	now := s.Now()
	expiresAt := now.Add(s.ttl)
	sessionID, err := s.createSession(ctx, account.Username, now, expiresAt)
	if err != nil {
		return nil, storeUnavailable("create session", err)
	}

	if err := s.touchLastLogin(ctx, account.Username, now); err != nil {
		// best effort: the session is already issued
		log.Warnf("auth service, update last login for [%s]: %s", account.Username, err)
	}

	span.SetAttributes(attribute.String("admin.username", account.Username))
	return &LoginResult{
		Token:     sessionID,
		ExpiresAt: expiresAt,
	}, nil
}

// Validate resolves a token into the identity of its session owner.
// Expired sessions are removed on sight. Expiry is never extended.
func (s *Service) Validate(ctx context.Context, token string) (_ *Identity, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "auth.validate")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	if !ValidToken(token) {
		return nil, ErrInvalidToken
	}

	session, err := s.getSession(ctx, token)
	if errors.Is(err, ErrSessionNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, storeUnavailable("get session", err)
	}

	if !session.Active(s.Now()) {
		if err := s.deleteSession(ctx, token); err != nil {
			log.Warnf("auth service, delete expired session of [%s]: %s", session.Owner, err)
		}
		return nil, ErrExpired
	}

	return &Identity{
		Username:  session.Owner,
		SessionID: session.ID,
		ExpiresAt: session.ExpiresAt,
	}, nil
}

// Logout deletes the session behind token, if there is one. Malformed, unknown
// and expired tokens are not errors; only a failing store is reported.
func (s *Service) Logout(ctx context.Context, token string) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "auth.logout")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	if !ValidToken(token) {
		return nil
	}

	if err := s.deleteSession(ctx, token); err != nil {
		return storeUnavailable("delete session", err)
	}
	return nil
}

// LogoutEverywhere revokes every session of the owner of token.
func (s *Service) LogoutEverywhere(ctx context.Context, token string) (_ int, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "auth.logoutEverywhere")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	identity, err := s.Validate(ctx, token)
	if err != nil {
		return 0, err
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.StoreTimeout)
	defer cancel()

	count, err := s.sessions.DeleteAllForOwner(storeCtx, identity.Username)
	if err != nil {
		return 0, storeUnavailable("delete owner sessions", err)
	}

	log.Debugf("auth service, revoked %d sessions of [%s]", count, identity.Username)
	return count, nil
}

// ScanAndClean removes all sessions that are past their expiry.
func (s *Service) ScanAndClean(ctx context.Context) (_ int, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "auth.scanAndClean")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	storeCtx, cancel := context.WithTimeout(ctx, s.StoreTimeout)
	defer cancel()

	count, err := s.sessions.DeleteExpired(storeCtx, s.Now())
	if err != nil {
		return 0, storeUnavailable("delete expired sessions", err)
	}
	return count, nil
}

func (s *Service) findAccount(ctx context.Context, username string) (*AdminAccount, error) {
	ctx, cancel := context.WithTimeout(ctx, s.StoreTimeout)
	defer cancel()
	return s.credentials.FindByUsername(ctx, username)
}

func (s *Service) touchLastLogin(ctx context.Context, username string, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, s.StoreTimeout)
	defer cancel()
	return s.credentials.TouchLastLogin(ctx, username, at)
}

func (s *Service) createSession(ctx context.Context, owner string, createdAt, expiresAt time.Time) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.StoreTimeout)
	defer cancel()
	return s.sessions.Create(ctx, owner, createdAt, expiresAt)
}

func (s *Service) getSession(ctx context.Context, id string) (*Session, error) {
	ctx, cancel := context.WithTimeout(ctx, s.StoreTimeout)
	defer cancel()
	return s.sessions.Get(ctx, id)
}

func (s *Service) deleteSession(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, s.StoreTimeout)
	defer cancel()
	return s.sessions.Delete(ctx, id)
}

func (s *Service) timingEqualizerHash() string {
	s.dummyHashOnce.Do(func() {
		secret, err := pkg.GenerateRandomString(18)
		if err != nil {
			log.Errorf("auth service, generate dummy secret: %s", err)
			return
		}
		// same cost as real account hashes, or unknown users answer faster
		s.dummyHash, err = s.hasher.Hash(secret)
		if err != nil {
			log.Errorf("auth service, hash dummy secret: %s", err)
		}
	})
	return s.dummyHash
}
