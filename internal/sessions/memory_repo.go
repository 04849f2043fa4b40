package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/2beens/adminauth/internal/auth"
	"github.com/2beens/adminauth/pkg"
)

// MemoryRepo is an in-process session store. Sessions do not survive a restart.
type MemoryRepo struct {
	mutex    sync.RWMutex
	sessions map[string]auth.Session
	// ability to inject random string generator func for ids (for unit and dev testing)
	RandStringFunc IDFunc
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		sessions:       make(map[string]auth.Session),
		RandStringFunc: pkg.GenerateRandomString,
	}
}

func (r *MemoryRepo) Create(_ context.Context, owner string, createdAt, expiresAt time.Time) (string, error) {
	if _, err := checkLifetime(createdAt, expiresAt); err != nil {
		return "", err
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	return allocateID(r.RandStringFunc, func(id string) (bool, error) {
		if _, taken := r.sessions[id]; taken {
			return false, nil
		}
		r.sessions[id] = auth.Session{
			ID:        id,
			Owner:     owner,
			CreatedAt: createdAt,
			ExpiresAt: expiresAt,
		}
		return true, nil
	})
}

func (r *MemoryRepo) Get(_ context.Context, id string) (*auth.Session, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	session, ok := r.sessions[id]
	if !ok {
		return nil, auth.ErrSessionNotFound
	}
	return &session, nil
}

func (r *MemoryRepo) Delete(_ context.Context, id string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	delete(r.sessions, id)
	return nil
}

func (r *MemoryRepo) DeleteAllForOwner(_ context.Context, owner string) (int, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	count := 0
	for id, session := range r.sessions {
		if session.Owner == owner {
			delete(r.sessions, id)
			count++
		}
	}
	return count, nil
}

func (r *MemoryRepo) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	count := 0
	for id, session := range r.sessions {
		if !session.Active(now) {
			delete(r.sessions, id)
			count++
		}
	}
	return count, nil
}

func (r *MemoryRepo) Count() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.sessions)
}
