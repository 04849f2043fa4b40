package accounts

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/2beens/adminauth/internal/auth"
)

// MemoryRepo is an in-process account store, meant for development and tests.
type MemoryRepo struct {
	mutex    sync.RWMutex
	accounts map[string]auth.AdminAccount
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		accounts: make(map[string]auth.AdminAccount),
	}
}

func (r *MemoryRepo) FindByUsername(_ context.Context, username string) (*auth.AdminAccount, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	account, ok := r.accounts[username]
	if !ok {
		return nil, auth.ErrAccountNotFound
	}
	if account.LastLoginAt != nil {
		lastLogin := *account.LastLoginAt
		account.LastLoginAt = &lastLogin
	}
	return &account, nil
}

func (r *MemoryRepo) TouchLastLogin(_ context.Context, username string, at time.Time) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	account, ok := r.accounts[username]
	if !ok {
		return auth.ErrAccountNotFound
	}
	account.LastLoginAt = &at
	r.accounts[username] = account
	return nil
}

func (r *MemoryRepo) Add(_ context.Context, account *auth.AdminAccount) error {
	if account.Username == "" || account.PasswordHash == "" {
		return errors.New("account username or password hash empty")
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, ok := r.accounts[account.Username]; ok {
		return ErrAccountExists
	}
	r.accounts[account.Username] = *account
	return nil
}

func (r *MemoryRepo) SetActive(_ context.Context, username string, active bool) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	account, ok := r.accounts[username]
	if !ok {
		return auth.ErrAccountNotFound
	}
	account.IsActive = active
	r.accounts[username] = account
	return nil
}
