package auth

import "github.com/2beens/adminauth/pkg"

const DefaultPasswordCost = 10

// BcryptHasher hashes and verifies admin passwords with bcrypt.
type BcryptHasher struct {
	Cost int
}

func NewBcryptHasher(cost int) *BcryptHasher {
	if cost <= 0 {
		cost = DefaultPasswordCost
	}
	return &BcryptHasher{Cost: cost}
}

func (h *BcryptHasher) Hash(password string) (string, error) {
	return pkg.HashPassword(password, h.Cost)
}

func (h *BcryptHasher) Verify(password, hash string) bool {
	return pkg.CheckPasswordHash(password, hash)
}
