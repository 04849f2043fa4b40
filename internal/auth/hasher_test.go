package auth_test

import (
	"testing"

	"github.com/2beens/adminauth/internal/auth"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestBcryptHasher(t *testing.T) {
	hasher := auth.NewBcryptHasher(bcrypt.MinCost)

	hash, err := hasher.Hash("Secr3t!")
	require.NoError(t, err)
	assert.NotEqual(t, "Secr3t!", hash)

	cost, err := bcrypt.Cost([]byte(hash))
	require.NoError(t, err)
	assert.Equal(t, bcrypt.MinCost, cost)

	assert.True(t, hasher.Verify("Secr3t!", hash))
	assert.False(t, hasher.Verify("secr3t!", hash))
	assert.False(t, hasher.Verify("Secr3t!", ""))
	assert.False(t, hasher.Verify("Secr3t!", "not-a-hash"))
}

func TestNewBcryptHasher_DefaultCost(t *testing.T) {
	assert.Equal(t, auth.DefaultPasswordCost, auth.NewBcryptHasher(0).Cost)
	assert.Equal(t, auth.DefaultPasswordCost, auth.NewBcryptHasher(-3).Cost)
	assert.Equal(t, 12, auth.NewBcryptHasher(12).Cost)
}
