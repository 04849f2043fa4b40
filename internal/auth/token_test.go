package auth_test

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/2beens/adminauth/internal/auth"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSessionID(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 200; i++ {
		id, err := auth.NewSessionID()
		require.NoError(t, err)

		decoded, err := base64.URLEncoding.DecodeString(id)
		require.NoError(t, err)
		assert.Len(t, decoded, auth.SessionIDBytes)
		assert.True(t, auth.ValidToken(id))

		_, dup := seen[id]
		require.False(t, dup, "duplicate session id generated")
		seen[id] = struct{}{}
	}
}

func TestValidToken(t *testing.T) {
	id, err := auth.NewSessionID()
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		valid bool
	}{
		{name: "issued id", token: id, valid: true},
		{name: "empty", token: "", valid: false},
		{name: "not base64", token: "not a token!", valid: false},
		{name: "too little entropy", token: base64.URLEncoding.EncodeToString([]byte("short")), valid: false},
		{name: "sixteen bytes", token: base64.URLEncoding.EncodeToString(make([]byte, 16)), valid: true},
		{name: "too long", token: strings.Repeat("A", 132), valid: false},
		{name: "std alphabet", token: strings.ReplaceAll(strings.ReplaceAll(id, "-", "+"), "_", "/") + "+/", valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, auth.ValidToken(tt.token))
		})
	}
}
