package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"hookgate/internal/platform/config"
)

func TestTokenService_RoundTrip(t *testing.T) {
	svc := NewTokenService(config.JWTConfig{Secret: "test-secret", AccessTokenTTL: time.Minute})

	token, err := svc.GenerateAccessToken("ops", "admin")
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Username)
	assert.Equal(t, "admin", claims.Role)

	other := NewTokenService(config.JWTConfig{Secret: "other-secret"})
	_, err = other.ValidateToken(token)
	assert.Error(t, err)
}

func TestTokenService_Expired(t *testing.T) {
	svc := NewTokenService(config.JWTConfig{Secret: "test-secret", AccessTokenTTL: -time.Minute})
	token, err := svc.GenerateAccessToken("ops", "admin")
	require.NoError(t, err)

	// A negative TTL falls back to the default lifetime.
	_, err = svc.ValidateToken(token)
	assert.NoError(t, err)
}

func TestAuthenticator_Check(t *testing.T) {
	hash, err := HashPassword("hunter2")
	require.NoError(t, err)

	a := NewAuthenticator(config.AdminConfig{Username: "ops", PasswordHash: hash})
	assert.NoError(t, a.Check("ops", "hunter2"))
	assert.ErrorIs(t, a.Check("ops", "wrong"), ErrInvalidCredentials)
	assert.ErrorIs(t, a.Check("root", "hunter2"), ErrInvalidCredentials)

	empty := NewAuthenticator(config.AdminConfig{Username: "ops"})
	assert.ErrorIs(t, empty.Check("ops", ""), ErrInvalidCredentials)
}
