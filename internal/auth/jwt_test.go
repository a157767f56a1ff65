package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flock-dev/flock/internal/roles"
)

func TestTokens_RoundTrip(t *testing.T) {
	tokens := NewTokens("test-secret", time.Hour)

	token, err := tokens.GenerateToken(&SessionData{
		UserID:     "01J0000000000000000000USER",
		Email:      "leader@example.com",
		Role:       roles.Leader,
		MinistryID: "01J00000000000000000MINSTR",
	})
	require.NoError(t, err)

	claims, err := tokens.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "01J0000000000000000000USER", claims.UserID)
	assert.Equal(t, roles.Leader, claims.Role)
	assert.Equal(t, "01J00000000000000000MINSTR", claims.MinistryID)
	require.NotNil(t, claims.ExpiresAt)
}

func TestTokens_Expired(t *testing.T) {
	tokens := NewTokens("test-secret", time.Minute)
	issued := time.Now().Add(-time.Hour)
	tokens.now = func() time.Time { return issued }

	token, err := tokens.GenerateToken(&SessionData{UserID: "u1", Role: roles.Admin})
	require.NoError(t, err)

	tokens.now = time.Now
	_, err = tokens.ValidateToken(token)
	assert.Error(t, err)
}

func TestTokens_WrongSecret(t *testing.T) {
	token, err := NewTokens("one", 0).GenerateToken(&SessionData{UserID: "u1", Role: roles.Admin})
	require.NoError(t, err)

	_, err = NewTokens("two", 0).ValidateToken(token)
	assert.Error(t, err)
}

func TestTokens_UnknownRole(t *testing.T) {
	tokens := NewTokens("test-secret", 0)
	token, err := tokens.GenerateToken(&SessionData{UserID: "u1", Role: roles.Role("PASTOR")})
	require.NoError(t, err)

	_, err = tokens.ValidateToken(token)
	assert.True(t, errors.Is(err, ErrInvalidToken))
}

func TestTokens_NoSecret(t *testing.T) {
	_, err := NewTokens("", 0).GenerateToken(&SessionData{UserID: "u1"})
	assert.ErrorIs(t, err, ErrSecretNotSet)
}

func TestPasswords(t *testing.T) {
	_, err := HashPassword("short")
	assert.ErrorIs(t, err, ErrPasswordTooShort)

	hash, err := HashPassword("correct horse")
	require.NoError(t, err)
	assert.NoError(t, VerifyPassword("correct horse", hash))
	assert.Error(t, VerifyPassword("battery staple", hash))
}

func TestSessionData_FullName(t *testing.T) {
	assert.Equal(t, "Ruth Moab", (&SessionData{FirstName: "Ruth", LastName: "Moab"}).FullName())
	assert.Equal(t, "Ruth", (&SessionData{FirstName: "Ruth"}).FullName())
	assert.Equal(t, "Moab", (&SessionData{LastName: "Moab"}).FullName())
}
