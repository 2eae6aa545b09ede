package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	svc := NewAuthService("test-secret-at-least-32-characters!!")

	token, err := svc.GenerateToken(42, time.Minute)
	require.NoError(t, err)

	subject, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "42", subject)
}

func TestExpiredTokenRejected(t *testing.T) {
	svc := NewAuthService("test-secret-at-least-32-characters!!")

	token, err := svc.GenerateToken(42, -time.Minute)
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	assert.Error(t, err)
}

func TestTokenFromDifferentSecretRejected(t *testing.T) {
	issuer := NewAuthService("issuer-secret-at-least-32-characters")
	verifier := NewAuthService("other-secret-at-least-32-characters!")

	token, err := issuer.GenerateToken(42, time.Minute)
	require.NoError(t, err)

	_, err = verifier.ValidateToken(token)
	assert.Error(t, err)
}

func TestGarbageTokenRejected(t *testing.T) {
	svc := NewAuthService("test-secret-at-least-32-characters!!")
	_, err := svc.ValidateToken("not.a.jwt")
	assert.Error(t, err)
}

func TestRefreshTokensAreUnique(t *testing.T) {
	svc := NewAuthService("test-secret-at-least-32-characters!!")

	a, err := svc.GenerateRefreshToken()
	require.NoError(t, err)
	b, err := svc.GenerateRefreshToken()
	require.NoError(t, err)

	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
}
