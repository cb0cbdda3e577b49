package services

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTokenService(t *testing.T, ttl time.Duration) TokenService {
	svc, err := NewTokenService(ttl, "raijin-dialer", "raijin-api", "test-secret-key-with-enough-length")
	require.NoError(t, err)
	return svc
}

func TestTokenRoundTrip(t *testing.T) {
	svc := newTestTokenService(t, 15*time.Minute)

	token, err := svc.GenerateToken(42)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, uint(42), claims.OperatorID)
	assert.NotEmpty(t, claims.TokenID)
	assert.True(t, claims.ExpiresAt.After(claims.IssuedAt))
}

func TestTokenIDsAreUnique(t *testing.T) {
	svc := newTestTokenService(t, 15*time.Minute)

	first, err := svc.GenerateToken(1)
	require.NoError(t, err)
	second, err := svc.GenerateToken(1)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestTokenExpiry(t *testing.T) {
	svc := newTestTokenService(t, 15*time.Minute)

	// sign a token that expired an hour ago with the same key
	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"operator_id": 42,
		"jti":         "expired-token",
		"iat":         time.Now().Add(-2 * time.Hour).Unix(),
		"exp":         time.Now().Add(-time.Hour).Unix(),
	})
	signed, err := expired.SignedString([]byte("test-secret-key-with-enough-length"))
	require.NoError(t, err)

	_, err = svc.ValidateToken(signed)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestTokenTampering(t *testing.T) {
	svc := newTestTokenService(t, 15*time.Minute)

	token, err := svc.GenerateToken(42)
	require.NoError(t, err)

	_, err = svc.ValidateToken(token + "x")
	assert.ErrorIs(t, err, ErrTokenInvalid)

	other, err := NewTokenService(15*time.Minute, "raijin-dialer", "raijin-api", "a-completely-different-secret-key")
	require.NoError(t, err)
	_, err = other.ValidateToken(token)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestTokenServiceRequiresSecret(t *testing.T) {
	_, err := NewTokenService(15*time.Minute, "iss", "aud", "")
	assert.Error(t, err)
}
