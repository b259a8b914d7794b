package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestNewJWTServiceRejectsShortSecret(t *testing.T) {
	_, err := NewJWTService(JWTConfig{Secret: "short"})
	assert.ErrorIs(t, err, ErrInvalidSecretLength)
}

func TestGenerateAndValidate(t *testing.T) {
	svc, err := NewJWTService(JWTConfig{Secret: testSecret})
	require.NoError(t, err)

	tok, err := svc.GenerateToken("alice", AllScopes, 0)
	require.NoError(t, err)
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), tok.ExpiresAt, time.Minute)

	claims, err := svc.ValidateToken(tok.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, "flashwear", claims.Issuer)
	assert.True(t, claims.HasScope(ScopeMaintain))
	assert.False(t, claims.HasScope("admin"))
}

func TestValidateExpired(t *testing.T) {
	svc, err := NewJWTService(JWTConfig{Secret: testSecret})
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	tok, err := svc.GenerateToken("alice", nil, time.Hour)
	require.NoError(t, err)

	svc.now = time.Now
	_, err = svc.ValidateToken(tok.AccessToken)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestValidateWrongSecretOrIssuer(t *testing.T) {
	svc, err := NewJWTService(JWTConfig{Secret: testSecret})
	require.NoError(t, err)

	other, err := NewJWTService(JWTConfig{Secret: testSecret + "x"})
	require.NoError(t, err)
	tok, err := other.GenerateToken("mallory", AllScopes, 0)
	require.NoError(t, err)
	_, err = svc.ValidateToken(tok.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	foreign, err := NewJWTService(JWTConfig{Secret: testSecret, Issuer: "someone-else"})
	require.NoError(t, err)
	tok, err = foreign.GenerateToken("mallory", AllScopes, 0)
	require.NoError(t, err)
	_, err = svc.ValidateToken(tok.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateRejectsNoneAlgorithm(t *testing.T) {
	svc, err := NewJWTService(JWTConfig{Secret: testSecret})
	require.NoError(t, err)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "flashwear", Subject: "x"},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = svc.ValidateToken(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateGarbage(t *testing.T) {
	svc, err := NewJWTService(JWTConfig{Secret: testSecret})
	require.NoError(t, err)
	_, err = svc.ValidateToken("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
