package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campus/lmssync/internal/infrastructure/config"
)

func newTestJWTService() *JWTService {
	return NewJWTService(config.JWTConfig{
		Secret: "test-secret-key-at-least-32-chars",
		Issuer: "campus-sis",
	})
}

func TestValidateAccessToken_Success(t *testing.T) {
	svc := newTestJWTService()

	token, err := svc.IssueToken("admin-1", "registrar", []string{"lms_admin"}, time.Minute)
	require.NoError(t, err)

	claims, err := svc.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "admin-1", claims.Subject)
	assert.Equal(t, "registrar", claims.Username)
	assert.True(t, claims.HasRole("lms_admin"))
	assert.False(t, claims.HasRole("student"))
	assert.NotEmpty(t, claims.ID)
}

func TestValidateAccessToken_Expired(t *testing.T) {
	svc := newTestJWTService()

	token, err := svc.IssueToken("admin-1", "", nil, -time.Minute)
	require.NoError(t, err)

	_, err = svc.ValidateAccessToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestValidateAccessToken_WrongSecret(t *testing.T) {
	other := NewJWTService(config.JWTConfig{Secret: "another-secret-of-sufficient-size", Issuer: "campus-sis"})
	token, err := other.IssueToken("admin-1", "", nil, time.Minute)
	require.NoError(t, err)

	_, err = newTestJWTService().ValidateAccessToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateAccessToken_WrongIssuer(t *testing.T) {
	other := NewJWTService(config.JWTConfig{Secret: "test-secret-key-at-least-32-chars", Issuer: "someone-else"})
	token, err := other.IssueToken("admin-1", "", nil, time.Minute)
	require.NoError(t, err)

	_, err = newTestJWTService().ValidateAccessToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateAccessToken_RejectsOtherAlgorithms(t *testing.T) {
	claims := &Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "admin-1",
		Issuer:    "campus-sis",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte("test-secret-key-at-least-32-chars"))
	require.NoError(t, err)

	_, err = newTestJWTService().ValidateAccessToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = newTestJWTService().ValidateAccessToken(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateAccessToken_MissingSubject(t *testing.T) {
	svc := newTestJWTService()
	token, err := svc.IssueToken("", "", nil, time.Minute)
	require.NoError(t, err)

	_, err = svc.ValidateAccessToken(token)
	assert.ErrorIs(t, err, ErrMissingSubject)
}

func TestValidateAccessToken_Garbage(t *testing.T) {
	_, err := newTestJWTService().ValidateAccessToken("not.a.jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestMissingSecret(t *testing.T) {
	svc := NewJWTService(config.JWTConfig{})

	_, err := svc.IssueToken("admin-1", "", nil, time.Minute)
	assert.ErrorIs(t, err, ErrMissingSecret)
	_, err = svc.ValidateAccessToken("x.y.z")
	assert.ErrorIs(t, err, ErrMissingSecret)
}
