package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndValidate(t *testing.T) {
	issuer := NewIssuer("secret", time.Minute)
	userID := uuid.New()

	token, expiresAt, err := issuer.IssueAccessToken(userID, "ADMIN")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Minute), expiresAt, 5*time.Second)

	identity, err := issuer.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, userID, identity.UserID)
	assert.Equal(t, "ADMIN", identity.Role)
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	token, _, err := NewIssuer("one", time.Minute).IssueAccessToken(uuid.New(), "USER")
	require.NoError(t, err)

	_, err = NewIssuer("two", time.Minute).Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateRejectsExpired(t *testing.T) {
	issuer := NewIssuer("secret", time.Minute)
	issuer.now = func() time.Time { return time.Now().Add(-time.Hour) }
	token, _, err := issuer.IssueAccessToken(uuid.New(), "USER")
	require.NoError(t, err)

	_, err = NewIssuer("secret", time.Minute).Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateRejectsRefreshTokens(t *testing.T) {
	claims := Claims{
		UserID:           uuid.NewString(),
		Role:             "USER",
		Type:             "refresh",
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = NewIssuer("secret", time.Minute).Validate(token)
	assert.ErrorIs(t, err, ErrTokenType)
}

func TestValidateRejectsBadSubject(t *testing.T) {
	claims := Claims{
		UserID:           "user-1",
		Type:             TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = NewIssuer("secret", time.Minute).Validate(token)
	assert.ErrorIs(t, err, ErrSubject)
}
