// Package auth signs and validates the bearer tokens the API trusts. Users
// are managed elsewhere; the API only needs the subject and role.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

const (
	TokenTypeAccess = "access"
	issuer          = "boxoffice"
)

var (
	ErrInvalidToken = errors.New("invalid or expired token")
	ErrTokenType    = errors.New("invalid token type")
	ErrSubject      = errors.New("invalid subject in token")
)

// Claims carries the subject as user_id alongside the standard claims.
type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	Type   string `json:"type"`
	jwt.RegisteredClaims
}

// Identity is what a validated token grants.
type Identity struct {
	UserID uuid.UUID
	Role   string
}

type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// IssueAccessToken signs an HS256 access token for the user.
func (i *Issuer) IssueAccessToken(userID uuid.UUID, role string) (string, time.Time, error) {
	now := i.now()
	expiresAt := now.Add(i.ttl)
	claims := Claims{
		UserID: userID.String(),
		Role:   role,
		Type:   TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			Issuer:    issuer,
			Subject:   userID.String(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Validate checks signature, expiry and token type.
func (i *Issuer) Validate(tokenString string) (*Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return i.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, ErrInvalidToken
	}
	if claims.Type != TokenTypeAccess {
		return nil, ErrTokenType
	}
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil, ErrSubject
	}
	return &Identity{UserID: userID, Role: claims.Role}, nil
}
