// Package auth mints and verifies the HS256 tokens that guard the admin
// routes. Passenger-facing routes are anonymous and keyed by session.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrEmptySecret is returned when a token is signed or verified without a key.
var ErrEmptySecret = errors.New("auth: empty signing secret")

// RoleAdmin is the role claim required by the catalog routes.
const RoleAdmin = "ADMIN"

// AccessToken is a signed JWT along with its expiry.
type AccessToken struct {
	Token string    `json:"token"`
	Exp   time.Time `json:"expires_at"`
}

// Claims are the custom claims carried by every token.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// NewAccessToken signs a token for subject with the given role. The token
// includes sub, role, exp and iat.
func NewAccessToken(secret, subject, role string, ttl time.Duration, now time.Time) (AccessToken, error) {
	if secret == "" {
		return AccessToken{}, ErrEmptySecret
	}
	if ttl <= 0 {
		return AccessToken{}, fmt.Errorf("auth: ttl must be positive, got %s", ttl)
	}
	now = now.UTC()
	exp := now.Add(ttl)
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Token: signed, Exp: exp}, nil
}

// Parse validates raw and returns its claims. Only HMAC signatures are
// accepted.
func Parse(secret, raw string) (*Claims, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	if !tok.Valid {
		return nil, errors.New("auth: invalid token")
	}
	return claims, nil
}
