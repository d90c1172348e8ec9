// Package auth verifies the bearer tokens the bot and web front issue. The
// token subject is the player's user id.
package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid or expired token")

type Claims struct {
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

type Verifier struct {
	secret        []byte
	tokenDuration time.Duration
}

func NewVerifier(secret string, tokenDuration time.Duration) *Verifier {
	if tokenDuration == 0 {
		tokenDuration = 24 * time.Hour
	}
	return &Verifier{
		secret:        []byte(secret),
		tokenDuration: tokenDuration,
	}
}

// Issue signs a token for userID. The API never calls it; it exists for
// trusted front ends and tests.
func (v *Verifier) Issue(userID, username string) (string, error) {
	now := time.Now()
	claims := Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(v.tokenDuration)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// Verify checks signature and expiry and returns the claims.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
