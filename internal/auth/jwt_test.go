package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestIssueAndVerify(t *testing.T) {
	v := NewVerifier("secret", time.Hour)
	token, err := v.Issue("user-1", "ana")
	if err != nil {
		t.Fatal(err)
	}
	claims, err := v.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject != "user-1" || claims.Username != "ana" {
		t.Fatalf("claims got %+v", claims)
	}
}

func TestVerifyRejects(t *testing.T) {
	v := NewVerifier("secret", time.Hour)

	foreign, err := NewVerifier("other", time.Hour).Issue("user-1", "")
	if err != nil {
		t.Fatal(err)
	}
	expired, err := NewVerifier("secret", -time.Minute).Issue("user-1", "")
	if err != nil {
		t.Fatal(err)
	}
	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	wrongAlg, err := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"},
	}).SignedString([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}

	tests := map[string]string{
		"garbage":    "not-a-token",
		"foreign":    foreign,
		"expired":    expired,
		"no subject": noSubject,
		"wrong alg":  wrongAlg,
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := v.Verify(token); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("got %v want ErrInvalidToken", err)
			}
		})
	}
}
