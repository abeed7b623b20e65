package jwtauth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("test-secret")

func signToken(t *testing.T, claims Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString(testSecret)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	return s
}

func hmacKeyFunc(tok *jwt.Token) (interface{}, error) {
	return testSecret, nil
}

func TestAuthenticateAcceptsValidToken(t *testing.T) {
	a := New(hmacKeyFunc, nil)
	tok := signToken(t, Claims{
		Subject:   "alice@example.com",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})

	err := a.Authenticate(context.Background(), "OAUTHBEARER", "alice@example.com", []byte(tok))
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
}

func TestAuthenticateRejectsExpiredToken(t *testing.T) {
	a := New(hmacKeyFunc, nil)
	tok := signToken(t, Claims{
		Subject:   "alice@example.com",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	})

	if err := a.Authenticate(context.Background(), "OAUTHBEARER", "alice@example.com", []byte(tok)); err == nil {
		t.Fatal("expected error for expired token")
	}
}

func TestAuthenticateRejectsSubjectMismatch(t *testing.T) {
	a := New(hmacKeyFunc, nil)
	tok := signToken(t, Claims{
		Subject:   "alice@example.com",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})

	if err := a.Authenticate(context.Background(), "OAUTHBEARER", "mallory@example.com", []byte(tok)); err == nil {
		t.Fatal("expected error for identity/subject mismatch")
	}
}

func TestAuthenticateRunsCheckClaims(t *testing.T) {
	called := false
	a := New(hmacKeyFunc, func(c *Claims) error {
		called = true
		if c.Subject != "alice@example.com" {
			t.Fatalf("claims.Subject = %q", c.Subject)
		}
		return nil
	})
	tok := signToken(t, Claims{
		Subject:   "alice@example.com",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})

	if err := a.Authenticate(context.Background(), "OAUTHBEARER", "alice@example.com", []byte(tok)); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if !called {
		t.Fatal("expected CheckClaims to be invoked")
	}
}

func TestAuthenticateRejectsMalformedToken(t *testing.T) {
	a := New(hmacKeyFunc, nil)
	if err := a.Authenticate(context.Background(), "OAUTHBEARER", "alice@example.com", []byte("not-a-jwt")); err == nil {
		t.Fatal("expected error for malformed token")
	}
}
