// Package jwtauth implements an auth.Authenticator that treats the
// credential bytes handed to it by OAUTHBEARER/XOAUTH2 as a signed JWT: it
// parses and validates the token, then checks the claimed subject against
// the identity the SASL exchange presented before delegating to a
// caller-supplied claims check.
package jwtauth

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/meszmate/imapengine/auth"
)

// Claims is the JWT claim set this package expects: a standard registered
// "sub" plus whatever the caller's CheckClaims wants to inspect.
type Claims = jwt.RegisteredClaims

// CheckClaims is called once a token's signature and expiry have verified,
// so the caller can enforce anything beyond "sub"/"exp" (scopes, issuer
// allowlist, tenant, ...).
type CheckClaims func(claims *Claims) error

// Authenticator validates OAUTHBEARER/XOAUTH2 bearer tokens as JWTs.
type Authenticator struct {
	keyFunc     jwt.Keyfunc
	checkClaims CheckClaims
}

// New creates an Authenticator. keyFunc resolves the verification key for
// a token (see jwt.Keyfunc); checkClaims may be nil to accept any
// successfully verified, unexpired token.
func New(keyFunc jwt.Keyfunc, checkClaims CheckClaims) *Authenticator {
	return &Authenticator{keyFunc: keyFunc, checkClaims: checkClaims}
}

// Authenticate implements auth.Authenticator. mechanism is ignored beyond
// being passed through for logging by the caller; credentials is the raw
// bearer token string.
func (a *Authenticator) Authenticate(ctx context.Context, mechanism, identity string, credentials []byte) error {
	var claims Claims
	token, err := jwt.ParseWithClaims(string(credentials), &claims, a.keyFunc)
	if err != nil {
		return fmt.Errorf("jwtauth: %w", err)
	}
	if !token.Valid {
		return fmt.Errorf("jwtauth: token not valid")
	}

	if identity != "" && claims.Subject != "" && identity != claims.Subject {
		return fmt.Errorf("jwtauth: identity %q does not match token subject %q", identity, claims.Subject)
	}

	if a.checkClaims != nil {
		if err := a.checkClaims(&claims); err != nil {
			return fmt.Errorf("jwtauth: %w", err)
		}
	}
	return nil
}

var _ auth.Authenticator = (*Authenticator)(nil)
