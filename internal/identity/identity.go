// Package identity is the boundary with the external identity provider.
// The service never issues credentials; it only verifies tokens the
// provider minted and extracts the stable user identity they carry.
package identity

import (
	"context"
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthenticated is returned for missing, malformed or expired tokens.
var ErrUnauthenticated = errors.New("unauthenticated")

// User is the current session's identity as asserted by the provider.
type User struct {
	ID            string
	Email         string
	EmailVerified bool
}

// Provider resolves a bearer token to a user. Absence of a user means no
// operations are permitted.
type Provider interface {
	Verify(ctx context.Context, token string) (*User, error)
}

// claims are the provider-issued JWT claims this service consumes.
type claims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	jwt.RegisteredClaims
}

// JWTProvider verifies HS256 tokens signed with a shared secret.
type JWTProvider struct {
	secret []byte
}

// NewJWTProvider creates a provider for the given shared secret.
func NewJWTProvider(secret string) *JWTProvider {
	return &JWTProvider{secret: []byte(secret)}
}

// Verify parses and validates the token and returns the user it asserts.
func (p *JWTProvider) Verify(ctx context.Context, token string) (*User, error) {
	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return p.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrUnauthenticated
	}
	if c.Subject == "" {
		return nil, ErrUnauthenticated
	}
	return &User{ID: c.Subject, Email: c.Email, EmailVerified: c.EmailVerified}, nil
}

// StaticProvider maps fixed tokens to users. Development and test only.
type StaticProvider map[string]User

// Verify resolves the token against the static map.
func (p StaticProvider) Verify(ctx context.Context, token string) (*User, error) {
	u, ok := p[token]
	if !ok {
		return nil, ErrUnauthenticated
	}
	return &u, nil
}
