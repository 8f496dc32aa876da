// Package auth implements the control plane's bearer-auth + workspace
// membership check (spec.md §6: "all require bearer auth + workspace
// membership check"). Full user/auth CRUD is out of scope (spec.md §1);
// this package only verifies a JWT issued by that external collaborator
// and exposes the claims the HTTP layer needs to authorize a request.
// Grounded on the other_examples/ raphaeltm-simple-agent-manager
// `internal/auth.JWTValidator`, generalized from its JWKS/RS256 validation
// to HMAC (golang-jwt/jwt/v4) signed with a shared signing key, since the
// control plane here has no identity provider of its own to fetch a JWKS
// from.
package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v4"
)

// ErrMissingToken is returned when no bearer token is present on the
// request (spec.md §6: 401 unauth).
var ErrMissingToken = errors.New("missing bearer token")

// ErrNotMember is returned when the caller's token does not include the
// requested workspace (spec.md §6: 403 non-member).
var ErrNotMember = errors.New("caller is not a member of this workspace")

// Claims is the shape of the control plane's bearer token: a subject and
// the set of workspace ids the caller may act on.
type Claims struct {
	jwt.RegisteredClaims
	Subject    string   `json:"sub"`
	Workspaces []string `json:"workspaces"`
	Admin      bool     `json:"admin"`
}

// Validator verifies bearer tokens signed with a shared HMAC key.
type Validator struct {
	signingKey []byte
}

// NewValidator builds a Validator for the given shared signing key.
func NewValidator(signingKey string) *Validator {
	return &Validator{signingKey: []byte(signingKey)}
}

// Verify parses and validates the bearer token from an Authorization
// header value ("Bearer <token>"), returning its claims.
func (v *Validator) Verify(authorizationHeader string) (*Claims, error) {
	if !strings.HasPrefix(authorizationHeader, "Bearer ") {
		return nil, ErrMissingToken
	}
	token := strings.TrimPrefix(authorizationHeader, "Bearer ")
	if token == "" {
		return nil, ErrMissingToken
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.signingKey, nil
	})
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("invalid bearer token: %w", err)
	}
	return claims, nil
}

// IsMember reports whether the claims authorize access to workspaceID:
// an admin claim authorizes every workspace (spec.md §7 "admin status").
func (c *Claims) IsMember(workspaceID string) bool {
	if c.Admin {
		return true
	}
	for _, w := range c.Workspaces {
		if w == workspaceID {
			return true
		}
	}
	return false
}
