// Package auth mints and validates the HS256 operator tokens that guard the
// mutating API routes.
package auth

import (
	"slices"

	"github.com/golang-jwt/jwt/v5"
)

// Scopes granted to operator tokens.
const (
	ScopeMarkBad  = "blocks:mark-bad"
	ScopeMaintain = "maintenance:run"
	ScopeSnapshot = "snapshot:save"
)

// AllScopes is what 'flashwear token' grants unless told otherwise.
var AllScopes = []string{ScopeMarkBad, ScopeMaintain, ScopeSnapshot}

// Claims identify an operator. Subject carries the operator name.
type Claims struct {
	jwt.RegisteredClaims

	Scopes []string `json:"scopes,omitempty"`
}

// HasScope reports whether the token grants scope.
func (c *Claims) HasScope(scope string) bool {
	return slices.Contains(c.Scopes, scope)
}
