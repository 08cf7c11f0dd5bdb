package auth

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the JWT payload of every token this service issues.
type Claims struct {
	TenantID    string   `json:"tenant_id"`
	TokenType   string   `json:"token_type"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	Scopes      []string `json:"scopes,omitempty"`
	DeviceID    string   `json:"device_id,omitempty"`
	jwt.RegisteredClaims
}

// Kind returns the token kind carried by the claims.
func (c *Claims) Kind() TokenKind {
	return TokenKind(c.TokenType)
}

// HasPermission reports exact membership of perm in the embedded snapshot.
// Snapshots are expanded at issue time, so no wildcard matching happens here.
func (c *Claims) HasPermission(perm string) bool {
	perm = strings.TrimSpace(strings.ToLower(perm))
	for _, p := range c.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// HasRole reports whether slug is among the embedded roles.
func (c *Claims) HasRole(slug string) bool {
	for _, r := range c.Roles {
		if r == slug {
			return true
		}
	}
	return false
}

func (c *Claims) validate() error {
	switch {
	case strings.TrimSpace(c.Subject) == "":
		return errClaim("sub")
	case strings.TrimSpace(c.TenantID) == "":
		return errClaim("tenant_id")
	case strings.TrimSpace(c.ID) == "":
		return errClaim("jti")
	case c.IssuedAt == nil:
		return errClaim("iat")
	case c.Kind() != TokenKindAccess && c.Kind() != TokenKindRefresh:
		return errClaim("token_type")
	}
	return nil
}

type errClaim string

func (e errClaim) Error() string { return "missing or invalid claim " + string(e) }
