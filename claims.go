package identity

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ClaimsPayload is the authorization data embedded in an access token.
// The shape is fixed on purpose: ordered role names and ordered, possibly
// duplicated permission names, never an open-ended dictionary, so the
// signed schema stays stable. Recomputed on every issuance, never cached.
type ClaimsPayload struct {
	Subject     string   `json:"sub"`
	Email       string   `json:"email"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

// AccessClaims is the signed JWT form of a ClaimsPayload.
type AccessClaims struct {
	jwt.RegisteredClaims
	Email       string   `json:"email,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// Payload reconstructs the ClaimsPayload carried by the token.
func (c *AccessClaims) Payload() ClaimsPayload {
	return ClaimsPayload{
		Subject:     c.RegisteredClaims.Subject,
		Email:       c.Email,
		Roles:       c.Roles,
		Permissions: c.Permissions,
	}
}

// Expires returns the expiration time, zero if unset.
func (c *AccessClaims) Expires() time.Time {
	if c.RegisteredClaims.ExpiresAt != nil {
		return c.RegisteredClaims.ExpiresAt.Time
	}
	return time.Time{}
}

// HasRole reports whether the token carries the given role name.
func (c *AccessClaims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasPermission reports whether the token carries the given permission name.
func (c *AccessClaims) HasPermission(permission string) bool {
	for _, p := range c.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}
