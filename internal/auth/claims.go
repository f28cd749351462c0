// Package auth turns bearer tokens into request-scoped sessions
package auth

import (
	"github.com/golang-jwt/jwt/v5"
)

// Claims represents the JWT claims issued by the back-office login
type Claims struct {
	jwt.RegisteredClaims

	UserID       string   `json:"user_id,omitempty"`
	Email        string   `json:"email,omitempty"`
	TenantID     string   `json:"tenant_id,omitempty"`
	Roles        []string `json:"roles,omitempty"`
	PlatformRole string   `json:"platform_role,omitempty"`
}

// HasRole checks if the claims contain a specific role
func (c *Claims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Session converts the claims into the request session. The user id falls
// back to the subject claim.
func (c *Claims) Session() *Session {
	id := c.UserID
	if id == "" {
		id = c.Subject
	}
	return &Session{
		UserID:       id,
		Email:        c.Email,
		TenantID:     c.TenantID,
		Roles:        append([]string(nil), c.Roles...),
		PlatformRole: c.PlatformRole,
	}
}
