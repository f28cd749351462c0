package auth

import (
	"context"

	"github.com/laundrydesk/abac-pdp/internal/audit"
)

// PlatformRoleSuperAdmin is the platform role allowed into /superadmin
const PlatformRoleSuperAdmin = "superadmin"

// Session is the authenticated caller of one request
type Session struct {
	UserID       string   `json:"user_id"`
	Email        string   `json:"email,omitempty"`
	TenantID     string   `json:"tenant_id,omitempty"`
	Roles        []string `json:"roles,omitempty"`
	PlatformRole string   `json:"platform_role,omitempty"`
}

// HasPlatformRole reports whether the session carries the platform role
func (s *Session) HasPlatformRole(role string) bool {
	return s != nil && s.PlatformRole == role
}

// Actor describes the session for the audit trail
func (s *Session) Actor() *audit.Actor {
	return &audit.Actor{
		ID:       s.UserID,
		Email:    s.Email,
		TenantID: s.TenantID,
		Roles:    append([]string(nil), s.Roles...),
	}
}

// DevSession is injected when authentication is disabled
func DevSession() *Session {
	return &Session{
		UserID:       "dev-superadmin",
		Email:        "dev@laundrydesk.local",
		Roles:        []string{"admin"},
		PlatformRole: PlatformRoleSuperAdmin,
	}
}

type sessionKey struct{}

// ContextWithSession stores the session and its audit actor in ctx
func ContextWithSession(ctx context.Context, s *Session) context.Context {
	ctx = context.WithValue(ctx, sessionKey{}, s)
	return audit.ContextWithActor(ctx, s.Actor())
}

// SessionFromContext returns the request session
func SessionFromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(*Session)
	return s, ok && s != nil
}
