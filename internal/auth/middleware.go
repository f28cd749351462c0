package auth

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Error codes written by the middleware
const (
	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"
)

// Middleware authenticates requests and attaches the Session
type Middleware struct {
	validator  *JWTValidator
	logger     *zap.Logger
	devSession *Session
}

// NewMiddleware creates a middleware that requires a valid bearer token
func NewMiddleware(validator *JWTValidator, logger *zap.Logger) *Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Middleware{
		validator: validator,
		logger:    logger,
	}
}

// NewDevMiddleware creates a middleware that injects a fixed session and
// never looks at credentials
func NewDevMiddleware(session *Session, logger *zap.Logger) *Middleware {
	if session == nil {
		session = DevSession()
	}
	m := NewMiddleware(nil, logger)
	m.devSession = session
	return m
}

// Handler returns an HTTP middleware handler
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.devSession != nil {
			session := *m.devSession
			next.ServeHTTP(w, r.WithContext(ContextWithSession(r.Context(), &session)))
			return
		}

		token, err := extractToken(r)
		if err != nil {
			respondUnauthorized(w, err.Error())
			return
		}

		claims, err := m.validator.Validate(token)
		if err != nil {
			m.logger.Warn("Token validation failed",
				zap.Error(err),
				zap.String("path", r.URL.Path),
			)
			respondUnauthorized(w, "invalid token")
			return
		}

		next.ServeHTTP(w, r.WithContext(ContextWithSession(r.Context(), claims.Session())))
	})
}

// extractToken extracts the JWT token from the Authorization header
func extractToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", fmt.Errorf("missing authorization header")
	}

	// Expected format: "Bearer <token>"
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", fmt.Errorf("authorization header must use Bearer scheme")
	}

	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", fmt.Errorf("empty token")
	}
	return token, nil
}

// RequirePlatformRole rejects sessions without the given platform role
func RequirePlatformRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session, ok := SessionFromContext(r.Context())
			if !ok {
				respondUnauthorized(w, "no session")
				return
			}
			if !session.HasPlatformRole(role) {
				respond(w, http.StatusForbidden, CodeForbidden, fmt.Sprintf("platform role %q required", role))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func respondUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	respond(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

func respond(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "message": message})
}
