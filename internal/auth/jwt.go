package auth

import (
	"crypto/rsa"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTValidator validates JWT tokens using HS256 or RS256
type JWTValidator struct {
	secret    []byte
	publicKey *rsa.PublicKey
	config    *JWTConfig
}

// NewJWTValidator creates a new JWT validator with the given configuration
func NewJWTValidator(cfg *JWTConfig) (*JWTValidator, error) {
	if cfg == nil {
		cfg = DefaultJWTConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	validator := &JWTValidator{
		config: cfg,
	}

	if cfg.Secret != "" {
		validator.secret = []byte(cfg.Secret)
	}

	if cfg.PublicKey != "" {
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(cfg.PublicKey))
		if err != nil {
			return nil, fmt.Errorf("parse public key: %w", err)
		}
		validator.publicKey = key
	}

	if cfg.PublicKeyFile != "" {
		pemBytes, err := os.ReadFile(cfg.PublicKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read public key file: %w", err)
		}
		key, err := jwt.ParseRSAPublicKeyFromPEM(pemBytes)
		if err != nil {
			return nil, fmt.Errorf("parse public key from file: %w", err)
		}
		validator.publicKey = key
	}

	return validator, nil
}

// Validate validates a JWT token string and returns the claims
func (v *JWTValidator) Validate(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("empty token")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods(v.config.methods()),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.config.Leeway),
	}
	if v.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.config.Issuer))
	}
	if v.config.Audience != "" {
		opts = append(opts, jwt.WithAudience(v.config.Audience))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, v.keyFunc, opts...)
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return nil, jwt.ErrSignatureInvalid
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, fmt.Errorf("invalid claims type")
	}
	if claims.UserID == "" && claims.Subject == "" {
		return nil, fmt.Errorf("invalid claims: missing user id")
	}

	return claims, nil
}

// keyFunc returns the key for token validation based on the algorithm
func (v *JWTValidator) keyFunc(token *jwt.Token) (interface{}, error) {
	// the algorithm is pinned per key type to prevent confusion attacks
	switch alg := token.Method.Alg(); alg {
	case "HS256":
		if v.secret == nil {
			return nil, fmt.Errorf("HS256 not configured")
		}
		return v.secret, nil
	case "RS256":
		if v.publicKey == nil {
			return nil, fmt.Errorf("RS256 not configured")
		}
		return v.publicKey, nil
	case "none":
		return nil, fmt.Errorf("'none' algorithm not allowed")
	default:
		return nil, fmt.Errorf("unexpected signing method: %v", alg)
	}
}

// IssueHS256 signs a session token with a shared secret. It backs the CLI
// token command used for local testing.
func IssueHS256(cfg *JWTConfig, s *Session, ttl time.Duration) (string, error) {
	if cfg == nil || cfg.Secret == "" {
		return "", fmt.Errorf("HS256 secret is required")
	}
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.UserID,
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UserID:       s.UserID,
		Email:        s.Email,
		TenantID:     s.TenantID,
		Roles:        s.Roles,
		PlatformRole: s.PlatformRole,
	}
	if cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{cfg.Audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
