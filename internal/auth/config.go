package auth

import (
	"time"

	"github.com/samber/oops"
)

// CodeAuthConfig is returned for a validator that cannot verify any token
const CodeAuthConfig = "AUTH_CONFIG_INVALID"

// JWTConfig selects how back-office session tokens are verified. A Secret
// enables HS256; a PEM PublicKey or PublicKeyFile enables RS256. Both may
// be set during a key migration.
type JWTConfig struct {
	Secret        string
	PublicKey     string
	PublicKeyFile string

	Issuer   string
	Audience string

	// Leeway absorbs clock skew between the login service and this process
	Leeway time.Duration
}

// Validate reports a configuration with no verification key
func (c *JWTConfig) Validate() error {
	if c.Secret == "" && c.PublicKey == "" && c.PublicKeyFile == "" {
		return oops.Code(CodeAuthConfig).Errorf("no token key configured: set a secret or an RSA public key")
	}
	if c.Leeway < 0 {
		return oops.Code(CodeAuthConfig).With("leeway", c.Leeway).Errorf("leeway cannot be negative")
	}
	return nil
}

// methods lists the signing algorithms the configured keys can verify
func (c *JWTConfig) methods() []string {
	var algs []string
	if c.Secret != "" {
		algs = append(algs, "HS256")
	}
	if c.PublicKey != "" || c.PublicKeyFile != "" {
		algs = append(algs, "RS256")
	}
	return algs
}

// DefaultJWTConfig returns the issuer and audience of the laundrydesk login
// service; a key must still be supplied
func DefaultJWTConfig() *JWTConfig {
	return &JWTConfig{
		Issuer:   "laundrydesk",
		Audience: "abac-pdp",
		Leeway:   30 * time.Second,
	}
}
