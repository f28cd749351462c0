package ratelimit

import (
	"strings"
	"time"

	"github.com/samber/oops"
)

// CodeInvalidConfig is returned by Config.Validate
const CodeInvalidConfig = "RATELIMIT_INVALID_CONFIG"

// Config sets the token buckets. Anonymous callers are bucketed per client
// IP at DefaultRPS; sessions are bucketed per user at UserRPS.
type Config struct {
	DefaultRPS int
	UserRPS    int

	// Burst is the bucket capacity; 0 derives it as BurstFactor * rate
	Burst       int
	BurstFactor int

	// Window is the period the rates refill over
	Window time.Duration

	KeyPrefix string

	// FailOpen admits requests while Redis is unreachable
	FailOpen bool
}

// DefaultConfig returns the limits applied when nothing is configured
func DefaultConfig() *Config {
	return &Config{
		DefaultRPS:  20,
		UserRPS:     50,
		BurstFactor: 2,
		Window:      time.Second,
		KeyPrefix:   "abac:ratelimit",
		FailOpen:    true,
	}
}

// Validate reports the first unusable setting
func (c *Config) Validate() error {
	errb := oops.Code(CodeInvalidConfig).In("ratelimit")
	switch {
	case c.DefaultRPS <= 0 || c.UserRPS <= 0:
		return errb.With("default_rps", c.DefaultRPS).With("user_rps", c.UserRPS).Errorf("rates must be positive")
	case c.Burst < 0 || c.BurstFactor < 0:
		return errb.Errorf("burst cannot be negative")
	case c.Window <= 0:
		return errb.Errorf("window must be positive, got %s", c.Window)
	}
	return nil
}

// Bucket is the refill rate and capacity of one caller
type Bucket struct {
	// Rate is tokens added per second
	Rate     float64
	Capacity int
}

// BucketFor returns the bucket parameters of a key produced by Key
func (c *Config) BucketFor(key string) Bucket {
	limit := c.DefaultRPS
	if strings.HasPrefix(key, "user:") {
		limit = c.UserRPS
	}

	capacity := c.Burst
	if capacity == 0 {
		capacity = limit
		if c.BurstFactor > 1 {
			capacity = limit * c.BurstFactor
		}
	}

	window := c.Window
	if window <= 0 {
		window = time.Second
	}
	return Bucket{Rate: float64(limit) / window.Seconds(), Capacity: capacity}
}
