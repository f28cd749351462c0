package cache

import "time"

// RedisConfig locates the shared L2 decision cache
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int

	PoolSize        int
	PoolTimeout     time.Duration
	ConnMaxIdleTime time.Duration

	// TTL for cached decisions
	TTL time.Duration

	// KeyPrefix namespaces every key this cache writes
	KeyPrefix string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	DialTimeout  time.Duration
}

// DefaultRedisConfig returns a configuration with sensible defaults
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Host:            "localhost",
		Port:            6379,
		PoolSize:        10,
		PoolTimeout:     4 * time.Second,
		ConnMaxIdleTime: 5 * time.Minute,
		TTL:             5 * time.Minute,
		KeyPrefix:       "abac:decision:",
		ReadTimeout:     3 * time.Second,
		WriteTimeout:    3 * time.Second,
		DialTimeout:     5 * time.Second,
	}
}

// Validate reports the first unusable field
func (c *RedisConfig) Validate() error {
	switch {
	case c.Host == "":
		return errInvalidConfig("redis host is required")
	case c.Port <= 0 || c.Port > 65535:
		return errInvalidConfig("redis port %d is out of range", c.Port)
	case c.PoolSize <= 0:
		return errInvalidConfig("redis pool size must be positive, got %d", c.PoolSize)
	case c.TTL <= 0:
		return errInvalidConfig("decision ttl must be positive, got %s", c.TTL)
	}
	return nil
}
