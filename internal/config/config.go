// Package config loads the abac-pdp configuration from file, environment
// and flags
package config

import (
	"database/sql"
	"time"

	"github.com/laundrydesk/abac-pdp/internal/audit"
	"github.com/laundrydesk/abac-pdp/internal/auth"
	"github.com/laundrydesk/abac-pdp/internal/cache"
	"github.com/laundrydesk/abac-pdp/internal/engine"
	"github.com/laundrydesk/abac-pdp/internal/ratelimit"
)

// Config is the complete server configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Policies  PoliciesConfig  `mapstructure:"policies"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Auth      AuthConfig      `mapstructure:"auth"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig configures the HTTP listener
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// EngineConfig configures evaluation
type EngineConfig struct {
	EvaluationTimeout time.Duration `mapstructure:"evaluation_timeout" validate:"gt=0"`
	Workers           int           `mapstructure:"workers" validate:"min=1"`
}

// PoliciesConfig configures where policies come from
type PoliciesConfig struct {
	// Dir holds YAML/JSON policy files; empty uses the built-in set
	Dir         string `mapstructure:"dir"`
	Watch       bool   `mapstructure:"watch"`
	HistorySize int    `mapstructure:"history_size" validate:"min=1"`
}

// CacheConfig configures the decision cache
type CacheConfig struct {
	Type     string        `mapstructure:"type" validate:"oneof=none lru redis hybrid"`
	Capacity int           `mapstructure:"capacity" validate:"min=1"`
	TTL      time.Duration `mapstructure:"ttl" validate:"gt=0"`
}

// RedisConfig is shared by the L2 cache and the rate limiter
type RedisConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port" validate:"min=1,max=65535"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db" validate:"min=0"`
	PoolSize  int    `mapstructure:"pool_size" validate:"min=1"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// AuditConfig configures the audit trail
type AuditConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Type           string        `mapstructure:"type" validate:"audit_type"`
	FilePath       string        `mapstructure:"file_path"`
	FileMaxSize    int           `mapstructure:"file_max_size" validate:"min=0"`
	FileMaxAge     int           `mapstructure:"file_max_age" validate:"min=0"`
	FileMaxBackups int           `mapstructure:"file_max_backups" validate:"min=0"`
	SyslogAddr     string        `mapstructure:"syslog_addr"`
	SyslogProtocol string        `mapstructure:"syslog_protocol" validate:"omitempty,oneof=tcp udp unix"`
	HashChain      bool          `mapstructure:"hash_chain"`
	BufferSize     int           `mapstructure:"buffer_size" validate:"min=1"`
	FlushInterval  time.Duration `mapstructure:"flush_interval" validate:"gt=0"`
}

// DatabaseConfig configures the postgres audit store
type DatabaseConfig struct {
	DSN         string `mapstructure:"dsn"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
}

// AuthConfig configures session tokens
type AuthConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Secret        string `mapstructure:"secret"`
	PublicKeyFile string `mapstructure:"public_key_file"`
	Issuer        string `mapstructure:"issuer"`
	Audience      string `mapstructure:"audience"`
}

// RateLimitConfig configures request throttling
type RateLimitConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	DefaultRPS int           `mapstructure:"default_rps" validate:"min=1"`
	UserRPS    int           `mapstructure:"user_rps" validate:"min=1"`
	Burst      int           `mapstructure:"burst" validate:"min=0"`
	Window     time.Duration `mapstructure:"window" validate:"gt=0"`
	FailOpen   bool          `mapstructure:"fail_open"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace" validate:"required_if=Enabled true"`
}

// LogConfig configures zap
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json console"`
}

// EngineOptions returns the engine configuration
func (c *Config) EngineOptions() engine.Config {
	return engine.Config{
		EvaluationTimeout: c.Engine.EvaluationTimeout,
		Workers:           c.Engine.Workers,
	}
}

// CacheOptions returns the decision cache configuration
func (c *Config) CacheOptions() cache.Config {
	redisCfg := cache.DefaultRedisConfig()
	redisCfg.Host = c.Redis.Host
	redisCfg.Port = c.Redis.Port
	redisCfg.Password = c.Redis.Password
	redisCfg.DB = c.Redis.DB
	redisCfg.PoolSize = c.Redis.PoolSize
	redisCfg.TTL = c.Cache.TTL
	if c.Redis.KeyPrefix != "" {
		redisCfg.KeyPrefix = c.Redis.KeyPrefix + "decision:"
	}

	return cache.Config{
		Type:     cache.Type(c.Cache.Type),
		Capacity: c.Cache.Capacity,
		TTL:      c.Cache.TTL,
		Redis:    redisCfg,
	}
}

// AuditOptions returns the audit logger configuration. db is required for
// the postgres output.
func (c *Config) AuditOptions(db *sql.DB) audit.Config {
	return audit.Config{
		Enabled:        c.Audit.Enabled,
		Type:           c.Audit.Type,
		FilePath:       c.Audit.FilePath,
		FileMaxSize:    c.Audit.FileMaxSize,
		FileMaxAge:     c.Audit.FileMaxAge,
		FileMaxBackups: c.Audit.FileMaxBackups,
		SyslogAddr:     c.Audit.SyslogAddr,
		SyslogProtocol: c.Audit.SyslogProtocol,
		DB:             db,
		HashChain:      c.Audit.HashChain,
		BufferSize:     c.Audit.BufferSize,
		FlushInterval:  c.Audit.FlushInterval,
	}
}

// JWTOptions returns the token validation configuration
func (c *Config) JWTOptions() *auth.JWTConfig {
	cfg := auth.DefaultJWTConfig()
	cfg.Secret = c.Auth.Secret
	cfg.PublicKeyFile = c.Auth.PublicKeyFile
	cfg.Issuer = c.Auth.Issuer
	cfg.Audience = c.Auth.Audience
	return cfg
}

// RateLimitOptions returns the limiter configuration
func (c *Config) RateLimitOptions() *ratelimit.Config {
	cfg := ratelimit.DefaultConfig()
	cfg.DefaultRPS = c.RateLimit.DefaultRPS
	cfg.UserRPS = c.RateLimit.UserRPS
	cfg.Burst = c.RateLimit.Burst
	cfg.Window = c.RateLimit.Window
	cfg.FailOpen = c.RateLimit.FailOpen
	if c.Redis.KeyPrefix != "" {
		cfg.KeyPrefix = c.Redis.KeyPrefix + "ratelimit"
	}
	return cfg
}

// UsesRedis reports whether any enabled component needs Redis
func (c *Config) UsesRedis() bool {
	return c.Cache.Type == string(cache.TypeRedis) ||
		c.Cache.Type == string(cache.TypeHybrid) ||
		c.RateLimit.Enabled
}
