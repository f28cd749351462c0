package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// EnvPrefix prefixes every environment override, e.g. ABAC_PDP_SERVER_PORT
	EnvPrefix = "ABAC_PDP"

	configName = "abac-pdp"
)

// NewViper returns a viper instance with defaults, environment binding and
// the config file location set. An empty configFile searches the working
// directory and /etc/abac-pdp for abac-pdp.yaml.
func NewViper(configFile string) *viper.Viper {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/abac-pdp")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	return v
}

// setDefaults registers every key so AutomaticEnv can resolve it during
// Unmarshal even when the file does not mention it
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.cors_origins", []string{})

	v.SetDefault("engine.evaluation_timeout", 100*time.Millisecond)
	v.SetDefault("engine.workers", 16)

	v.SetDefault("policies.dir", "")
	v.SetDefault("policies.watch", false)
	v.SetDefault("policies.history_size", 20)

	v.SetDefault("cache.type", "lru")
	v.SetDefault("cache.capacity", 10000)
	v.SetDefault("cache.ttl", 5*time.Minute)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.key_prefix", "abac:")

	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.type", "stdout")
	v.SetDefault("audit.file_path", "")
	v.SetDefault("audit.file_max_size", 100)
	v.SetDefault("audit.file_max_age", 30)
	v.SetDefault("audit.file_max_backups", 10)
	v.SetDefault("audit.syslog_addr", "")
	v.SetDefault("audit.syslog_protocol", "")
	v.SetDefault("audit.hash_chain", false)
	v.SetDefault("audit.buffer_size", 1000)
	v.SetDefault("audit.flush_interval", 100*time.Millisecond)

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.auto_migrate", false)

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.public_key_file", "")
	v.SetDefault("auth.issuer", "laundrydesk")
	v.SetDefault("auth.audience", "abac-pdp")

	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.default_rps", 20)
	v.SetDefault("rate_limit.user_rps", 50)
	v.SetDefault("rate_limit.burst", 0)
	v.SetDefault("rate_limit.window", time.Second)
	v.SetDefault("rate_limit.fail_open", true)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", "abac_pdp")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load reads the config file (a missing file is not an error), applies
// environment overrides and validates the result
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
