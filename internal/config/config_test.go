package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laundrydesk/abac-pdp/internal/cache"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "abac-pdp.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(NewViper(""))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 100*time.Millisecond, cfg.Engine.EvaluationTimeout)
	assert.Equal(t, 16, cfg.Engine.Workers)
	assert.Equal(t, "lru", cfg.Cache.Type)
	assert.Equal(t, "stdout", cfg.Audit.Type)
	assert.Equal(t, "abac_pdp", cfg.Metrics.Namespace)
	assert.False(t, cfg.UsesRedis())

	engineCfg := cfg.EngineOptions()
	assert.Equal(t, cfg.Engine.Workers, engineCfg.Workers)

	cacheCfg := cfg.CacheOptions()
	assert.Equal(t, cache.TypeLRU, cacheCfg.Type)
	assert.Equal(t, "abac:decision:", cacheCfg.Redis.KeyPrefix)

	assert.Equal(t, "abac:ratelimit", cfg.RateLimitOptions().KeyPrefix)
	assert.NoError(t, cfg.RateLimitOptions().Validate())
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
engine:
  evaluation_timeout: 250ms
cache:
  type: hybrid
  ttl: 1m
redis:
  host: redis.internal
  key_prefix: "pdp:"
audit:
  type: file
  file_path: /var/log/abac/audit.log
  hash_chain: true
auth:
  enabled: true
  secret: s3cret
log:
  level: debug
  format: console
`)

	cfg, err := Load(NewViper(path))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 250*time.Millisecond, cfg.Engine.EvaluationTimeout)
	assert.True(t, cfg.UsesRedis())

	cacheCfg := cfg.CacheOptions()
	assert.Equal(t, cache.TypeHybrid, cacheCfg.Type)
	assert.Equal(t, "redis.internal", cacheCfg.Redis.Host)
	assert.Equal(t, time.Minute, cacheCfg.Redis.TTL)
	assert.Equal(t, "pdp:decision:", cacheCfg.Redis.KeyPrefix)

	auditCfg := cfg.AuditOptions(nil)
	assert.Equal(t, "/var/log/abac/audit.log", auditCfg.FilePath)
	assert.True(t, auditCfg.HashChain)

	jwtCfg := cfg.JWTOptions()
	assert.Equal(t, "s3cret", jwtCfg.Secret)
	assert.Equal(t, "laundrydesk", jwtCfg.Issuer)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ABAC_PDP_SERVER_PORT", "7000")
	t.Setenv("ABAC_PDP_ENGINE_EVALUATION_TIMEOUT", "50ms")
	t.Setenv("ABAC_PDP_RATE_LIMIT_ENABLED", "true")
	t.Setenv("ABAC_PDP_CACHE_TYPE", "none")

	cfg, err := Load(NewViper(""))
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, 50*time.Millisecond, cfg.Engine.EvaluationTimeout)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, "none", cfg.Cache.Type)
	assert.True(t, cfg.UsesRedis())
}

func TestLoad_MalformedFile(t *testing.T) {
	path := writeConfig(t, "server: [unterminated")
	_, err := Load(NewViper(path))
	assert.ErrorContains(t, err, "failed to read config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		errMsg string
	}{
		{"unknown audit type", "audit:\n  type: kafka\n", "Audit.Type must be one of"},
		{"unknown cache type", "cache:\n  type: memcached\n", "Cache.Type must be one of [none lru redis hybrid]"},
		{"bad log level", "log:\n  level: trace\n", "Log.Level must be one of"},
		{"zero workers", "engine:\n  workers: 0\n", "Engine.Workers must be at least 1"},
		{"port out of range", "server:\n  port: 70000\n", "Server.Port must be at most 65535"},
		{"file audit without path", "audit:\n  type: file\n", "audit.file_path is required"},
		{"syslog audit without addr", "audit:\n  type: syslog\n", "audit.syslog_addr is required"},
		{"postgres audit without dsn", "audit:\n  type: postgres\n", "database.dsn is required"},
		{"enabled audit without type", "audit:\n  type: \"\"\n", "audit.type is required"},
		{"auth without key", "auth:\n  enabled: true\n", "auth.secret or auth.public_key_file is required"},
		{"watch without dir", "policies:\n  watch: true\n", "policies.dir is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(NewViper(writeConfig(t, tt.body)))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestValidate_DisabledAuditSkipsOutputChecks(t *testing.T) {
	path := writeConfig(t, "audit:\n  enabled: false\n  type: postgres\n")
	cfg, err := Load(NewViper(path))
	require.NoError(t, err)
	assert.False(t, cfg.Audit.Enabled)
}
