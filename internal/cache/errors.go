package cache

import "github.com/samber/oops"

// Error codes of cache construction failures. Runtime cache errors are
// logged and counted, never returned.
const (
	CodeInvalidConfig = "CACHE_INVALID_CONFIG"
	CodeUnavailable   = "CACHE_UNAVAILABLE"
)

func errInvalidConfig(format string, args ...any) error {
	return oops.Code(CodeInvalidConfig).In("cache").Errorf(format, args...)
}

func errUnavailable(addr string, err error) error {
	return oops.
		Code(CodeUnavailable).
		In("cache").
		With("addr", addr).
		Wrapf(err, "redis decision cache at %s is unreachable", addr)
}
