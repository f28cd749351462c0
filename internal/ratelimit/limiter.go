// Package ratelimit throttles the HTTP surface with Redis token buckets
package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"time"
)

// Limiter decides whether the bucket of a caller may proceed
type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
	Reset(ctx context.Context, key string) error
}

// Result is the state of one bucket after a check
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetTime time.Time
}

// RetryAfter is the number of whole seconds a rejected caller should wait,
// never less than one
func (r Result) RetryAfter(now time.Time) int {
	secs := int(r.ResetTime.Sub(now).Round(time.Second).Seconds())
	if secs < 1 {
		return 1
	}
	return secs
}

func (r Result) writeHeaders(h http.Header) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(r.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(r.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(r.ResetTime.Unix(), 10))
}
