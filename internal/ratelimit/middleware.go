package ratelimit

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/laundrydesk/abac-pdp/internal/auth"
	"github.com/laundrydesk/abac-pdp/internal/metrics"
)

// CodeRateLimited is the error code of a throttled request
const CodeRateLimited = "RATE_LIMITED"

// Middleware throttles requests per session, or per client IP before
// authentication
type Middleware struct {
	limiter Limiter
	metrics metrics.Metrics
	logger  *zap.Logger
}

// NewMiddleware wraps a limiter as HTTP middleware
func NewMiddleware(limiter Limiter, m metrics.Metrics, logger *zap.Logger) *Middleware {
	if m == nil {
		m = metrics.NewNoOpMetrics()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Middleware{limiter: limiter, metrics: m, logger: logger}
}

// Handler returns an HTTP middleware handler
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := Key(r)
		res, err := m.limiter.Allow(r.Context(), key)
		if err != nil {
			// limiter is configured fail-closed
			m.logger.Error("rate limit check failed", zap.String("key", key), zap.Error(err))
			m.reject(w, r, res, "rate limiter unavailable")
			return
		}

		res.writeHeaders(w.Header())

		if !res.Allowed {
			m.reject(w, r, res, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m *Middleware) reject(w http.ResponseWriter, r *http.Request, res Result, message string) {
	m.metrics.RecordRateLimited(r.URL.Path)

	w.Header().Set("Retry-After", strconv.Itoa(res.RetryAfter(time.Now())))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": CodeRateLimited, "message": message})
}

// Key returns the bucket of a request: the session user when one is
// attached, otherwise the client IP
func Key(r *http.Request) string {
	if session, ok := auth.SessionFromContext(r.Context()); ok && session.UserID != "" {
		return "user:" + session.UserID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
