// Package metrics provides observability for the policy decision point
package metrics

import (
	"net/http"
	"time"
)

// Metrics provides observability for the policy decision point
type Metrics interface {
	// Evaluation metrics
	RecordEvaluation(decision string, duration time.Duration)
	RecordEvaluationError(code string)
	RecordCacheHit()
	RecordCacheMiss()
	IncActiveRequests()
	DecActiveRequests()

	// Policy store metrics
	SetPolicyVersion(version int64, policies int)
	RecordPolicyReload(status string)

	// Transport metrics
	RecordHTTPRequest(route string, status int, duration time.Duration)
	RecordRateLimited(route string)

	// HTTP handler for Prometheus scraping
	HTTPHandler() http.Handler
}

// NoOpMetrics provides a no-op implementation for testing/disabled monitoring
type NoOpMetrics struct{}

// NewNoOpMetrics creates a new no-op metrics instance
func NewNoOpMetrics() *NoOpMetrics {
	return &NoOpMetrics{}
}

func (n *NoOpMetrics) RecordEvaluation(decision string, duration time.Duration)          {}
func (n *NoOpMetrics) RecordEvaluationError(code string)                                 {}
func (n *NoOpMetrics) RecordCacheHit()                                                   {}
func (n *NoOpMetrics) RecordCacheMiss()                                                  {}
func (n *NoOpMetrics) IncActiveRequests()                                                {}
func (n *NoOpMetrics) DecActiveRequests()                                                {}
func (n *NoOpMetrics) SetPolicyVersion(version int64, policies int)                      {}
func (n *NoOpMetrics) RecordPolicyReload(status string)                                  {}
func (n *NoOpMetrics) RecordHTTPRequest(route string, status int, duration time.Duration) {}
func (n *NoOpMetrics) RecordRateLimited(route string)                                    {}

// HTTPHandler returns a no-op handler
func (n *NoOpMetrics) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("# NoOp metrics - monitoring disabled\n"))
	})
}
