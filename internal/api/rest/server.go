// Package rest provides the REST API server implementation
package rest

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/laundrydesk/abac-pdp/internal/audit"
	"github.com/laundrydesk/abac-pdp/internal/auth"
	"github.com/laundrydesk/abac-pdp/internal/engine"
	"github.com/laundrydesk/abac-pdp/internal/metrics"
	"github.com/laundrydesk/abac-pdp/internal/policy"
)

// PolicyStore is the store surface the API manages: CRUD plus version
// history and rollback
type PolicyStore interface {
	policy.Store
	History() *policy.History
	Rollback(version int64) (*policy.Snapshot, error)
}

// Authenticator attaches a session to every request it lets through
type Authenticator interface {
	Handler(next http.Handler) http.Handler
}

// RateLimiter throttles requests
type RateLimiter interface {
	Handler(next http.Handler) http.Handler
}

// Server is the REST API server
type Server struct {
	engine     *engine.Engine
	store      PolicyStore
	loader     *policy.Loader
	audit      audit.Logger
	metrics    metrics.Metrics
	auth       Authenticator
	limiter    RateLimiter
	router     *mux.Router
	httpServer *http.Server
	logger     *zap.Logger
	config     Config
	startTime  time.Time
}

// Config configures the REST API server
type Config struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	CORSOrigins  []string
	Version      string
}

// DefaultConfig returns default REST server configuration
func DefaultConfig() Config {
	return Config{
		Port:         8080,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
		Version:      "dev",
	}
}

// Options carries the optional collaborators of the server. A nil Auth
// injects the development session on every request.
type Options struct {
	Loader      *policy.Loader
	Audit       audit.Logger
	Metrics     metrics.Metrics
	Auth        Authenticator
	RateLimiter RateLimiter
	Logger      *zap.Logger
}

// New creates a new REST API server
func New(cfg Config, eng *engine.Engine, store PolicyStore, opts Options) (*Server, error) {
	if eng == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if store == nil {
		return nil, fmt.Errorf("policy store is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Loader == nil {
		opts.Loader = policy.NewLoader(nil, opts.Logger)
	}
	if opts.Audit == nil {
		opts.Audit = audit.NewNoopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNoOpMetrics()
	}
	if opts.Auth == nil {
		opts.Auth = auth.NewDevMiddleware(nil, opts.Logger)
	}

	s := &Server{
		engine:    eng,
		store:     store,
		loader:    opts.Loader,
		audit:     opts.Audit,
		metrics:   opts.Metrics,
		auth:      opts.Auth,
		limiter:   opts.RateLimiter,
		router:    mux.NewRouter(),
		logger:    opts.Logger,
		config:    cfg,
		startTime: time.Now(),
	}

	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s, nil
}

// registerRoutes registers all REST API routes
func (s *Server) registerRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.recoveryMiddleware)
	s.router.Use(s.metricsMiddleware)
	if len(s.config.CORSOrigins) > 0 {
		s.router.Use(s.corsMiddleware)
	}
	withErrorHandlers(s.router)

	// Health and metrics endpoints (no auth required)
	s.router.HandleFunc("/health", s.healthCheckHandler).Methods(http.MethodGet)
	s.router.Handle("/metrics", s.metrics.HTTPHandler()).Methods(http.MethodGet)

	// Service callers
	v1 := withErrorHandlers(s.router.PathPrefix("/v1").Subrouter())
	s.protect(v1)
	v1.HandleFunc("/authorize", s.authorizeHandler).Methods(http.MethodPost)
	v1.HandleFunc("/authorize/batch", s.authorizeBatchHandler).Methods(http.MethodPost)

	// Super-admin policy tester
	admin := withErrorHandlers(s.router.PathPrefix("/superadmin/abac").Subrouter())
	s.protect(admin)
	admin.Use(auth.RequirePlatformRole(auth.PlatformRoleSuperAdmin))

	admin.HandleFunc("/test", s.testContextHandler).Methods(http.MethodPost)
	admin.HandleFunc("/presets", s.listPresetsHandler).Methods(http.MethodGet)
	admin.HandleFunc("/presets/test", s.testAllPresetsHandler).Methods(http.MethodPost)
	admin.HandleFunc("/presets/{name}/test", s.testPresetHandler).Methods(http.MethodPost)

	policies := withErrorHandlers(admin.PathPrefix("/policies").Subrouter())
	policies.HandleFunc("", s.listPoliciesHandler).Methods(http.MethodGet)
	policies.HandleFunc("/versions", s.listVersionsHandler).Methods(http.MethodGet)
	policies.HandleFunc("/rollback/{version:[0-9]+}", s.rollbackHandler).Methods(http.MethodPost)
	policies.HandleFunc("/export", s.exportPoliciesHandler).Methods(http.MethodGet)
	policies.HandleFunc("/import", s.importPoliciesHandler).Methods(http.MethodPost)
	policies.HandleFunc("/{id}", s.getPolicyHandler).Methods(http.MethodGet)
	policies.HandleFunc("/{id}", s.putPolicyHandler).Methods(http.MethodPut)
	policies.HandleFunc("/{id}", s.deletePolicyHandler).Methods(http.MethodDelete)
}

// withErrorHandlers answers unmatched paths and methods with the error
// envelope. Subrouters do not inherit these handlers from their parent.
func withErrorHandlers(r *mux.Router) *mux.Router {
	r.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)
	r.NotFoundHandler = http.HandlerFunc(notFound)
	return r
}

// protect authenticates a subrouter, then rate limits per session
func (s *Server) protect(r *mux.Router) {
	r.Use(s.auth.Handler)
	if s.limiter != nil {
		r.Use(s.limiter.Handler)
	}
}

// Start starts the REST API server
func (s *Server) Start() error {
	s.logger.Info("Starting REST API server",
		zap.String("addr", s.httpServer.Addr),
		zap.Bool("cors_enabled", len(s.config.CORSOrigins) > 0),
		zap.Bool("rate_limit_enabled", s.limiter != nil),
	)

	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the REST API server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down REST API server")
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP implements http.Handler interface for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// healthCheckHandler handles GET /health
func (s *Server) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	checks := map[string]interface{}{
		"engine": "ok",
	}

	status := "healthy"
	code := http.StatusOK
	if snap := s.store.Snapshot(); snap != nil {
		checks["policy_store"] = map[string]interface{}{
			"version":  snap.Version(),
			"policies": snap.Len(),
			"checksum": snap.Checksum(),
		}
	} else {
		checks["policy_store"] = "no policy set loaded"
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	if stats, ok := s.engine.CacheStats(); ok {
		checks["cache"] = stats
	}
	if levels, ok := s.engine.CacheLevels(); ok {
		checks["cache_levels"] = levels
	}
	checks["audit"] = s.audit.Stats()

	WriteJSON(w, code, HealthResponse{
		Status:    status,
		Version:   s.config.Version,
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
		Checks:    checks,
	})
}
