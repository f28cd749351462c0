package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/laundrydesk/abac-pdp/internal/api/rest"
	"github.com/laundrydesk/abac-pdp/internal/audit"
	"github.com/laundrydesk/abac-pdp/internal/auth"
	"github.com/laundrydesk/abac-pdp/internal/config"
	"github.com/laundrydesk/abac-pdp/internal/ratelimit"
)

// NewServeCmd creates the serve subcommand
func NewServeCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the policy decision point HTTP server",
		Long: `Serve the super-admin policy tester, the /v1/authorize endpoint for
service callers, /health and /metrics.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load(cmd, map[string]string{
				"server.port":    "port",
				"policies.dir":   "policy-dir",
				"policies.watch": "watch",
			})
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().Int("port", 0, "HTTP port (default 8080)")
	cmd.Flags().String("policy-dir", "", "directory of YAML/JSON policy files (default: built-in policies)")
	cmd.Flags().Bool("watch", false, "reload policies when files in --policy-dir change")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger, err := initLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting policy decision point",
		zap.String("version", Version),
		zap.Int("port", cfg.Server.Port),
		zap.String("cache", cfg.Cache.Type),
		zap.Bool("audit", cfg.Audit.Enabled),
		zap.Bool("redis", cfg.UsesRedis()),
	)

	rt, err := newRuntime(ctx, cfg, logger, runtimeOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Error("Failed to close components", zap.Error(err))
		}
	}()

	serverOpts := rest.Options{
		Loader:  rt.loader,
		Audit:   rt.audit,
		Metrics: rt.metrics,
		Logger:  logger.Named("http"),
	}

	if cfg.Auth.Enabled {
		validator, err := auth.NewJWTValidator(cfg.JWTOptions())
		if err != nil {
			return fmt.Errorf("failed to create token validator: %w", err)
		}
		serverOpts.Auth = auth.NewMiddleware(validator, logger.Named("auth"))
	} else {
		logger.Warn("Authentication disabled, every request runs as the development super-admin")
	}

	if cfg.RateLimit.Enabled {
		client := ratelimit.NewRedisClient(&redis.Options{
			Addr:     net.JoinHostPort(cfg.Redis.Host, strconv.Itoa(cfg.Redis.Port)),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		defer client.Close()
		limiter := ratelimit.NewRedisLimiter(client, cfg.RateLimitOptions(), logger.Named("ratelimit"))
		serverOpts.RateLimiter = ratelimit.NewMiddleware(limiter, rt.metrics, logger)
	}

	if cfg.Policies.Watch {
		if err := rt.watchPolicies(ctx); err != nil {
			return err
		}
	}

	srv, err := rest.New(rest.Config{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  rest.DefaultConfig().IdleTimeout,
		CORSOrigins:  cfg.Server.CORSOrigins,
		Version:      Version,
	}, rt.engine, rt.store, serverOpts)
	if err != nil {
		return err
	}

	rt.audit.Log(ctx, &audit.SystemEvent{Component: "server", Message: "started version " + Version})

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start()
	}()

	select {
	case err := <-errChan:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		logger.Info("Received shutdown signal")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Graceful shutdown failed", zap.Error(err))
		}
	}

	rt.audit.Log(context.Background(), &audit.SystemEvent{Component: "server", Message: "stopped"})
	logger.Info("Server stopped")
	return nil
}
