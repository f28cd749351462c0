package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/laundrydesk/abac-pdp/internal/audit"
	"github.com/laundrydesk/abac-pdp/internal/cache"
	"github.com/laundrydesk/abac-pdp/internal/cel"
	"github.com/laundrydesk/abac-pdp/internal/config"
	"github.com/laundrydesk/abac-pdp/internal/db"
	"github.com/laundrydesk/abac-pdp/internal/engine"
	"github.com/laundrydesk/abac-pdp/internal/metrics"
	"github.com/laundrydesk/abac-pdp/internal/policy"
	"github.com/laundrydesk/abac-pdp/pkg/types"
)

// components holds every long-lived component of a process
type components struct {
	cfg     *config.Config
	logger  *zap.Logger
	store   *policy.MemoryStore
	loader  *policy.Loader
	engine  *engine.Engine
	metrics metrics.Metrics
	audit   audit.Logger
	db      *sql.DB
	closers []func() error
}

// runtimeOptions selects the side-effecting components. The offline CLI
// commands evaluate without cache, audit, metrics or database.
type runtimeOptions struct {
	offline bool
}

func newRuntime(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts runtimeOptions) (*components, error) {
	rt := &components{cfg: cfg, logger: logger}
	ready := false
	defer func() {
		if !ready {
			_ = rt.Close()
		}
	}()

	celEngine, err := cel.NewEngine()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL engine: %w", err)
	}
	validator := policy.NewValidator(celEngine)
	rt.store = policy.NewMemoryStore(validator, policy.NewHistory(cfg.Policies.HistorySize))
	rt.loader = policy.NewLoader(validator, logger.Named("policy"))

	engineOpts := engine.Options{CEL: celEngine, Logger: logger.Named("engine")}
	rt.metrics = metrics.NewNoOpMetrics()
	rt.audit = audit.NewNoopLogger()

	if !opts.offline {
		if cfg.Metrics.Enabled {
			rt.metrics = metrics.NewPrometheusMetrics(cfg.Metrics.Namespace)
		}

		if cfg.Database.DSN != "" {
			if cfg.Database.AutoMigrate {
				if err := migrate(cfg.Database.DSN, logger, func(r *db.MigrationRunner) error { return r.Up() }); err != nil {
					return nil, err
				}
			}
			conn, err := db.Open(cfg.Database.DSN)
			if err != nil {
				return nil, err
			}
			rt.db = conn
			rt.closers = append(rt.closers, rt.db.Close)
		}

		if cfg.Audit.Enabled {
			auditCfg := cfg.AuditOptions(rt.db)
			auditLogger, err := audit.NewLogger(ctx, &auditCfg, logger)
			if err != nil {
				return nil, fmt.Errorf("failed to create audit logger: %w", err)
			}
			rt.audit = auditLogger
			rt.closers = append(rt.closers, rt.audit.Close)
		}

		decisionCache, err := cache.New(cfg.CacheOptions(), logger.Named("cache"))
		if err != nil {
			return nil, fmt.Errorf("failed to create decision cache: %w", err)
		}
		if decisionCache != nil {
			engineOpts.Cache = decisionCache
			rt.closers = append(rt.closers, decisionCache.Close)
		}
		engineOpts.Metrics = rt.metrics
		engineOpts.Audit = rt.audit
	}

	rt.engine, err = engine.New(cfg.EngineOptions(), rt.store, engineOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	rt.closers = append(rt.closers, func() error { rt.engine.Close(); return nil })
	rt.store.Subscribe(rt.engine.OnPolicyChange)

	if err := rt.loadPolicies(); err != nil {
		return nil, err
	}
	ready = true
	return rt, nil
}

// loadPolicies publishes the first snapshot from the policy directory, or
// the built-in set when none is configured
func (rt *components) loadPolicies() error {
	var (
		policies []*types.Policy
		source   string
		err      error
	)
	if dir := rt.cfg.Policies.Dir; dir != "" {
		policies, err = rt.loader.LoadFromDirectory(dir)
		if err != nil {
			return fmt.Errorf("failed to load policies: %w", err)
		}
		source = "load from " + dir
	} else {
		policies = policy.DefaultPolicies()
		source = "built-in defaults"
	}

	snap, err := rt.store.Replace(policies, source)
	if err != nil {
		return fmt.Errorf("failed to publish policies: %w", err)
	}
	rt.logger.Info("Policies loaded",
		zap.String("source", source),
		zap.Int("policies", snap.Len()),
		zap.Int64("version", snap.Version()),
		zap.String("checksum", snap.Checksum()),
	)
	return nil
}

// watchPolicies reloads the policy directory on change. Successful reloads
// reach metrics and the audit trail through the engine subscription;
// failures are recorded here.
func (rt *components) watchPolicies(ctx context.Context) error {
	dir := rt.cfg.Policies.Dir
	watcher, err := policy.NewFileWatcher(dir, rt.store, rt.loader, rt.logger.Named("watcher"))
	if err != nil {
		return err
	}
	watcher.OnReload(func(ev policy.ReloadEvent) {
		if ev.Error == nil {
			return
		}
		rt.metrics.RecordPolicyReload("failure")
		rt.audit.Log(ctx, &audit.PolicyReloadEvent{
			Source:    "reload from " + dir,
			Operation: "reload",
			Version:   ev.Version,
			PolicyIDs: []string{},
			Error:     ev.Error.Error(),
		})
	})
	if err := watcher.Watch(ctx); err != nil {
		_ = watcher.Stop()
		return err
	}
	rt.closers = append(rt.closers, watcher.Stop)
	return nil
}

// Close releases components in reverse creation order, so the watcher stops
// before the engine and the database closes last
func (rt *components) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

// migrate runs fn on a dedicated connection; the runner closes it
func migrate(dsn string, logger *zap.Logger, fn func(*db.MigrationRunner) error) error {
	conn, err := db.Open(dsn)
	if err != nil {
		return err
	}
	runner, err := db.NewMigrationRunner(conn, logger)
	if err != nil {
		_ = conn.Close()
		return err
	}
	defer runner.Close()

	return fn(runner)
}
