// Package engine provides the policy decision engine
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/samber/oops"
	"go.uber.org/zap"

	"github.com/laundrydesk/abac-pdp/internal/audit"
	"github.com/laundrydesk/abac-pdp/internal/cache"
	"github.com/laundrydesk/abac-pdp/internal/cel"
	"github.com/laundrydesk/abac-pdp/internal/metrics"
	"github.com/laundrydesk/abac-pdp/internal/policy"
	"github.com/laundrydesk/abac-pdp/pkg/types"
)

// Engine evaluates attribute contexts against the current policy snapshot
type Engine struct {
	cel     *cel.Engine
	store   policy.Store
	cache   cache.Cache
	metrics metrics.Metrics
	audit   audit.Logger
	logger  *zap.Logger
	pool    *batchPool

	config Config
}

// Config configures the decision engine
type Config struct {
	// EvaluationTimeout bounds a single evaluation
	EvaluationTimeout time.Duration
	// Workers is the number of goroutines serving EvaluateBatch
	Workers int
}

// DefaultConfig returns a default engine configuration
func DefaultConfig() Config {
	return Config{
		EvaluationTimeout: 100 * time.Millisecond,
		Workers:           16,
	}
}

// Options carries the optional collaborators of an Engine. Nil fields fall
// back to disabled implementations.
type Options struct {
	CEL     *cel.Engine
	Cache   cache.Cache
	Metrics metrics.Metrics
	Audit   audit.Logger
	Logger  *zap.Logger
}

// New creates a new decision engine
func New(cfg Config, store policy.Store, opts Options) (*Engine, error) {
	if store == nil {
		return nil, errors.New("policy store is required")
	}
	if cfg.EvaluationTimeout <= 0 {
		cfg.EvaluationTimeout = DefaultConfig().EvaluationTimeout
	}

	celEngine := opts.CEL
	if celEngine == nil {
		var err error
		if celEngine, err = cel.NewEngine(); err != nil {
			return nil, err
		}
	}

	e := &Engine{
		cel:     celEngine,
		store:   store,
		cache:   opts.Cache,
		metrics: opts.Metrics,
		audit:   opts.Audit,
		logger:  opts.Logger,
		pool:    newBatchPool(cfg.Workers),
		config:  cfg,
	}
	if e.metrics == nil {
		e.metrics = metrics.NewNoOpMetrics()
	}
	if e.audit == nil {
		e.audit = audit.NewNoopLogger()
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}

	if snap := store.Snapshot(); snap != nil {
		e.metrics.SetPolicyVersion(snap.Version(), snap.Len())
	}
	return e, nil
}

// Evaluate decides one access request. It never fails: invalid input,
// timeouts and expression errors all produce a DENY carrying an error.
func (e *Engine) Evaluate(ctx context.Context, attrs types.AttributeContext) *types.EvaluationResult {
	start := time.Now()
	e.metrics.IncActiveRequests()
	defer e.metrics.DecActiveRequests()

	c := attrs.Clone()
	result := e.decide(ctx, &c)

	elapsed := time.Since(start)
	result.EvaluationTime = float64(elapsed.Microseconds()) / 1000
	if result.EvaluationTime < 0 {
		result.EvaluationTime = 0
	}

	e.metrics.RecordEvaluation(string(result.Decision), elapsed)
	if result.Error != nil {
		e.metrics.RecordEvaluationError(result.Error.Code)
	}
	e.emitDecision(ctx, result)

	return result
}

// Check is Evaluate for in-process enforcement: it reports whether the
// request is allowed, or the evaluation error that forced a DENY.
func (e *Engine) Check(ctx context.Context, attrs types.AttributeContext) (bool, error) {
	result := e.Evaluate(ctx, attrs)
	if result.Error != nil {
		return false, oops.Code(result.Error.Code).Errorf("%s", result.Error.Message)
	}
	return result.IsAllowed(), nil
}

// EvaluateBatch evaluates each context on the worker pool. Results are
// returned in input order.
func (e *Engine) EvaluateBatch(ctx context.Context, contexts []types.AttributeContext) []*types.EvaluationResult {
	results := make([]*types.EvaluationResult, len(contexts))
	e.pool.Run(ctx, len(contexts), func(i int) {
		results[i] = e.Evaluate(ctx, contexts[i])
	})
	return results
}

// OnPolicyChange keeps metrics, audit trail and cache in step with a newly
// published snapshot. Subscribe it to the policy store.
func (e *Engine) OnPolicyChange(ev policy.ChangeEvent) {
	snap := ev.Snapshot
	e.metrics.SetPolicyVersion(snap.Version(), snap.Len())
	e.metrics.RecordPolicyReload("success")

	e.audit.Log(context.Background(), &audit.PolicyReloadEvent{
		Source:    snap.Comment(),
		Operation: ev.Type.String(),
		Version:   snap.Version(),
		Checksum:  snap.Checksum(),
		PolicyIDs: ev.PolicyIDs,
	})

	if e.cache != nil {
		e.cache.Clear(context.Background())
	}

	// programs of removed policies are never evaluated again
	live := make(map[string]struct{}, snap.Len())
	for _, p := range snap.Policies() {
		if p.Expression != "" {
			live[p.Expression] = struct{}{}
		}
	}
	if dropped := e.cel.Retain(live); dropped > 0 {
		e.logger.Debug("dropped stale CEL programs", zap.Int("count", dropped))
	}

	e.logger.Info("policy snapshot published",
		zap.String("operation", ev.Type.String()),
		zap.Int64("version", snap.Version()),
		zap.Int("policies", snap.Len()))
}

// CacheStats returns decision cache statistics, or false without a cache
func (e *Engine) CacheStats() (cache.Stats, bool) {
	if e.cache == nil {
		return cache.Stats{}, false
	}
	return e.cache.Stats(), true
}

// CacheLevels returns per-level counters when the cache is layered
func (e *Engine) CacheLevels() (cache.Levels, bool) {
	layered, ok := e.cache.(interface{ Levels() cache.Levels })
	if !ok {
		return cache.Levels{}, false
	}
	return layered.Levels(), true
}

// Close stops the batch worker pool
func (e *Engine) Close() {
	e.pool.Stop()
}

func (e *Engine) decide(ctx context.Context, c *types.AttributeContext) *types.EvaluationResult {
	if err := c.Validate(); err != nil {
		return types.Deny(*c, types.ErrCodeInvalidContext, err.Error())
	}

	snap := e.store.Snapshot()
	if snap == nil {
		return types.Deny(*c, types.ErrCodeNoPolicySet, "no policy set has been loaded")
	}

	key, keyed := cacheKey(snap.Version(), c)
	if keyed {
		if cached, ok := e.lookup(ctx, key, c); ok {
			return cached
		}
	}

	evalCtx, cancel := context.WithTimeout(ctx, e.config.EvaluationTimeout)
	defer cancel()

	result, err := e.evaluatePolicies(evalCtx, snap, c)
	if err != nil {
		code := policy.ErrorCode(err)
		if code == "" {
			code = types.ErrCodeExpression
		}
		res := types.Deny(*c, code, err.Error())
		res.PolicyVersion = snap.Version()
		return res
	}

	if keyed && result.Error == nil {
		e.remember(ctx, key, result)
	}
	return result
}

// evaluatePolicies walks the applicable policies of snap in order. The
// returned error aborts the whole evaluation; per-policy expression
// failures are reported in the result and force a DENY.
func (e *Engine) evaluatePolicies(ctx context.Context, snap *policy.Snapshot, c *types.AttributeContext) (*types.EvaluationResult, error) {
	result := &types.EvaluationResult{
		Decision:        types.EffectDeny,
		AppliedPolicies: []types.AppliedPolicy{},
		Context:         *c,
		PolicyVersion:   snap.Version(),
	}

	var (
		vars          map[string]interface{}
		matchedAllow  bool
		matchedDeny   bool
		expressionErr error
	)

	applicable := snap.Applicable(c)
	matched := make([]*types.Policy, 0, len(applicable))

	for _, p := range applicable {
		if err := interrupted(ctx); err != nil {
			return nil, err
		}

		ok, reason := evaluateConditions(c, p.Conditions)
		if ok && p.Expression != "" {
			if vars == nil {
				vars = cel.Activation(c)
			}
			holds, err := e.evaluateExpression(ctx, p.Expression, vars)
			switch {
			case err != nil && ctx.Err() != nil:
				return nil, interrupted(ctx)
			case err != nil:
				e.logger.Warn("policy expression failed",
					zap.String("policy_id", p.ID), zap.Error(err))
				if expressionErr == nil {
					expressionErr = oops.Code(types.ErrCodeExpression).
						With("policy_id", p.ID).
						Wrapf(err, "policy %s", p.ID)
				}
				ok, reason = false, "expression error: "+err.Error()
			case holds:
				reason = joinReason(reason, "expression holds")
			default:
				ok, reason = false, "expression is false"
			}
		}

		result.AppliedPolicies = append(result.AppliedPolicies, types.AppliedPolicy{
			PolicyID:   p.ID,
			PolicyName: p.Name,
			Effect:     p.Effect,
			Matched:    ok,
			Reason:     reason,
		})
		if !ok {
			continue
		}
		matched = append(matched, p)
		if p.Effect == types.EffectDeny {
			matchedDeny = true
		} else {
			matchedAllow = true
		}
	}

	if err := interrupted(ctx); err != nil {
		return nil, err
	}

	// Any expression failure denies, whichever effect the failing policy had.
	if matchedAllow && !matchedDeny && expressionErr == nil {
		result.Decision = types.EffectAllow
	}
	for _, p := range matched {
		if p.Effect == result.Decision {
			result.Obligations = append(result.Obligations, p.Obligations...)
		}
	}
	if expressionErr != nil {
		result.Error = &types.EvaluationError{Code: types.ErrCodeExpression, Message: expressionErr.Error()}
	}
	return result, nil
}

func (e *Engine) evaluateExpression(ctx context.Context, expr string, vars map[string]interface{}) (bool, error) {
	prog, err := e.cel.Compile(expr)
	if err != nil {
		return false, err
	}
	return e.cel.Evaluate(ctx, prog, vars)
}

// evaluateConditions reports whether every condition holds. The reason is
// the first failing condition, or all holding conditions joined.
func evaluateConditions(c *types.AttributeContext, conds []types.Condition) (bool, string) {
	if len(conds) == 0 {
		return true, "target matched"
	}
	reasons := make([]string, 0, len(conds))
	for _, cond := range conds {
		holds, reason := evaluateCondition(c, cond)
		if !holds {
			return false, reason
		}
		reasons = append(reasons, reason)
	}
	return true, strings.Join(reasons, " and ")
}

func joinReason(a, b string) string {
	if a == "" || a == "target matched" {
		return b
	}
	return a + " and " + b
}

// interrupted maps a finished context onto the coded evaluation error
func interrupted(ctx context.Context) error {
	switch err := ctx.Err(); {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return oops.Code(types.ErrCodeEvaluationTimeout).Errorf("evaluation exceeded its time budget")
	default:
		return oops.Code(types.ErrCodeEvaluationCanceled).Errorf("evaluation canceled by caller")
	}
}

// cacheKey derives the decision cache key from the snapshot version and a
// hash of the canonical context JSON.
func cacheKey(version int64, c *types.AttributeContext) (string, bool) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", false
	}
	return fmt.Sprintf("v%d:%016x", version, xxhash.Sum64(data)), true
}

func (e *Engine) lookup(ctx context.Context, key string, c *types.AttributeContext) (*types.EvaluationResult, bool) {
	if e.cache == nil {
		return nil, false
	}
	data, ok := e.cache.Get(ctx, key)
	if !ok {
		e.metrics.RecordCacheMiss()
		return nil, false
	}

	var result types.EvaluationResult
	if err := json.Unmarshal(data, &result); err != nil {
		e.logger.Warn("discarding undecodable cached decision", zap.String("key", key), zap.Error(err))
		e.cache.Delete(ctx, key)
		e.metrics.RecordCacheMiss()
		return nil, false
	}
	e.metrics.RecordCacheHit()

	result.Context = *c
	result.Cached = true
	if result.AppliedPolicies == nil {
		result.AppliedPolicies = []types.AppliedPolicy{}
	}
	return &result, true
}

func (e *Engine) remember(ctx context.Context, key string, result *types.EvaluationResult) {
	if e.cache == nil {
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		e.logger.Warn("failed to encode decision for cache", zap.Error(err))
		return
	}
	e.cache.Set(ctx, key, data)
}

func (e *Engine) emitDecision(ctx context.Context, result *types.EvaluationResult) {
	c := &result.Context
	ev := &audit.DecisionEvent{
		Actor:           audit.ActorFromContext(ctx),
		Decision:        string(result.Decision),
		PolicyVersion:   result.PolicyVersion,
		SubjectID:       c.Subject.ID,
		SubjectRole:     c.Subject.Role,
		TenantID:        types.Deref(c.Subject.TenantID),
		Action:          c.Action.Action,
		ResourceType:    c.Resource.ResourceType,
		ResourceID:      types.Deref(c.Resource.ID),
		MatchedPolicies: []string{},
		Cached:          result.Cached,
		DurationMs:      result.EvaluationTime,
	}
	for _, ap := range result.AppliedPolicies {
		if ap.Matched {
			ev.MatchedPolicies = append(ev.MatchedPolicies, ap.PolicyID)
		}
	}
	if result.Error != nil {
		ev.ErrorCode = result.Error.Code
	}
	e.audit.Log(ctx, ev)
}
