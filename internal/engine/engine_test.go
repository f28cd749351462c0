package engine

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/laundrydesk/abac-pdp/internal/audit"
	"github.com/laundrydesk/abac-pdp/internal/cache"
	"github.com/laundrydesk/abac-pdp/internal/cel"
	"github.com/laundrydesk/abac-pdp/internal/metrics"
	"github.com/laundrydesk/abac-pdp/internal/policy"
	"github.com/laundrydesk/abac-pdp/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newStore(t *testing.T, policies []*types.Policy) *policy.MemoryStore {
	t.Helper()
	celEngine, err := cel.NewEngine()
	require.NoError(t, err)
	store := policy.NewMemoryStore(policy.NewValidator(celEngine), policy.NewHistory(5))
	if policies != nil {
		_, err = store.Replace(policies, "test")
		require.NoError(t, err)
	}
	return store
}

func newEngine(t *testing.T, store policy.Store, opts Options) *Engine {
	t.Helper()
	e, err := New(DefaultConfig(), store, opts)
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

func defaultEngine(t *testing.T) *Engine {
	return newEngine(t, newStore(t, policy.DefaultPolicies()), Options{})
}

func adminContext() types.AttributeContext {
	return types.AttributeContext{
		Subject: types.Subject{
			ID:       "user-1",
			Role:     "admin",
			TenantID: types.String("tenant-123"),
		},
		Action: types.Action{Action: "view"},
		Resource: types.Resource{
			ResourceType: "order",
			ID:           types.String("order-9"),
			TenantID:     types.String("tenant-123"),
		},
		Environment: types.Environment{
			BusinessHours: types.Bool(true),
			IncidentMode:  types.Bool(false),
		},
	}
}

func appliedIDs(result *types.EvaluationResult) []string {
	ids := make([]string, 0, len(result.AppliedPolicies))
	for _, ap := range result.AppliedPolicies {
		ids = append(ids, ap.PolicyID)
	}
	return ids
}

func findApplied(t *testing.T, result *types.EvaluationResult, id string) types.AppliedPolicy {
	t.Helper()
	for _, ap := range result.AppliedPolicies {
		if ap.PolicyID == id {
			return ap
		}
	}
	t.Fatalf("policy %s not in trace %v", id, appliedIDs(result))
	return types.AppliedPolicy{}
}

func TestEvaluate_AdminAllowed(t *testing.T) {
	e := defaultEngine(t)

	result := e.Evaluate(context.Background(), adminContext())

	assert.Equal(t, types.EffectAllow, result.Decision)
	assert.Nil(t, result.Error)
	assert.Equal(t, int64(1), result.PolicyVersion)
	assert.GreaterOrEqual(t, result.EvaluationTime, 0.0)
	assert.Equal(t, adminContext(), result.Context)

	admin := findApplied(t, result, "admin-full-access")
	assert.True(t, admin.Matched)
	assert.Equal(t, "target matched", admin.Reason)

	tenant := findApplied(t, result, "tenant-isolation")
	assert.False(t, tenant.Matched)
	assert.Equal(t, `resource.tenant_id ("tenant-123") equals subject.tenant_id ("tenant-123")`, tenant.Reason)
}

func TestEvaluate_Deterministic(t *testing.T) {
	e := defaultEngine(t)
	c := adminContext()
	c.Subject.Role = "finance"
	c.Action.Action = "approve"
	c.Resource.ResourceType = "refund"
	c.Resource.Amount = types.Float(250)
	c.Subject.ApprovalLimit = types.Float(1000)

	first := e.Evaluate(context.Background(), c)
	for i := 0; i < 10; i++ {
		next := e.Evaluate(context.Background(), c)
		assert.Equal(t, first.Decision, next.Decision)
		assert.Equal(t, first.AppliedPolicies, next.AppliedPolicies)
	}
	assert.Equal(t, types.EffectAllow, first.Decision)

	// priority descending, then id ascending
	assert.Equal(t, []string{
		"tenant-isolation",
		"tenant-subject-missing",
		"approval-limit-exceeded",
		"approval-limit-missing",
		"read-only-write-block",
		"business-hours-approvals",
		"business-hours-unknown",
		"incident-mode-freeze",
		"finance-approvals",
	}, appliedIDs(first))
}

func TestEvaluate_MissingMandatoryAttributes(t *testing.T) {
	e := defaultEngine(t)

	tests := []struct {
		attribute string
		mutate    func(*types.AttributeContext)
	}{
		{"subject.id", func(c *types.AttributeContext) { c.Subject.ID = "" }},
		{"subject.role", func(c *types.AttributeContext) { c.Subject.Role = "" }},
		{"action.action", func(c *types.AttributeContext) { c.Action.Action = "" }},
		{"resource.resource_type", func(c *types.AttributeContext) { c.Resource.ResourceType = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.attribute, func(t *testing.T) {
			c := adminContext()
			tt.mutate(&c)

			result := e.Evaluate(context.Background(), c)
			assert.Equal(t, types.EffectDeny, result.Decision)
			assert.Empty(t, result.AppliedPolicies)
			assert.NotNil(t, result.AppliedPolicies)
			require.NotNil(t, result.Error)
			assert.Equal(t, types.ErrCodeInvalidContext, result.Error.Code)
			assert.Contains(t, result.Error.Message, tt.attribute)
		})
	}
}

func TestEvaluate_TenantIsolation(t *testing.T) {
	e := defaultEngine(t)
	c := adminContext()
	c.Subject.Role = "support"
	c.Resource.TenantID = types.String("tenant-456")

	result := e.Evaluate(context.Background(), c)

	assert.Equal(t, types.EffectDeny, result.Decision)
	assert.Nil(t, result.Error)

	tenant := findApplied(t, result, "tenant-isolation")
	assert.True(t, tenant.Matched)
	assert.Equal(t, `resource.tenant_id ("tenant-456") does not equal subject.tenant_id ("tenant-123")`, tenant.Reason)

	// the allow still matched, deny overrides it
	assert.True(t, findApplied(t, result, "support-read-access").Matched)

	require.Len(t, result.Obligations, 1)
	assert.Equal(t, types.KindNotify, result.Obligations[0].Kind())
}

func TestEvaluate_TenantIsolationWithoutSubjectTenant(t *testing.T) {
	e := defaultEngine(t)
	c := adminContext()
	c.Subject.Role = "support"
	c.Subject.TenantID = nil
	c.Resource.TenantID = types.String("tenant-456")

	result := e.Evaluate(context.Background(), c)

	assert.Equal(t, types.EffectDeny, result.Decision)
	assert.Nil(t, result.Error)
	assert.False(t, findApplied(t, result, "tenant-isolation").Matched)
	assert.True(t, findApplied(t, result, "tenant-subject-missing").Matched)
	assert.True(t, findApplied(t, result, "support-read-access").Matched)

	// untenanted resources are unaffected
	c.Resource.TenantID = nil
	result = e.Evaluate(context.Background(), c)
	assert.Equal(t, types.EffectAllow, result.Decision)
	assert.False(t, findApplied(t, result, "tenant-subject-missing").Matched)
}

func TestEvaluate_AutomationWithoutSubjectTenant(t *testing.T) {
	e := defaultEngine(t)
	c := adminContext()
	c.Subject.TenantID = nil
	c.Resource.TenantID = nil
	c.Resource.ResourceType = "automation"
	c.Resource.EventTenantID = types.String("tenant-456")

	result := e.Evaluate(context.Background(), c)

	assert.Equal(t, types.EffectDeny, result.Decision)
	assert.True(t, findApplied(t, result, "automation-tenant-missing").Matched)
}

func TestEvaluate_BusinessHoursUnknown(t *testing.T) {
	e := defaultEngine(t)
	c := adminContext()
	c.Subject.Role = "finance"
	c.Subject.ApprovalLimit = types.Float(5000)
	c.Action.Action = "approve"
	c.Resource.ResourceType = "payout"
	c.Resource.Amount = types.Float(200)

	result := e.Evaluate(context.Background(), c)
	require.Equal(t, types.EffectAllow, result.Decision)

	c.Environment.BusinessHours = nil
	result = e.Evaluate(context.Background(), c)

	assert.Equal(t, types.EffectDeny, result.Decision)
	assert.False(t, findApplied(t, result, "business-hours-approvals").Matched)
	unknown := findApplied(t, result, "business-hours-unknown")
	assert.True(t, unknown.Matched)
	assert.Equal(t, "environment.business_hours is not present", unknown.Reason)
}

func TestEvaluate_FinancialLimit(t *testing.T) {
	e := defaultEngine(t)
	c := adminContext()
	c.Subject.Role = "finance"
	c.Subject.ApprovalLimit = types.Float(1000)
	c.Action.Action = "approve"
	c.Resource.ResourceType = "refund"
	c.Resource.Amount = types.Float(1500)

	result := e.Evaluate(context.Background(), c)

	assert.Equal(t, types.EffectDeny, result.Decision)
	exceeded := findApplied(t, result, "approval-limit-exceeded")
	assert.True(t, exceeded.Matched)
	assert.Equal(t, "resource.amount (1500) is greater than subject.approval_limit (1000)", exceeded.Reason)
	assert.True(t, findApplied(t, result, "finance-approvals").Matched)

	require.Len(t, result.Obligations, 1)
	approval, ok := result.Obligations[0].(types.RequireApprovalAction)
	require.True(t, ok)
	assert.Equal(t, "finance_manager", approval.ApproverRole)
}

func TestEvaluate_MissingApprovalLimit(t *testing.T) {
	e := defaultEngine(t)
	c := adminContext()
	c.Subject.Role = "finance"
	c.Action.Action = "approve"
	c.Resource.ResourceType = "payout"
	c.Resource.Amount = types.Float(10)

	result := e.Evaluate(context.Background(), c)

	assert.Equal(t, types.EffectDeny, result.Decision)
	exceeded := findApplied(t, result, "approval-limit-exceeded")
	assert.False(t, exceeded.Matched)
	assert.Equal(t, "subject.approval_limit is not present", exceeded.Reason)
	assert.True(t, findApplied(t, result, "approval-limit-missing").Matched)
}

func TestEvaluate_ReadOnly(t *testing.T) {
	e := defaultEngine(t)
	c := adminContext()
	c.Subject.Role = "operator"
	c.Subject.IsReadOnly = types.Bool(true)
	c.Action.Action = "create"

	result := e.Evaluate(context.Background(), c)

	assert.Equal(t, types.EffectDeny, result.Decision)
	block := findApplied(t, result, "read-only-write-block")
	assert.True(t, block.Matched)
	assert.Equal(t, "subject.is_read_only equals true", block.Reason)
}

func TestEvaluate_IncidentModeExpression(t *testing.T) {
	e := defaultEngine(t)
	c := adminContext()
	c.Action.Action = "update"
	c.Environment.IncidentMode = types.Bool(true)

	result := e.Evaluate(context.Background(), c)
	assert.Equal(t, types.EffectDeny, result.Decision)
	freeze := findApplied(t, result, "incident-mode-freeze")
	assert.True(t, freeze.Matched)
	assert.Equal(t, "environment.incident_mode equals true and expression holds", freeze.Reason)

	c.Subject.PlatformRole = types.String("superadmin")
	result = e.Evaluate(context.Background(), c)
	assert.Equal(t, types.EffectAllow, result.Decision)
	freeze = findApplied(t, result, "incident-mode-freeze")
	assert.False(t, freeze.Matched)
	assert.Equal(t, "expression is false", freeze.Reason)
}

func TestEvaluate_DenyOverridesAllow(t *testing.T) {
	store := newStore(t, []*types.Policy{
		{ID: "allow-high", Name: "Allow high", Effect: types.EffectAllow, Priority: 100},
		{ID: "deny-low", Name: "Deny low", Effect: types.EffectDeny, Priority: 1},
	})
	e := newEngine(t, store, Options{})

	result := e.Evaluate(context.Background(), adminContext())

	assert.Equal(t, types.EffectDeny, result.Decision)
	assert.Equal(t, []string{"allow-high", "deny-low"}, appliedIDs(result))
}

func TestEvaluate_DefaultDeny(t *testing.T) {
	store := newStore(t, []*types.Policy{
		{
			ID: "payout-only", Name: "Payout only", Effect: types.EffectAllow,
			Target: types.Target{ResourceTypes: []string{"payout"}},
		},
	})
	e := newEngine(t, store, Options{})

	result := e.Evaluate(context.Background(), adminContext())

	assert.Equal(t, types.EffectDeny, result.Decision)
	assert.NotNil(t, result.AppliedPolicies)
	assert.Empty(t, result.AppliedPolicies)
	assert.Nil(t, result.Error)
}

func TestEvaluate_NoPolicySet(t *testing.T) {
	e := newEngine(t, newStore(t, nil), Options{})

	result := e.Evaluate(context.Background(), adminContext())

	assert.Equal(t, types.EffectDeny, result.Decision)
	require.NotNil(t, result.Error)
	assert.Equal(t, types.ErrCodeNoPolicySet, result.Error.Code)
}

func TestEvaluate_ExpressionErrorFailsClosed(t *testing.T) {
	store := newStore(t, []*types.Policy{
		{ID: "allow-all", Name: "Allow all", Effect: types.EffectAllow},
		{
			ID: "department-check", Name: "Department check", Effect: types.EffectDeny,
			Expression: `subject.department == "fraud"`,
		},
	})
	e := newEngine(t, store, Options{})

	// department is absent, so the expression cannot be evaluated
	result := e.Evaluate(context.Background(), adminContext())

	assert.Equal(t, types.EffectDeny, result.Decision)
	require.NotNil(t, result.Error)
	assert.Equal(t, types.ErrCodeExpression, result.Error.Code)
	assert.Contains(t, result.Error.Message, "department-check")

	failed := findApplied(t, result, "department-check")
	assert.False(t, failed.Matched)
	assert.Contains(t, failed.Reason, "expression error")

	ok, err := e.Check(context.Background(), adminContext())
	assert.False(t, ok)
	assert.Equal(t, types.ErrCodeExpression, policy.ErrorCode(err))
}

func TestEvaluate_FailingAllowExpressionDenies(t *testing.T) {
	store := newStore(t, []*types.Policy{
		{ID: "allow-all", Name: "Allow all", Effect: types.EffectAllow},
		{
			ID: "fraud-desk", Name: "Fraud desk", Effect: types.EffectAllow,
			Expression: `subject.department == "fraud"`,
		},
	})
	e := newEngine(t, store, Options{})

	result := e.Evaluate(context.Background(), adminContext())

	assert.Equal(t, types.EffectDeny, result.Decision)
	require.NotNil(t, result.Error)
	assert.Equal(t, types.ErrCodeExpression, result.Error.Code)
	assert.True(t, findApplied(t, result, "allow-all").Matched)
	assert.False(t, findApplied(t, result, "fraud-desk").Matched)

	ok, err := e.Check(context.Background(), adminContext())
	assert.False(t, ok)
	assert.Equal(t, types.ErrCodeExpression, policy.ErrorCode(err))
	assert.Equal(t, result.IsAllowed(), ok)
}

func TestEvaluate_Timeout(t *testing.T) {
	e := defaultEngine(t)

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	result := e.Evaluate(ctx, adminContext())

	assert.Equal(t, types.EffectDeny, result.Decision)
	assert.Empty(t, result.AppliedPolicies)
	require.NotNil(t, result.Error)
	assert.Equal(t, types.ErrCodeEvaluationTimeout, result.Error.Code)
}

func TestEvaluate_Canceled(t *testing.T) {
	e := defaultEngine(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := e.Evaluate(ctx, adminContext())

	assert.Equal(t, types.EffectDeny, result.Decision)
	require.NotNil(t, result.Error)
	assert.Equal(t, types.ErrCodeEvaluationCanceled, result.Error.Code)
}

func TestEvaluate_DoesNotMutateInput(t *testing.T) {
	e := defaultEngine(t)
	c := adminContext()

	result := e.Evaluate(context.Background(), c)
	*result.Context.Subject.TenantID = "changed"

	assert.Equal(t, "tenant-123", *c.Subject.TenantID)
}

func TestEvaluate_Cache(t *testing.T) {
	store := newStore(t, policy.DefaultPolicies())
	m := metrics.NewPrometheusMetrics("test")
	e := newEngine(t, store, Options{Cache: cache.NewLRU(100, time.Minute), Metrics: m})

	first := e.Evaluate(context.Background(), adminContext())
	assert.False(t, first.Cached)

	second := e.Evaluate(context.Background(), adminContext())
	assert.True(t, second.Cached)
	assert.Equal(t, first.Decision, second.Decision)
	assert.Equal(t, first.AppliedPolicies, second.AppliedPolicies)
	assert.Equal(t, first.PolicyVersion, second.PolicyVersion)
	assert.Equal(t, first.Context, second.Context)

	stats, ok := e.CacheStats()
	require.True(t, ok)
	assert.Equal(t, uint64(1), stats.Hits)

	// a new snapshot version misses
	_, err := store.Put(&types.Policy{ID: "extra", Name: "Extra", Effect: types.EffectAllow}, "test")
	require.NoError(t, err)
	third := e.Evaluate(context.Background(), adminContext())
	assert.False(t, third.Cached)
	assert.Equal(t, int64(2), third.PolicyVersion)

	allowed, _ := m.Decisions()
	assert.Equal(t, uint64(3), allowed)
}

func TestEngine_CacheLevels(t *testing.T) {
	store := newStore(t, policy.DefaultPolicies())

	e := newEngine(t, store, Options{Cache: cache.NewLRU(10, time.Minute)})
	_, ok := e.CacheLevels()
	assert.False(t, ok, "a single-level cache has no levels")

	e = newEngine(t, store, Options{Cache: cache.NewHybridCache(cache.HybridConfig{L1Capacity: 10}, nil)})
	e.Evaluate(context.Background(), adminContext())
	e.Evaluate(context.Background(), adminContext())

	levels, ok := e.CacheLevels()
	require.True(t, ok)
	assert.Equal(t, cache.Levels{L1Hits: 1, Misses: 1}, levels)
}

func TestEvaluate_ErrorsAreNotCached(t *testing.T) {
	e := newEngine(t, newStore(t, policy.DefaultPolicies()), Options{Cache: cache.NewLRU(100, time.Minute)})
	c := adminContext()
	c.Subject.ID = ""

	e.Evaluate(context.Background(), c)
	e.Evaluate(context.Background(), c)

	stats, _ := e.CacheStats()
	assert.Equal(t, 0, stats.Size)
}

func TestEvaluate_ConcurrentReplace(t *testing.T) {
	setA := []*types.Policy{
		{ID: "a-1", Name: "A1", Effect: types.EffectAllow},
		{ID: "a-2", Name: "A2", Effect: types.EffectAllow},
	}
	setB := []*types.Policy{
		{ID: "b-1", Name: "B1", Effect: types.EffectDeny},
		{ID: "b-2", Name: "B2", Effect: types.EffectAllow},
		{ID: "b-3", Name: "B3", Effect: types.EffectAllow},
	}

	store := newStore(t, nil)
	e := newEngine(t, store, Options{})

	var mu sync.Mutex
	expected := map[int64][]string{}
	publish := func(set []*types.Policy) {
		snap, err := store.Replace(set, "swap")
		require.NoError(t, err)
		ids := make([]string, 0, len(set))
		for _, p := range set {
			ids = append(ids, p.ID)
		}
		mu.Lock()
		expected[snap.Version()] = ids
		mu.Unlock()
	}
	publish(setA)

	stop := make(chan struct{})
	var writer sync.WaitGroup
	writer.Add(1)
	go func() {
		defer writer.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			if i%2 == 0 {
				publish(setB)
			} else {
				publish(setA)
			}
		}
	}()

	var readers sync.WaitGroup
	results := make(chan *types.EvaluationResult, 800)
	for r := 0; r < 8; r++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for i := 0; i < 100; i++ {
				results <- e.Evaluate(context.Background(), adminContext())
			}
		}()
	}
	readers.Wait()
	close(stop)
	writer.Wait()
	close(results)

	for result := range results {
		require.Nil(t, result.Error)
		mu.Lock()
		want := expected[result.PolicyVersion]
		mu.Unlock()
		got := appliedIDs(result)
		sort.Strings(got)
		assert.Equal(t, want, got, "version %d", result.PolicyVersion)
		if len(got) == 3 {
			assert.Equal(t, types.EffectDeny, result.Decision)
		} else {
			assert.Equal(t, types.EffectAllow, result.Decision)
		}
	}
}

func TestEvaluateBatch(t *testing.T) {
	e := defaultEngine(t)

	denied := adminContext()
	denied.Resource.TenantID = types.String("tenant-456")
	invalid := adminContext()
	invalid.Action.Action = ""

	results := e.EvaluateBatch(context.Background(), []types.AttributeContext{adminContext(), denied, invalid})

	require.Len(t, results, 3)
	assert.Equal(t, types.EffectAllow, results[0].Decision)
	assert.Equal(t, types.EffectDeny, results[1].Decision)
	assert.Equal(t, types.ErrCodeInvalidContext, results[2].Error.Code)

	// after Close batches still complete inline
	e.Close()
	results = e.EvaluateBatch(context.Background(), []types.AttributeContext{adminContext()})
	assert.Equal(t, types.EffectAllow, results[0].Decision)
}

type recordingWriter struct {
	mu     sync.Mutex
	events []audit.Event
}

func (w *recordingWriter) Write(ev audit.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = append(w.events, ev)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func TestEvaluate_AuditAndPolicyChange(t *testing.T) {
	w := &recordingWriter{}
	logger := audit.NewWriterLogger(w, audit.Config{BufferSize: 10, FlushInterval: time.Hour}, zap.NewNop())
	store := newStore(t, policy.DefaultPolicies())
	e := newEngine(t, store, Options{Audit: logger, Cache: cache.NewLRU(10, time.Minute)})
	store.Subscribe(e.OnPolicyChange)

	actor := &audit.Actor{ID: "ops-1", Email: "ops@laundrydesk.io"}
	ctx := audit.ContextWithActor(audit.ContextWithRequestID(context.Background(), "req-7"), actor)

	e.Evaluate(ctx, adminContext())
	_, err := store.Delete("admin-full-access", "remove admin")
	require.NoError(t, err)
	require.NoError(t, logger.Close())

	require.Len(t, w.events, 2)

	decision, ok := w.events[0].(*audit.DecisionEvent)
	require.True(t, ok)
	assert.Equal(t, "ALLOW", decision.Decision)
	assert.Equal(t, actor, decision.Actor)
	assert.Equal(t, "req-7", decision.RequestID)
	assert.Equal(t, "tenant-123", decision.TenantID)
	assert.Equal(t, "order-9", decision.ResourceID)
	assert.Equal(t, []string{"admin-full-access"}, decision.MatchedPolicies)

	reload, ok := w.events[1].(*audit.PolicyReloadEvent)
	require.True(t, ok)
	assert.Equal(t, "deleted", reload.Operation)
	assert.Equal(t, int64(2), reload.Version)
	assert.Equal(t, []string{"admin-full-access"}, reload.PolicyIDs)

	stats, _ := e.CacheStats()
	assert.Equal(t, 0, stats.Size)
}
