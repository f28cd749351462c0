// Package presets provides canned attribute contexts for exercising the
// default marketplace policies
package presets

import (
	"context"
	"sort"

	"github.com/samber/oops"

	"github.com/laundrydesk/abac-pdp/pkg/types"
)

// CodeUnknownPreset is returned for a preset name that does not exist
const CodeUnknownPreset = "UNKNOWN_PRESET"

// Preset is a named scenario and the decision it should produce
type Preset struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Expected    types.Effect           `json:"expected"`
	Context     types.AttributeContext `json:"context"`
}

// Preset names in presentation order
const (
	TenantIsolation = "tenant-isolation"
	FinancialLimits = "financial-limits"
	ReadOnly        = "read-only"
	BusinessHours   = "business-hours"

	// Baseline names the permissive context returned by Reset
	Baseline = "baseline"
)

var order = []string{TenantIsolation, FinancialLimits, ReadOnly, BusinessHours}

var catalog = map[string]struct {
	description string
	expected    types.Effect
	build       func() types.AttributeContext
}{
	TenantIsolation: {
		description: "Support agent views an order that belongs to another tenant",
		expected:    types.EffectDeny,
		build: func() types.AttributeContext {
			c := baseline()
			c.Subject.Role = "support"
			c.Resource.TenantID = types.String("tenant-456")
			return c
		},
	},
	FinancialLimits: {
		description: "Finance user approves a refund above their approval limit",
		expected:    types.EffectDeny,
		build: func() types.AttributeContext {
			c := baseline()
			c.Subject.Role = "finance"
			c.Subject.ApprovalLimit = types.Float(1000)
			c.Action.Action = "approve"
			c.Resource.ResourceType = "refund"
			c.Resource.ID = types.String("refund-77")
			c.Resource.Amount = types.Float(1500)
			return c
		},
	},
	ReadOnly: {
		description: "Read-only operator tries to create an order",
		expected:    types.EffectDeny,
		build: func() types.AttributeContext {
			c := baseline()
			c.Subject.Role = "operator"
			c.Subject.IsReadOnly = types.Bool(true)
			c.Action.Action = "create"
			c.Action.Method = types.String("POST")
			return c
		},
	},
	BusinessHours: {
		description: "Finance user approves a payout outside business hours",
		expected:    types.EffectDeny,
		build: func() types.AttributeContext {
			c := baseline()
			c.Subject.Role = "finance"
			c.Subject.ApprovalLimit = types.Float(5000)
			c.Action.Action = "approve"
			c.Resource.ResourceType = "payout"
			c.Resource.ID = types.String("payout-12")
			c.Resource.Amount = types.Float(200)
			c.Environment.BusinessHours = types.Bool(false)
			c.Environment.CurrentTime = types.String("2024-01-15T22:30:00Z")
			return c
		},
	},
}

// baseline is the permissive context: a tenant admin viewing one of their
// own orders during business hours.
func baseline() types.AttributeContext {
	return types.AttributeContext{
		Subject: types.Subject{
			ID:       "user-1",
			Role:     "admin",
			TenantID: types.String("tenant-123"),
			Email:    types.String("admin@tenant-123.example"),
		},
		Action: types.Action{Action: "view", Method: types.String("GET")},
		Resource: types.Resource{
			ResourceType: "order",
			ID:           types.String("order-1"),
			TenantID:     types.String("tenant-123"),
		},
		Environment: types.Environment{
			CurrentTime:   types.String("2024-01-15T10:00:00Z"),
			BusinessHours: types.Bool(true),
			IncidentMode:  types.Bool(false),
			IPAddress:     types.String("10.0.0.1"),
		},
	}
}

// Names lists the presets in a stable order
func Names() []string {
	return append([]string(nil), order...)
}

// All returns every preset in Names order
func All() []Preset {
	out := make([]Preset, 0, len(order))
	for _, name := range order {
		p, _ := LoadPreset(name)
		out = append(out, p)
	}
	return out
}

// LoadPreset returns a fresh copy of the named scenario
func LoadPreset(name string) (Preset, error) {
	entry, ok := catalog[name]
	if !ok {
		known := Names()
		sort.Strings(known)
		return Preset{}, oops.Code(CodeUnknownPreset).
			With("preset", name).
			With("known", known).
			Errorf("unknown preset %q", name)
	}
	return Preset{
		Name:        name,
		Description: entry.description,
		Expected:    entry.expected,
		Context:     entry.build(),
	}, nil
}

// Reset returns the permissive baseline, which evaluates to ALLOW
func Reset() Preset {
	return Preset{
		Name:        Baseline,
		Description: "Tenant admin views an order of their own tenant",
		Expected:    types.EffectAllow,
		Context:     baseline(),
	}
}

// Evaluator decides an attribute context
type Evaluator interface {
	Evaluate(ctx context.Context, attrs types.AttributeContext) *types.EvaluationResult
}

// Outcome is the result of running one preset
type Outcome struct {
	Preset   string                  `json:"preset"`
	Expected types.Effect            `json:"expected"`
	Result   *types.EvaluationResult `json:"result"`
	Passed   bool                    `json:"passed"`
}

// Run evaluates the named preset, or the baseline, and compares the
// decision with its expectation
func Run(ctx context.Context, ev Evaluator, name string) (*Outcome, error) {
	if name == Baseline {
		return run(ctx, ev, Reset()), nil
	}
	p, err := LoadPreset(name)
	if err != nil {
		return nil, err
	}
	return run(ctx, ev, p), nil
}

// RunAll evaluates every preset plus the baseline
func RunAll(ctx context.Context, ev Evaluator) []*Outcome {
	outcomes := make([]*Outcome, 0, len(order)+1)
	for _, p := range All() {
		outcomes = append(outcomes, run(ctx, ev, p))
	}
	return append(outcomes, run(ctx, ev, Reset()))
}

func run(ctx context.Context, ev Evaluator, p Preset) *Outcome {
	result := ev.Evaluate(ctx, p.Context)
	return &Outcome{
		Preset:   p.Name,
		Expected: p.Expected,
		Result:   result,
		Passed:   result.Decision == p.Expected,
	}
}
