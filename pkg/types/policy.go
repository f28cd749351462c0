package types

import (
	"fmt"
	"strings"
)

// Effect represents the outcome a policy asks for, and the final decision
type Effect string

const (
	EffectAllow Effect = "ALLOW"
	EffectDeny  Effect = "DENY"
)

// Valid reports whether e is ALLOW or DENY
func (e Effect) Valid() bool {
	return e == EffectAllow || e == EffectDeny
}

// ParseEffect accepts ALLOW/DENY in any case
func ParseEffect(s string) (Effect, error) {
	e := Effect(strings.ToUpper(strings.TrimSpace(s)))
	if !e.Valid() {
		return "", fmt.Errorf("invalid effect %q (must be ALLOW or DENY)", s)
	}
	return e, nil
}

// Wildcard matches any role, action or resource type in a Target
const Wildcard = "*"

// Operator is a condition comparison operator
type Operator string

const (
	OpEquals       Operator = "eq"
	OpNotEquals    Operator = "neq"
	OpGreater      Operator = "gt"
	OpGreaterEqual Operator = "gte"
	OpLess         Operator = "lt"
	OpLessEqual    Operator = "lte"
	OpIn           Operator = "in"
	OpNotIn        Operator = "not_in"
	OpPresent      Operator = "present"
	OpAbsent       Operator = "absent"
)

// Operators lists every supported operator
var Operators = []Operator{
	OpEquals, OpNotEquals, OpGreater, OpGreaterEqual, OpLess, OpLessEqual,
	OpIn, OpNotIn, OpPresent, OpAbsent,
}

// Valid reports whether op is a supported operator
func (op Operator) Valid() bool {
	for _, o := range Operators {
		if o == op {
			return true
		}
	}
	return false
}

// Unary reports whether op takes no operand
func (op Operator) Unary() bool {
	return op == OpPresent || op == OpAbsent
}

// Ordered reports whether op compares numbers
func (op Operator) Ordered() bool {
	switch op {
	case OpGreater, OpGreaterEqual, OpLess, OpLessEqual:
		return true
	}
	return false
}

// Target selects the requests a policy is evaluated for. An empty list or
// one containing "*" matches anything.
type Target struct {
	Roles         []string `json:"roles,omitempty" yaml:"roles,omitempty"`
	Actions       []string `json:"actions,omitempty" yaml:"actions,omitempty"`
	ResourceTypes []string `json:"resourceTypes,omitempty" yaml:"resourceTypes,omitempty"`
}

// Applies reports whether the target selects the given context
func (t *Target) Applies(c *AttributeContext) bool {
	return matchesAny(t.Roles, c.Subject.Role) &&
		matchesAny(t.Actions, c.Action.Action) &&
		matchesAny(t.ResourceTypes, c.Resource.ResourceType)
}

func matchesAny(list []string, value string) bool {
	if len(list) == 0 {
		return true
	}
	for _, v := range list {
		if v == Wildcard || v == value {
			return true
		}
	}
	return false
}

// Condition compares one attribute against a literal Value or against
// another attribute named by Ref.
type Condition struct {
	Attribute string      `json:"attribute" yaml:"attribute"`
	Operator  Operator    `json:"operator" yaml:"operator"`
	Value     interface{} `json:"value,omitempty" yaml:"value,omitempty"`
	Ref       string      `json:"ref,omitempty" yaml:"ref,omitempty"`
}

// Policy is a named rule pairing a target and conditions with an effect
type Policy struct {
	ID          string            `json:"policyId" yaml:"id"`
	Name        string            `json:"policyName" yaml:"name"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Effect      Effect            `json:"effect" yaml:"effect"`
	Priority    int               `json:"priority,omitempty" yaml:"priority,omitempty"`
	Target      Target            `json:"target" yaml:"target"`
	Conditions  []Condition       `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Expression  string            `json:"expression,omitempty" yaml:"expression,omitempty"`
	Obligations AutomationActions `json:"obligations,omitempty" yaml:"obligations,omitempty"`
	Disabled    bool              `json:"disabled,omitempty" yaml:"disabled,omitempty"`
}

// Clone returns a copy that shares no slices with p
func (p *Policy) Clone() *Policy {
	out := *p
	out.Target = Target{
		Roles:         append([]string(nil), p.Target.Roles...),
		Actions:       append([]string(nil), p.Target.Actions...),
		ResourceTypes: append([]string(nil), p.Target.ResourceTypes...),
	}
	out.Conditions = nil
	for _, c := range p.Conditions {
		c.Value = cloneValue(c.Value)
		out.Conditions = append(out.Conditions, c)
	}
	out.Obligations = append(AutomationActions(nil), p.Obligations...)
	return &out
}

// cloneValue copies the list operands of in/not_in
func cloneValue(v interface{}) interface{} {
	switch list := v.(type) {
	case []interface{}:
		out := make([]interface{}, len(list))
		for i, item := range list {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), list...)
	case []float64:
		return append([]float64(nil), list...)
	}
	return v
}

// Less orders policies for evaluation: priority descending, then id
func (p *Policy) Less(other *Policy) bool {
	if p.Priority != other.Priority {
		return p.Priority > other.Priority
	}
	return p.ID < other.ID
}
