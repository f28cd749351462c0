package policy

import (
	"fmt"
	"regexp"

	"github.com/samber/oops"

	"github.com/laundrydesk/abac-pdp/internal/cel"
	"github.com/laundrydesk/abac-pdp/pkg/types"
)

var policyIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// Validator checks policy structure, condition operands and expressions
type Validator struct {
	cel *cel.Engine
}

// NewValidator creates a validator. A nil engine skips expression checks.
func NewValidator(celEngine *cel.Engine) *Validator {
	return &Validator{cel: celEngine}
}

// ValidatePolicy validates the structure and syntax of a policy
func (v *Validator) ValidatePolicy(policy *types.Policy) error {
	if policy == nil {
		return oops.Code(CodePolicyInvalid).Errorf("policy cannot be nil")
	}
	if err := v.validate(policy); err != nil {
		return oops.Code(CodePolicyInvalid).With("policy_id", policy.ID).Wrapf(err, "invalid policy %q", policy.ID)
	}
	return nil
}

func (v *Validator) validate(policy *types.Policy) error {
	if policy.ID == "" {
		return fmt.Errorf("policyId is required")
	}
	if !policyIDPattern.MatchString(policy.ID) {
		return fmt.Errorf("policyId must be lowercase alphanumeric with '.', '-' or '_'")
	}
	if policy.Name == "" {
		return fmt.Errorf("policyName is required")
	}
	if !policy.Effect.Valid() {
		return fmt.Errorf("effect must be ALLOW or DENY, got %q", policy.Effect)
	}

	for _, list := range [][]string{policy.Target.Roles, policy.Target.Actions, policy.Target.ResourceTypes} {
		for _, item := range list {
			if item == "" {
				return fmt.Errorf("target entries cannot be empty")
			}
		}
	}

	for i, cond := range policy.Conditions {
		if err := validateCondition(cond); err != nil {
			return fmt.Errorf("condition %d: %w", i, err)
		}
	}

	if policy.Expression != "" && v.cel != nil {
		if _, err := v.cel.Compile(policy.Expression); err != nil {
			return fmt.Errorf("expression: %w", err)
		}
	}

	return policy.Obligations.Validate()
}

func validateCondition(cond types.Condition) error {
	attrType, ok := types.AttributeType(cond.Attribute)
	if !ok {
		return fmt.Errorf("unknown attribute %q", cond.Attribute)
	}
	if !cond.Operator.Valid() {
		return fmt.Errorf("unknown operator %q", cond.Operator)
	}

	hasValue := cond.Value != nil
	hasRef := cond.Ref != ""

	if cond.Operator.Unary() {
		if hasValue || hasRef {
			return fmt.Errorf("operator %s takes no value or ref", cond.Operator)
		}
		return nil
	}
	if hasValue == hasRef {
		return fmt.Errorf("operator %s needs exactly one of value or ref", cond.Operator)
	}

	if hasRef {
		refType, ok := types.AttributeType(cond.Ref)
		if !ok {
			return fmt.Errorf("unknown ref attribute %q", cond.Ref)
		}
		if cond.Operator == types.OpIn || cond.Operator == types.OpNotIn {
			return fmt.Errorf("operator %s needs a list value, not a ref", cond.Operator)
		}
		if refType != attrType {
			return fmt.Errorf("cannot compare %s %s with %s %s", attrType, cond.Attribute, refType, cond.Ref)
		}
		if cond.Operator.Ordered() && attrType != types.AttrNumber {
			return fmt.Errorf("operator %s needs number attributes", cond.Operator)
		}
		return nil
	}

	switch cond.Operator {
	case types.OpIn, types.OpNotIn:
		list, ok := cond.Value.([]interface{})
		if !ok || len(list) == 0 {
			return fmt.Errorf("operator %s needs a non-empty list value", cond.Operator)
		}
		for _, item := range list {
			if err := checkLiteral(attrType, item); err != nil {
				return err
			}
		}
		return nil
	}

	if cond.Operator.Ordered() && attrType != types.AttrNumber {
		return fmt.Errorf("operator %s needs a number attribute", cond.Operator)
	}
	return checkLiteral(attrType, cond.Value)
}

func checkLiteral(attrType string, value interface{}) error {
	switch attrType {
	case types.AttrNumber:
		if _, ok := types.ToFloat(value); ok {
			return nil
		}
	case types.AttrBool:
		if _, ok := value.(bool); ok {
			return nil
		}
	case types.AttrString:
		if _, ok := value.(string); ok {
			return nil
		}
	}
	return fmt.Errorf("value %v is not a %s", value, attrType)
}
