package engine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/laundrydesk/abac-pdp/pkg/types"
)

// phrases describes each operator when the condition holds and when it fails
var phrases = map[types.Operator][2]string{
	types.OpEquals:       {"equals", "does not equal"},
	types.OpNotEquals:    {"does not equal", "equals"},
	types.OpGreater:      {"is greater than", "is not greater than"},
	types.OpGreaterEqual: {"is at least", "is less than"},
	types.OpLess:         {"is less than", "is not less than"},
	types.OpLessEqual:    {"is at most", "is greater than"},
	types.OpIn:           {"is one of", "is not one of"},
	types.OpNotIn:        {"is not one of", "is one of"},
}

// evaluateCondition reports whether cond holds for c and a sentence
// explaining the outcome. Conditions over absent attributes never hold,
// except "absent".
func evaluateCondition(c *types.AttributeContext, cond types.Condition) (bool, string) {
	value, present := c.Lookup(cond.Attribute)

	switch cond.Operator {
	case types.OpPresent:
		if present {
			return true, cond.Attribute + " is present"
		}
		return false, cond.Attribute + " is not present"
	case types.OpAbsent:
		if present {
			return false, cond.Attribute + " is present"
		}
		return true, cond.Attribute + " is not present"
	}

	if !present {
		return false, cond.Attribute + " is not present"
	}

	operand := cond.Value
	operandText := formatValue(cond.Value)
	if cond.Ref != "" {
		refValue, ok := c.Lookup(cond.Ref)
		if !ok {
			return false, cond.Ref + " is not present"
		}
		operand = refValue
		operandText = fmt.Sprintf("%s (%s)", cond.Ref, formatValue(refValue))
	}

	holds, ok := compare(cond.Operator, value, operand)
	if !ok {
		if cond.Operator.Ordered() {
			if _, isNum := types.ToFloat(value); !isNum {
				return false, cond.Attribute + " is not a number"
			}
			return false, operandText + " is not a number"
		}
		return false, fmt.Sprintf("%s cannot be compared with %s", cond.Attribute, operandText)
	}

	phrase := phrases[cond.Operator][1]
	if holds {
		phrase = phrases[cond.Operator][0]
	}
	subject := cond.Attribute
	if cond.Ref != "" {
		subject = fmt.Sprintf("%s (%s)", cond.Attribute, formatValue(value))
	}
	return holds, fmt.Sprintf("%s %s %s", subject, phrase, operandText)
}

// compare applies op; ok is false when the operands have incompatible types
func compare(op types.Operator, lhs, rhs interface{}) (holds bool, ok bool) {
	switch op {
	case types.OpEquals:
		return equalValues(lhs, rhs), true
	case types.OpNotEquals:
		return !equalValues(lhs, rhs), true
	case types.OpIn, types.OpNotIn:
		list, isList := rhs.([]interface{})
		if !isList {
			return false, false
		}
		found := false
		for _, item := range list {
			if equalValues(lhs, item) {
				found = true
				break
			}
		}
		return found == (op == types.OpIn), true
	}

	l, lok := types.ToFloat(lhs)
	r, rok := types.ToFloat(rhs)
	if !lok || !rok {
		return false, false
	}
	switch op {
	case types.OpGreater:
		return l > r, true
	case types.OpGreaterEqual:
		return l >= r, true
	case types.OpLess:
		return l < r, true
	case types.OpLessEqual:
		return l <= r, true
	}
	return false, false
}

func equalValues(a, b interface{}) bool {
	if af, ok := types.ToFloat(a); ok {
		bf, ok := types.ToFloat(b)
		return ok && af == bf
	}
	return a == b
}

func formatValue(v interface{}) string {
	switch x := v.(type) {
	case string:
		return strconv.Quote(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case []interface{}:
		parts := make([]string, len(x))
		for i, item := range x {
			parts[i] = formatValue(item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
	if f, ok := types.ToFloat(v); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}
