// Package cel provides CEL compilation and evaluation for policy expressions
package cel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	celtypes "github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"

	"github.com/laundrydesk/abac-pdp/pkg/types"
)

// interruptCheckFrequency is how many comprehension iterations run between
// checks of the evaluation context.
const interruptCheckFrequency = 64

// WriteActions are the actions isWrite() treats as mutating
var WriteActions = []string{"create", "update", "delete", "approve", "refund", "payout", "suspend"}

// Engine compiles policy expressions and caches the programs
type Engine struct {
	env      *cel.Env
	programs sync.Map // map[string]cel.Program
}

// NewEngine creates a CEL environment exposing the four attribute
// categories as maps plus the marketplace helper functions.
func NewEngine() (*Engine, error) {
	mapType := cel.MapType(cel.StringType, cel.DynType)
	env, err := cel.NewEnv(
		cel.Variable(types.CategorySubject, mapType),
		cel.Variable(types.CategoryAction, mapType),
		cel.Variable(types.CategoryResource, mapType),
		cel.Variable(types.CategoryEnvironment, mapType),

		// sameTenant(subject, resource) -> bool
		cel.Function("sameTenant",
			cel.Overload("sameTenant_map_map",
				[]*cel.Type{mapType, mapType},
				cel.BoolType,
				cel.BinaryBinding(sameTenant),
			),
		),
		// inList(value, list) -> bool
		cel.Function("inList",
			cel.Overload("inList_string_list",
				[]*cel.Type{cel.StringType, cel.ListType(cel.StringType)},
				cel.BoolType,
				cel.BinaryBinding(inList),
			),
		),
		// isWrite(action) -> bool
		cel.Function("isWrite",
			cel.Overload("isWrite_string",
				[]*cel.Type{cel.StringType},
				cel.BoolType,
				cel.UnaryBinding(isWrite),
			),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{env: env}, nil
}

// Compile compiles an expression and caches the program
func (e *Engine) Compile(expr string) (cel.Program, error) {
	if prog, ok := e.programs.Load(expr); ok {
		return prog.(cel.Program), nil
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL compilation failed: %w", issues.Err())
	}

	prog, err := e.env.Program(ast, cel.InterruptCheckFrequency(interruptCheckFrequency))
	if err != nil {
		return nil, fmt.Errorf("CEL program creation failed: %w", err)
	}

	e.programs.Store(expr, prog)
	return prog, nil
}

// Evaluate runs a compiled program against an activation built by
// Activation. Evaluation stops when ctx is done.
func (e *Engine) Evaluate(ctx context.Context, prog cel.Program, vars map[string]interface{}) (bool, error) {
	result, _, err := prog.ContextEval(ctx, vars)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		return false, fmt.Errorf("CEL evaluation failed: %w", err)
	}

	if b, ok := result.Value().(bool); ok {
		return b, nil
	}
	return false, errors.New("CEL expression did not return boolean")
}

// EvaluateExpression compiles and evaluates an expression in one call
func (e *Engine) EvaluateExpression(ctx context.Context, expr string, attrs *types.AttributeContext) (bool, error) {
	prog, err := e.Compile(expr)
	if err != nil {
		return false, err
	}
	return e.Evaluate(ctx, prog, Activation(attrs))
}

// Activation converts an attribute context into CEL variables
func Activation(attrs *types.AttributeContext) map[string]interface{} {
	return attrs.ToMap()
}

// Retain drops compiled programs whose expression is not in keep and
// returns how many were dropped
func (e *Engine) Retain(keep map[string]struct{}) int {
	dropped := 0
	e.programs.Range(func(key, _ interface{}) bool {
		if _, ok := keep[key.(string)]; !ok {
			e.programs.Delete(key)
			dropped++
		}
		return true
	})
	return dropped
}

func sameTenant(lhs, rhs ref.Val) ref.Val {
	subject, ok := lhs.(traits.Mapper)
	if !ok {
		return celtypes.False
	}
	resource, ok := rhs.(traits.Mapper)
	if !ok {
		return celtypes.False
	}
	key := celtypes.String("tenant_id")
	st, found := subject.Find(key)
	if !found {
		return celtypes.False
	}
	rt, found := resource.Find(key)
	if !found {
		return celtypes.False
	}
	return st.Equal(rt)
}

func inList(lhs, rhs ref.Val) ref.Val {
	list, ok := rhs.(traits.Lister)
	if !ok {
		return celtypes.False
	}
	return list.Contains(lhs)
}

func isWrite(arg ref.Val) ref.Val {
	action, ok := arg.Value().(string)
	if !ok {
		return celtypes.False
	}
	for _, w := range WriteActions {
		if w == action {
			return celtypes.True
		}
	}
	return celtypes.False
}
