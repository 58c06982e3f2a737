package tool

import (
	"context"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/seclens/seclens/internal/domain/delegation"
)

// Guard expression safety limits.
const (
	// maxGuardLength is the maximum allowed length for guard expressions.
	maxGuardLength = 1024
	// maxCostBudget is the CEL runtime cost limit.
	maxCostBudget = 100_000
	// guardEvalTimeout bounds a single guard evaluation.
	guardEvalTimeout = 5 * time.Second
	// interruptCheckFreq is how often (in comprehension iterations)
	// context cancellation is checked.
	interruptCheckFreq = 100
)

// GuardEvaluator compiles and evaluates per-tool CEL guard expressions.
// Guards see the execution context and the validated arguments:
//
//	delegated    bool
//	is_admin     bool
//	is_approver  bool
//	permissions  list(string)
//	args         map(string, dyn)
type GuardEvaluator struct {
	env *cel.Env
}

// NewGuardEvaluator creates a CEL environment for guard evaluation.
func NewGuardEvaluator() (*GuardEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("delegated", cel.BoolType),
		cel.Variable("is_admin", cel.BoolType),
		cel.Variable("is_approver", cel.BoolType),
		cel.Variable("permissions", cel.ListType(cel.StringType)),
		cel.Variable("args", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create guard environment: %w", err)
	}
	return &GuardEvaluator{env: env}, nil
}

// Compile parses and type-checks a guard expression.
// Called at tool registration so malformed guards fail at startup.
func (g *GuardEvaluator) Compile(expr string) (cel.Program, error) {
	if expr == "" {
		return nil, fmt.Errorf("guard expression is empty")
	}
	if len(expr) > maxGuardLength {
		return nil, fmt.Errorf("guard expression too long: %d characters (max %d)", len(expr), maxGuardLength)
	}

	ast, issues := g.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compilation failed: %w", issues.Err())
	}

	prg, err := g.env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
		cel.InterruptCheckFrequency(interruptCheckFreq),
	)
	if err != nil {
		return nil, fmt.Errorf("program creation failed: %w", err)
	}
	return prg, nil
}

// Evaluate runs a compiled guard against the execution context and
// arguments. Returns true when the guard allows the invocation.
func (g *GuardEvaluator) Evaluate(prg cel.Program, execCtx *delegation.ExecutionContext, args map[string]any) (bool, error) {
	perms := execCtx.EffectivePermissions.Slice()
	permStrings := make([]string, len(perms))
	for i, p := range perms {
		permStrings[i] = string(p)
	}

	activation := map[string]any{
		"delegated":   execCtx.Delegated(),
		"is_admin":    execCtx.IsAdmin,
		"is_approver": execCtx.IsApprover,
		"permissions": permStrings,
		"args":        args,
	}

	ctx, cancel := context.WithTimeout(context.Background(), guardEvalTimeout)
	defer cancel()

	result, _, err := prg.ContextEval(ctx, activation)
	if err != nil {
		return false, fmt.Errorf("guard evaluation failed: %w", err)
	}

	allowed, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("guard did not return a boolean, got %T", result.Value())
	}
	return allowed, nil
}
