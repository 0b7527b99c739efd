package expression

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// ConditionEvaluator evaluates the simple step-level `condition: string`
// gate against a flattened environment map. It is
// deliberately distinct from the condition step's BoolExpr walker
// (pkg/executor): this one is a cached expr-lang program, grounded on
// pkg/workflow/expression/evaluator.go's compile-and-cache pattern.
type ConditionEvaluator struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewConditionEvaluator returns an empty evaluator.
func NewConditionEvaluator() *ConditionEvaluator {
	return &ConditionEvaluator{cache: make(map[string]*vm.Program)}
}

// Evaluate compiles (or reuses a cached compile of) expression and runs it
// against env. An empty expression is "always true".
func (e *ConditionEvaluator) Evaluate(expression string, env map[string]any) (bool, error) {
	if expression == "" {
		return true, nil
	}

	program, err := e.compile(expression, env)
	if err != nil {
		return false, fmt.Errorf("condition %q: %w", expression, err)
	}

	result, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("condition %q: %w", expression, err)
	}

	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q did not evaluate to a boolean", expression)
	}
	return b, nil
}

func (e *ConditionEvaluator) compile(expression string, env map[string]any) (*vm.Program, error) {
	e.mu.RLock()
	if p, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return p, nil
	}
	e.mu.RUnlock()

	program, err := expr.Compile(expression, expr.Env(env), expr.AllowUndefinedVariables(), expr.AsBool())
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[expression] = program
	e.mu.Unlock()
	return program, nil
}

// ClearCache discards every compiled program.
func (e *ConditionEvaluator) ClearCache() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache = make(map[string]*vm.Program)
}

// CacheSize reports how many distinct expressions are currently cached.
func (e *ConditionEvaluator) CacheSize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cache)
}

// EnvFromContext flattens a Context into the map expr-lang evaluates
// against: variables at the top level plus nested steps/env/workflow maps,
// matching the teacher's resolvePath-style flattening in template.go.
func EnvFromContext(ctx *Context) map[string]any {
	env := make(map[string]any, len(ctx.Variables)+3)
	for k, v := range ctx.Variables {
		env[k] = v
	}
	env["variables"] = ctx.Variables
	env["steps"] = ctx.StepOutputs
	envMap := make(map[string]any, len(ctx.Env))
	for k, v := range ctx.Env {
		envMap[k] = v
	}
	env["env"] = envMap
	env["workflow"] = map[string]any{
		"id":            ctx.Workflow.ID,
		"currentStepId": ctx.Workflow.CurrentStepID,
		"startTime":     ctx.Workflow.StartTime,
		"executionTime": ctx.Workflow.ExecutionTime.Milliseconds(),
	}
	return env
}
