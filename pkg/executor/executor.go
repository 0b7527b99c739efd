// Package executor implements the step executor abstraction and its
// three concrete executors (script, agent, condition) 
// The abstract contract — execute/validate/canExecute plus
// before/after/error hooks — is adapted from the teacher's
// pkg/workflow/executor.go dispatch shape, generalized into a registry
// of pluggable Executor implementations instead of one monolithic type
// switch.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/flowengine/flowengine/pkg/retry"
	"github.com/flowengine/flowengine/pkg/state"
	"github.com/flowengine/flowengine/pkg/wfcontext"
)

// StepType identifies which executor handles a step.
type StepType string

const (
	StepTypeScript    StepType = "script"
	StepTypeAgent     StepType = "agent"
	StepTypeCondition StepType = "condition"
)

// Step is the runner's view of one DAG node, handed to an Executor.
type Step struct {
	ID              string
	Name            string
	Type            StepType
	Config          map[string]interface{}
	DependsOn       []string
	Condition       string
	Parallel        ParallelOptions
	ContinueOnError bool
	Timeout         time.Duration
	Retry           *retry.Policy
	Rollback        *state.RollbackConfig
}

// ParallelOptions is Step.parallel field: whether the step
// participates in concurrent dispatch, which named resource token it
// needs, and whether its failure should be isolated from the rest of
// its group.
type ParallelOptions struct {
	Enabled       bool
	Resource      string
	IsolateErrors bool
}

// ValidationResult is returned by Executor.Validate.
type ValidationResult struct {
	Valid  bool
	Errors []string
}

// Output is what a step execution produces; Executor implementations
// populate the fields relevant to their step type.
type Output struct {
	Data            interface{}
	ConditionResult *bool
	TriggeredSteps  []string
	EvaluationError string
}

// Executor is the abstract contract names: execute, validate,
// canExecute, plus lifecycle hooks invoked by executeWithHooks.
type Executor interface {
	Execute(ctx context.Context, step Step, wfCtx *wfcontext.Context) (Output, error)
	Validate(step Step) ValidationResult
	CanExecute(step Step) bool
}

// Hooks are the template method's extension points. Any may be nil.
type Hooks struct {
	BeforeExecute func(step Step)
	AfterExecute  func(step Step, output Output, duration time.Duration)
	OnError       func(step Step, err error)
}

// ExecuteWithHooks is the template method names: it wraps an
// Executor.Execute call with the before/after/error hook sequence and
// timing, regardless of executor type.
func ExecuteWithHooks(ctx context.Context, ex Executor, step Step, wfCtx *wfcontext.Context, hooks Hooks) (Output, error) {
	if !ex.CanExecute(step) {
		return Output{}, fmt.Errorf("executor cannot handle step type %q", step.Type)
	}
	if vr := ex.Validate(step); !vr.Valid {
		err := fmt.Errorf("step %s failed validation: %v", step.ID, vr.Errors)
		if hooks.OnError != nil {
			hooks.OnError(step, err)
		}
		return Output{}, err
	}

	if hooks.BeforeExecute != nil {
		hooks.BeforeExecute(step)
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if step.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, step.Timeout)
		defer cancel()
	}

	start := time.Now()
	output, err := ex.Execute(runCtx, step, wfCtx)
	duration := time.Since(start)

	if err != nil {
		if hooks.OnError != nil {
			hooks.OnError(step, err)
		}
		return output, err
	}

	if hooks.AfterExecute != nil {
		hooks.AfterExecute(step, output, duration)
	}
	return output, nil
}

// StepOutputValue normalizes an Output's Data into the shape
// {{steps.<id>.<path>}} interpolation can walk (resolve.go's fieldInto
// only descends into map[string]any/map[string]string, never struct
// fields). ScriptResult and AgentResult become maps exposing an
// "output" property per spec §4.2's steps.<id>.output path; a
// condition step's result is exposed the same way it documents
// returning ("conditionResult"/"triggeredSteps"); anything else passes
// through unchanged.
func StepOutputValue(out Output) any {
	switch v := out.Data.(type) {
	case ScriptResult:
		return map[string]any{
			"output":     v.Stdout,
			"stdout":     v.Stdout,
			"stderr":     v.Stderr,
			"exitCode":   v.ExitCode,
			"durationMs": v.DurationMs,
		}
	case AgentResult:
		return map[string]any{
			"output":     v.FinalResponse,
			"rounds":     v.Rounds,
			"toolCalls":  v.ToolCalls,
			"tokensUsed": v.TokensUsed,
		}
	}
	if out.ConditionResult != nil {
		return map[string]any{
			"conditionResult": *out.ConditionResult,
			"triggeredSteps":  out.TriggeredSteps,
			"evaluationError": out.EvaluationError,
		}
	}
	return out.Data
}

// Registry maps step types to their executor, letting the runner stay
// agnostic of concrete executor implementations.
type Registry struct {
	executors map[StepType]Executor
}

// NewRegistry builds an empty executor registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[StepType]Executor)}
}

// Register associates a step type with its executor.
func (r *Registry) Register(t StepType, ex Executor) {
	r.executors[t] = ex
}

// Get returns the executor registered for t, or an error if none exists.
func (r *Registry) Get(t StepType) (Executor, error) {
	ex, ok := r.executors[t]
	if !ok {
		return nil, fmt.Errorf("no executor registered for step type %q", t)
	}
	return ex, nil
}
