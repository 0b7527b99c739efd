// Package engine is the composition root that wires the loader, runner,
// executor registry, retry manager, rollback, persistence, and hook
// system into the single top-level operation data-flow diagram
// describes: "loader → validated WorkflowDefinition → runner builds DAG
// ... → parallel executor ... → executor interpolates config ... →
// result stored back in context + state → hooks notify observers → on
// completion, persistence writes a final snapshot." Nothing here is
// grounded on a single teacher file; it mirrors how the teacher's own
// cmd/conductor wires internal/controller, pkg/workflow, and
// internal/tracing together at startup.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/flowengine/flowengine/pkg/executor"
	"github.com/flowengine/flowengine/pkg/expression"
	"github.com/flowengine/flowengine/pkg/hooks"
	"github.com/flowengine/flowengine/pkg/parallel"
	"github.com/flowengine/flowengine/pkg/retry"
	"github.com/flowengine/flowengine/pkg/runner"
	"github.com/flowengine/flowengine/pkg/state"
	"github.com/flowengine/flowengine/pkg/wfcontext"
)

// Engine owns every long-lived collaborator a workflow run needs.
type Engine struct {
	Registry    *executor.Registry
	RetryMgr    *retry.Manager
	Condition   *expression.ConditionEvaluator
	Hooks       *hooks.Dispatcher
	Logger      *hooks.Logger
	Persistence *state.Persistence
	Rollback    map[string]state.CustomHandler
}

// New builds an Engine with a script+condition executor registry and
// sensible defaults. Agent-step support is opt-in via RegisterAgentExecutor,
// since its collaborators (ContentGenerator, ToolRegistry, AgentLoader)
// are out of this engine's scope ("Out of scope").
func New(persistenceDir string) (*Engine, error) {
	registry := executor.NewRegistry()
	registry.Register(executor.StepTypeScript, executor.NewScriptExecutor())
	registry.Register(executor.StepTypeCondition, executor.NewConditionExecutor())

	persistence, err := state.NewPersistence(persistenceDir)
	if err != nil {
		return nil, fmt.Errorf("engine: creating persistence dir: %w", err)
	}

	return &Engine{
		Registry:    registry,
		RetryMgr:    retry.NewManager(retry.DefaultBreakerConfig()),
		Condition:   expression.NewConditionEvaluator(),
		Hooks:       hooks.NewDispatcher(0, 5*time.Second),
		Logger:      hooks.NewLogger(nil, nil),
		Persistence: persistence,
		Rollback:    make(map[string]state.CustomHandler),
	}, nil
}

// RegisterAgentExecutor wires an agent-step executor built from the
// caller's own ContentGenerator/ToolRegistry/AgentLoader collaborators.
func (e *Engine) RegisterAgentExecutor(ex executor.Executor) {
	e.Registry.Register(executor.StepTypeAgent, ex)
}

// conditionAdapter bridges expression.ConditionEvaluator into
// parallel.ConditionEvaluator's simpler string+*wfcontext.Context shape.
func (e *Engine) conditionAdapter(expr string, wfCtx *wfcontext.Context) bool {
	if expr == "" {
		return true
	}
	ec := expression.NewContext()
	ec.Variables = wfCtx.GetVariables()
	ec.StepOutputs = wfCtx.GetStepOutputs()
	ec.Env = wfCtx.GetEnvironmentVariables()
	ec.Workflow = expression.WorkflowMeta{ID: wfCtx.GetWorkflowID(), CurrentStepID: wfCtx.GetCurrentStepID()}
	env := expression.EnvFromContext(ec)
	ok, err := e.Condition.Evaluate(expr, env)
	if err != nil {
		return false
	}
	return ok
}

// dispatch builds the parallel.StepDispatcher for one run: resolve the
// executor, run it under retry+circuit-breaker, fire hook events, and
// run rollback actions on a terminal failure.
func (e *Engine) dispatch(ctx context.Context, step executor.Step, wfCtx *wfcontext.Context) (executor.Output, error) {
	ex, err := e.Registry.Get(step.Type)
	if err != nil {
		return executor.Output{}, err
	}

	e.Hooks.Dispatch(ctx, hooks.Payload{Event: hooks.EventStepStart, WorkflowID: wfCtx.GetWorkflowID(), StepID: step.ID})

	policy := retry.DefaultPolicy()
	if step.Retry != nil {
		policy = *step.Retry
	} else {
		policy.MaxAttempts = 1
	}

	execHooks := executor.Hooks{
		AfterExecute: func(s executor.Step, out executor.Output, d time.Duration) {
			wfCtx.SetStepOutput(s.ID, executor.StepOutputValue(out))
		},
	}

	result, _, execErr := e.RetryMgr.Execute(ctx, step.ID, policy, func(attempt int) (any, error) {
		if attempt > 1 {
			e.Hooks.Dispatch(ctx, hooks.Payload{Event: hooks.EventStepRetry, WorkflowID: wfCtx.GetWorkflowID(), StepID: step.ID})
			e.Logger.RecordRetry(step.ID)
		}
		return executor.ExecuteWithHooks(ctx, ex, step, wfCtx, execHooks)
	})

	if execErr != nil {
		if step.Rollback != nil && step.Rollback.Enabled {
			rollbackErrs := state.Rollback(ctx, *step.Rollback, wfCtx, e.Rollback, nil)
			for _, rerr := range rollbackErrs {
				e.Logger.Log(hooks.LogError, "rollback action failed", hooks.LogContext{WorkflowID: wfCtx.GetWorkflowID(), StepID: step.ID}, nil, rerr)
			}
		}
		e.Hooks.Dispatch(ctx, hooks.Payload{Event: hooks.EventStepError, WorkflowID: wfCtx.GetWorkflowID(), StepID: step.ID, Err: execErr})
		return executor.Output{}, execErr
	}

	out, _ := result.(executor.Output)
	e.Hooks.Dispatch(ctx, hooks.Payload{Event: hooks.EventStepComplete, WorkflowID: wfCtx.GetWorkflowID(), StepID: step.ID})
	return out, nil
}

// RunResult bundles the runner's result with the final persisted state,
// for callers that want both.
type RunResult struct {
	Result runner.Result
	State  *state.WorkflowState
}

// Run executes one workflow run end to end: builds a fresh context,
// drives the runner with retry/rollback/hooks wired into dispatch,
// checkpoints after every step transition, and persists a final
// snapshot.
func (e *Engine) Run(ctx context.Context, workflowID string, def *runner.WorkflowDefinition, initialVars map[string]any, env map[string]string) (RunResult, error) {
	wfCtx := wfcontext.New(workflowID, env)
	for k, v := range initialVars {
		wfCtx.SetVariable(k, v)
	}

	groups, err := runner.BuildGroups(def.Steps)
	if err != nil {
		return RunResult{}, err
	}
	var order []string
	for _, g := range groups {
		for _, s := range g {
			order = append(order, s.ID)
		}
	}
	st := state.NewWorkflowState(workflowID, def.Name, def.Version, order)
	st.Definition = toStateDefinition(def)
	st.Status = "running"

	r := &runner.Runner{
		Dispatch:  e.dispatch,
		Condition: e.conditionAdapter,
		OnHook: func(event string, stepID string) {
			e.Logger.Log(hooks.LogInfo, event, hooks.LogContext{WorkflowID: workflowID, StepID: stepID}, nil, nil)
		},
		Checkpoint: func(_ *runner.WorkflowDefinition, wfCtx *wfcontext.Context, transition runner.StepTransition, currentIndex int, order []string) {
			e.checkpoint(st, wfCtx, transition, currentIndex, order)
		},
	}

	_, span := e.Logger.StartWorkflowSpan(ctx, workflowID, def.Name)
	start := time.Now()
	e.Hooks.Dispatch(ctx, hooks.Payload{Event: hooks.EventWorkflowStart, WorkflowID: workflowID})

	result, runErr := r.Run(ctx, def, wfCtx)

	st.ContextSnapshot = wfCtx.Snapshot()
	st.LastUpdateTime = time.Now().UTC()
	if result.Success {
		st.Status = "completed"
		e.Hooks.Dispatch(ctx, hooks.Payload{Event: hooks.EventWorkflowComplete, WorkflowID: workflowID})
	} else if result.Error == "workflow run was cancelled" {
		st.Status = "cancelled"
		e.Hooks.Dispatch(ctx, hooks.Payload{Event: hooks.EventWorkflowCancelled, WorkflowID: workflowID})
	} else {
		st.Status = "failed"
		e.Hooks.Dispatch(ctx, hooks.Payload{Event: hooks.EventWorkflowError, WorkflowID: workflowID})
	}
	e.Logger.EndWorkflowSpan(span, result.Success, runErr, time.Since(start))
	e.Logger.RecordResourceUtilization(result.ParallelStats.ResourceUtilization, def.ParallelEnabled)

	if saveErr := e.Persistence.Save(st); saveErr != nil {
		return RunResult{Result: result, State: st}, fmt.Errorf("engine: persisting final state: %w", saveErr)
	}
	return RunResult{Result: result, State: st}, runErr
}

func (e *Engine) checkpoint(st *state.WorkflowState, wfCtx *wfcontext.Context, transition runner.StepTransition, currentIndex int, order []string) {
	ss, ok := st.StepStates[transition.StepID]
	if !ok {
		ss = &state.StepState{}
		st.StepStates[transition.StepID] = ss
	}
	now := time.Now().UTC()
	ss.AttemptCount++
	ss.EndTime = &now
	if ss.StartTime == nil {
		ss.StartTime = &now
	}
	switch transition.Status {
	case "completed":
		ss.Status = state.StepCompleted
	case "failed":
		ss.Status = state.StepFailed
	default:
		ss.Status = state.StepSkipped
	}
	if transition.Result != nil {
		ss.Result = &state.StepResult{
			Success:       transition.Result.Success,
			Output:        transition.Result.Output,
			Error:         transition.Result.Error,
			ExecutionTime: transition.Result.ExecutionTime,
			ParallelGroup: transition.Result.ParallelGroup,
		}
	}

	st.CurrentStepIndex = currentIndex
	st.ExecutionOrder = order
	st.ContextSnapshot = wfCtx.Snapshot()
	st.LastUpdateTime = now

	if err := e.Persistence.Save(st); err != nil {
		e.Logger.Log(hooks.LogError, "checkpoint save failed", hooks.LogContext{WorkflowID: st.WorkflowID, StepID: transition.StepID}, nil, err)
	}
}

// toStateDefinition mirrors def into the plain-data shape WorkflowState
// persists it under, so a state file alone (no original workflow file)
// carries enough to rebuild the DAG via FromStateDefinition.
func toStateDefinition(def *runner.WorkflowDefinition) state.Definition {
	steps := make([]state.StepDefinition, len(def.Steps))
	for i, s := range def.Steps {
		var timeoutMs int64
		if s.Timeout > 0 {
			timeoutMs = s.Timeout.Milliseconds()
		}
		steps[i] = state.StepDefinition{
			ID:               s.ID,
			Name:             s.Name,
			Type:             string(s.Type),
			Config:           s.Config,
			DependsOn:        s.DependsOn,
			Condition:        s.Condition,
			ParallelEnabled:  s.Parallel.Enabled,
			ParallelResource: s.Parallel.Resource,
			IsolateErrors:    s.Parallel.IsolateErrors,
			ContinueOnError:  s.ContinueOnError,
			TimeoutMs:        timeoutMs,
		}
	}
	resources := make(map[string]int, len(def.Resources))
	for name, limit := range def.Resources {
		resources[name] = limit
	}
	var timeoutMs int64
	if def.Timeout > 0 {
		timeoutMs = def.Timeout.Milliseconds()
	}
	return state.Definition{
		Name:                  def.Name,
		Version:               def.Version,
		Description:           def.Description,
		Steps:                 steps,
		ParallelEnabled:       def.ParallelEnabled,
		DefaultMaxConcurrency: def.DefaultMaxConcurrency,
		Resources:             resources,
		TimeoutMs:             timeoutMs,
		ContinueOnError:       def.ContinueOnError,
	}
}

// FromStateDefinition rebuilds a runner.WorkflowDefinition from its
// persisted plain-data mirror, letting a caller resume a run from a
// state file alone (state.Persistence.Load) without the original
// workflow file on disk.
func FromStateDefinition(d state.Definition) *runner.WorkflowDefinition {
	steps := make([]executor.Step, len(d.Steps))
	for i, s := range d.Steps {
		steps[i] = executor.Step{
			ID:              s.ID,
			Name:            s.Name,
			Type:            executor.StepType(s.Type),
			Config:          s.Config,
			DependsOn:       s.DependsOn,
			Condition:       s.Condition,
			ContinueOnError: s.ContinueOnError,
			Timeout:         time.Duration(s.TimeoutMs) * time.Millisecond,
			Parallel: executor.ParallelOptions{
				Enabled:       s.ParallelEnabled,
				Resource:      s.ParallelResource,
				IsolateErrors: s.IsolateErrors,
			},
		}
	}
	resources := make(parallel.ResourcePool, len(d.Resources))
	for name, limit := range d.Resources {
		resources[name] = limit
	}
	return &runner.WorkflowDefinition{
		Name:                  d.Name,
		Version:               d.Version,
		Description:           d.Description,
		Steps:                 steps,
		ParallelEnabled:       d.ParallelEnabled,
		DefaultMaxConcurrency: d.DefaultMaxConcurrency,
		Resources:             resources,
		Timeout:               time.Duration(d.TimeoutMs) * time.Millisecond,
		ContinueOnError:       d.ContinueOnError,
	}
}
