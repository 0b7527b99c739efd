package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/flowengine/flowengine/pkg/executor"
	"github.com/flowengine/flowengine/pkg/parallel"
	"github.com/flowengine/flowengine/pkg/wfcontext"
)

// WorkflowDefinition is WorkflowDefinition: identity is Name;
// Steps is the full step set before DAG grouping.
type WorkflowDefinition struct {
	Name            string
	Version         string
	Description     string
	Steps           []executor.Step
	ParallelEnabled bool
	DefaultMaxConcurrency int
	Resources       parallel.ResourcePool
	Timeout         time.Duration
	ContinueOnError bool
}

// Validate checks the invariants names: non-empty name/version,
// non-empty steps, unique ids, and a resolvable dependsOn graph.
func (d *WorkflowDefinition) Validate() error {
	if d.Name == "" || d.Version == "" {
		return fmt.Errorf("workflow definition requires a non-empty name and version")
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("workflow definition requires at least one step")
	}
	if err := ValidateUniqueIDs(d.Steps); err != nil {
		return err
	}
	_, err := BuildGroups(d.Steps)
	return err
}

// StepTransition describes one step's status change, used both for
// checkpointing and hook events.
type StepTransition struct {
	StepID        string
	Status        string // pending|running|completed|failed|skipped
	Result        *parallel.StepResult
	ParallelGroup int
}

// Checkpoint is called after every step transition so the caller can
// persist a WorkflowState snapshot ("Checkpointing").
// Persistence itself lives in pkg/state; the runner only notifies.
type Checkpoint func(def *WorkflowDefinition, wfCtx *wfcontext.Context, transition StepTransition, currentIndex int, order []string)

// Result is WorkflowResult.
type Result struct {
	Success       bool
	StepResults   map[string]parallel.StepResult
	ExecutionTime time.Duration
	ParallelStats parallel.Stats
	Error         string
}

// Runner drives one workflow run: validates, builds the DAG, computes
// groups, dispatches through the parallel executor group by group,
// checkpoints after every step transition, and returns a Result.
//
// Grounded on pkg/workflow/workflow.go's StateMachine/Transition shape
// (transition table, before/after hooks) generalized from a generic
// created/running/paused/completed/failed lifecycle into the fixed
// pending/running/{completed,failed,cancelled} lifecycle and
// the DAG/group-driven dispatch loop requires.
type Runner struct {
	Dispatch   parallel.StepDispatcher
	Condition  parallel.ConditionEvaluator
	Checkpoint Checkpoint
	OnHook     func(event string, stepID string)
}

// NewRunner wires a workflow runner to its step dispatcher and
// condition evaluator (both supplied by the caller composing the
// executor registry).
func NewRunner(dispatch parallel.StepDispatcher, condition parallel.ConditionEvaluator) *Runner {
	return &Runner{Dispatch: dispatch, Condition: condition}
}

// Run executes def's full DAG and returns the aggregate result.
// Cancellation is observed cooperatively via ctx; on cancellation,
// in-flight steps are awaited, remaining steps are marked skipped, and
// the state machine transitions to cancelled.
func (r *Runner) Run(ctx context.Context, def *WorkflowDefinition, wfCtx *wfcontext.Context) (Result, error) {
	if err := def.Validate(); err != nil {
		return Result{Success: false, Error: err.Error()}, err
	}

	groups, err := BuildGroups(def.Steps)
	if err != nil {
		return Result{Success: false, Error: err.Error()}, err
	}

	var order []string
	for _, g := range groups {
		for _, s := range g {
			order = append(order, s.ID)
		}
	}

	sm := NewStateMachine(func(from, to Status) {
		if r.OnHook != nil {
			r.OnHook(fmt.Sprintf("workflow:%s", to), "")
		}
	})
	if err := sm.Trigger("start"); err != nil {
		return Result{Success: false, Error: err.Error()}, err
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if def.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, def.Timeout)
		defer cancel()
	}

	cancelled := func() bool {
		select {
		case <-runCtx.Done():
			return true
		default:
			return false
		}
	}

	start := time.Now()
	stepResults := make(map[string]parallel.StepResult, len(def.Steps))
	overallSuccess := true
	var failureErr error
	currentIndex := 0

	pr := parallel.NewRunner(r.wrapDispatch(), r.Condition, def.Resources, cancelled)

	stepByID := make(map[string]executor.Step, len(def.Steps))
	for _, s := range def.Steps {
		stepByID[s.ID] = s
	}
	// condAllow holds, per condition step that has already run, the set
	// of descendant step ids its TriggeredSteps allow-listed
	// ("the runner interprets triggeredSteps as an allow-list gating
	// subsequent descendants"). notTriggered accumulates every step
	// (direct or transitive descendant) gated out by that allow-list, so
	// the gate cascades down the DAG rather than applying only to the
	// condition step's immediate dependents.
	condAllow := make(map[string]map[string]bool)
	notTriggered := make(map[string]bool)

groupLoop:
	for gi, group := range groups {
		if cancelled() {
			break groupLoop
		}

		var toRun []executor.Step
		for _, s := range group {
			if stepGatedByCondition(s, stepByID, condAllow, notTriggered) {
				notTriggered[s.ID] = true
				continue
			}
			toRun = append(toRun, s)
		}

		var results []parallel.StepResult
		var groupErr error
		if len(toRun) > 0 {
			defaultConcurrency := def.DefaultMaxConcurrency
			if defaultConcurrency <= 0 {
				defaultConcurrency = len(toRun)
			}
			results, _, groupErr = pr.Run(runCtx, []parallel.Group{{Steps: toRun, MaxConcurrency: defaultConcurrency}}, wfCtx)
		}
		for _, s := range group {
			if notTriggered[s.ID] {
				results = append(results, parallel.StepResult{
					StepID:        s.ID,
					Success:       true,
					Output:        nil,
					Error:         "not triggered by condition",
					ParallelGroup: gi,
				})
			}
		}

		for _, res := range results {
			stepResults[res.StepID] = res
			currentIndex++
			if res.ConditionResult != nil {
				condAllow[res.StepID] = toSet(res.TriggeredSteps)
			}
			if r.OnHook != nil {
				evt := "step:complete"
				if !res.Success {
					evt = "step:error"
				}
				r.OnHook(evt, res.StepID)
			}
			if r.Checkpoint != nil {
				status := "completed"
				if !res.Success {
					status = "failed"
				}
				r.Checkpoint(def, wfCtx, StepTransition{StepID: res.StepID, Status: status, Result: &res, ParallelGroup: gi}, currentIndex, order)
			}
			if !res.Success {
				overallSuccess = false
			}
		}

		if groupErr != nil && groupErr != parallel.ErrCancelled {
			if !def.ContinueOnError {
				failureErr = groupErr
				break groupLoop
			}
		}
		if groupErr == parallel.ErrCancelled || cancelled() {
			failureErr = parallel.ErrCancelled
			break groupLoop
		}
	}

	executionTime := time.Since(start)

	if cancelled() {
		markSkipped(stepResults, order, groupIdx(groups, stepResults))
		_ = sm.Trigger("cancel")
		return Result{
			Success:       false,
			StepResults:   stepResults,
			ExecutionTime: executionTime,
			Error:         "workflow run was cancelled",
		}, nil
	}

	if failureErr != nil {
		markSkipped(stepResults, order, groupIdx(groups, stepResults))
		_ = sm.Trigger("fail")
		return Result{
			Success:       false,
			StepResults:   stepResults,
			ExecutionTime: executionTime,
			Error:         failureErr.Error(),
		}, nil
	}

	if overallSuccess {
		_ = sm.Trigger("complete")
	} else {
		_ = sm.Trigger("fail")
	}

	return Result{
		Success:       overallSuccess,
		StepResults:   stepResults,
		ExecutionTime: executionTime,
	}, nil
}

// wrapDispatch adapts r.Dispatch into a parallel.StepDispatcher,
// letting Runner decorate dispatch with workflow-level concerns later
// (currently a passthrough).
func (r *Runner) wrapDispatch() parallel.StepDispatcher {
	return r.Dispatch
}

// stepGatedByCondition reports whether s should be skipped because an
// upstream condition step's allow-list ("triggeredSteps") didn't name
// it, or because it descends from a step already gated this way. Only
// dependencies on a condition step that has actually produced a result
// gate anything; a condition step not yet run, or not among s's
// dependencies, never gates s.
func stepGatedByCondition(s executor.Step, byID map[string]executor.Step, condAllow map[string]map[string]bool, notTriggered map[string]bool) bool {
	for _, dep := range s.DependsOn {
		if notTriggered[dep] {
			return true
		}
		depStep, ok := byID[dep]
		if !ok || depStep.Type != executor.StepTypeCondition {
			continue
		}
		allow, decided := condAllow[dep]
		if !decided {
			continue
		}
		if !allow[s.ID] {
			return true
		}
	}
	return false
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, item := range items {
		set[item] = true
	}
	return set
}

func groupIdx(groups [][]executor.Step, done map[string]parallel.StepResult) int {
	for i, g := range groups {
		for _, s := range g {
			if _, ok := done[s.ID]; !ok {
				return i
			}
		}
	}
	return len(groups)
}

// markSkipped records every step past the point of failure/cancellation
// as skipped, per failure and cancellation policy.
func markSkipped(results map[string]parallel.StepResult, order []string, fromGroup int) {
	for _, id := range order {
		if _, done := results[id]; !done {
			results[id] = parallel.StepResult{StepID: id, Success: false, Error: "Skipped: upstream failure or cancellation"}
		}
	}
}
