// Package parallel implements the parallel executor: group
// dispatch with a concurrency semaphore, named resource-token
// semaphores, error isolation, and cancellation polling.
//
// Grounded on pkg/workflow/executor.go's executeParallel: a buffered
// semaphore channel sized to the group's concurrency cap, a
// context.WithCancel for fail-fast propagation when a step's failure
// must bubble up synchronously, and one goroutine per step. Every step
// of a group is handed the same shared WorkflowContext; the context's
// own mutex serializes the variable/step-output writes.
package parallel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/flowengine/flowengine/pkg/executor"
	"github.com/flowengine/flowengine/pkg/wfcontext"
)

// Group is a set of steps the runner has determined are mutually
// independent (no dependsOn between them).
type Group struct {
	Steps          []executor.Step
	MaxConcurrency int
}

// StepResult decorates an executor Output with the parallelGroup index
// and measured executionTime StepResult type requires.
type StepResult struct {
	StepID        string
	Success       bool
	Output        interface{}
	Error         string
	ExecutionTime time.Duration
	ParallelGroup int

	// ConditionResult and TriggeredSteps are populated only for
	// condition-type steps (executor.Output's matching fields), letting
	// the runner gate descendants on the allow-list a condition step
	// produces without needing to know the executor package's Output
	// shape itself.
	ConditionResult *bool
	TriggeredSteps  []string
}

// Stats reports per-run parallel execution statistics.
type Stats struct {
	TotalGroups         int
	MaxConcurrentSteps   int
	ResourceUtilization map[string]float64
}

// ResourcePool configures named resource-token limits
// (workflow.parallel.resources ).
type ResourcePool map[string]int

// CancelFunc is polled between suspension points; a true return aborts
// the run with a cancellation error.
type CancelFunc func() bool

// ConditionEvaluator decides whether a step's plain condition string
// gates it out, step 2 (the literal "false" sentinel;
// anything else is "run").
type ConditionEvaluator func(condition string, wfCtx *wfcontext.Context) bool

// StepDispatcher dispatches one step to its type-specific executor,
// returning the step's output.
type StepDispatcher func(ctx context.Context, step executor.Step, wfCtx *wfcontext.Context) (executor.Output, error)

// Runner executes ordered parallel groups sequentially, dispatching the
// steps within each group concurrently under the group's concurrency
// cap and any named resource tokens.
type Runner struct {
	Dispatch  StepDispatcher
	Condition ConditionEvaluator
	Resources ResourcePool
	Cancel    CancelFunc

	mu        sync.Mutex
	resourceSems map[string]chan struct{}
	resourceInUse map[string]int
	maxConcurrentSeen int
}

// NewRunner builds a parallel executor. resources may be nil if the
// workflow declares no named resource pools.
func NewRunner(dispatch StepDispatcher, condition ConditionEvaluator, resources ResourcePool, cancel CancelFunc) *Runner {
	if resources == nil {
		resources = ResourcePool{}
	}
	r := &Runner{
		Dispatch:      dispatch,
		Condition:     condition,
		Resources:     resources,
		Cancel:        cancel,
		resourceSems:  make(map[string]chan struct{}),
		resourceInUse: make(map[string]int),
	}
	for name, limit := range resources {
		r.resourceSems[name] = make(chan struct{}, limit)
	}
	return r
}

// ErrCancelled is returned when the caller's cancellation predicate
// fires mid-run.
var ErrCancelled = fmt.Errorf("parallel execution cancelled")

// Run executes groups in order, one at a time; within a group, steps
// run concurrently up to group.MaxConcurrency. It returns every step's
// result (including skipped and failed steps) and aggregate stats.
func (r *Runner) Run(ctx context.Context, groups []Group, wfCtx *wfcontext.Context) ([]StepResult, Stats, error) {
	var allResults []StepResult
	stats := Stats{TotalGroups: len(groups), ResourceUtilization: map[string]float64{}}

	for groupIdx, group := range groups {
		if r.Cancel != nil && r.Cancel() {
			return allResults, stats, ErrCancelled
		}

		results, err := r.runGroup(ctx, groupIdx, group, wfCtx)
		allResults = append(allResults, results...)
		if results != nil {
			r.mu.Lock()
			if len(results) > r.maxConcurrentSeen {
				r.maxConcurrentSeen = len(results)
			}
			r.mu.Unlock()
		}
		if err != nil {
			stats.MaxConcurrentSteps = r.maxConcurrentSeen
			r.fillUtilization(&stats)
			return allResults, stats, err
		}
	}

	stats.MaxConcurrentSteps = r.maxConcurrentSeen
	r.fillUtilization(&stats)
	return allResults, stats, nil
}

func (r *Runner) fillUtilization(stats *Stats) {
	for name, limit := range r.Resources {
		if limit <= 0 {
			continue
		}
		r.mu.Lock()
		used := r.resourceInUse[name]
		r.mu.Unlock()
		stats.ResourceUtilization[name] = float64(used) / float64(limit)
	}
}

func (r *Runner) runGroup(ctx context.Context, groupIdx int, group Group, wfCtx *wfcontext.Context) ([]StepResult, error) {
	maxConcurrency := group.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = len(group.Steps)
	}
	if maxConcurrency <= 0 {
		return nil, nil
	}

	groupCtx, cancelGroup := context.WithCancel(ctx)
	defer cancelGroup()

	sem := make(chan struct{}, maxConcurrency)
	results := make([]StepResult, len(group.Steps))
	var wg sync.WaitGroup
	var firstFatal error
	var fatalMu sync.Mutex

	for i, step := range group.Steps {
		i, step := i, step
		wg.Add(1)
		go func() {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
			case <-groupCtx.Done():
				results[i] = StepResult{StepID: step.ID, Success: false, Error: "cancelled", ParallelGroup: groupIdx}
				return
			}
			defer func() { <-sem }()

			if r.Cancel != nil && r.Cancel() {
				results[i] = StepResult{StepID: step.ID, Success: false, Error: ErrCancelled.Error(), ParallelGroup: groupIdx}
				return
			}

			if r.Condition != nil && step.Condition != "" && !r.Condition(step.Condition, wfCtx) {
				results[i] = StepResult{StepID: step.ID, Success: true, Output: nil, Error: "Skipped due to condition", ParallelGroup: groupIdx}
				return
			}

			if resName := step.Parallel.Resource; resName != "" {
				release := r.acquireResource(groupCtx, resName)
				if release == nil {
					results[i] = StepResult{StepID: step.ID, Success: false, Error: "cancelled waiting for resource", ParallelGroup: groupIdx}
					return
				}
				defer release()
			}

			start := time.Now()
			output, err := r.Dispatch(groupCtx, step, wfCtx)
			duration := time.Since(start)

			sr := StepResult{
				StepID:          step.ID,
				ExecutionTime:   duration,
				ParallelGroup:   groupIdx,
				Output:          output.Data,
				ConditionResult: output.ConditionResult,
				TriggeredSteps:  output.TriggeredSteps,
			}
			if err != nil {
				sr.Success = false
				sr.Error = err.Error()
				results[i] = sr
				if !step.ContinueOnError && !step.Parallel.IsolateErrors {
					fatalMu.Lock()
					if firstFatal == nil {
						firstFatal = err
					}
					fatalMu.Unlock()
					cancelGroup()
				}
				return
			}
			sr.Success = true
			results[i] = sr
		}()
	}

	wg.Wait()
	return results, firstFatal
}

func (r *Runner) acquireResource(ctx context.Context, name string) func() {
	r.mu.Lock()
	sem, ok := r.resourceSems[name]
	r.mu.Unlock()
	if !ok {
		return func() {}
	}
	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return nil
	}
	r.mu.Lock()
	r.resourceInUse[name]++
	r.mu.Unlock()
	return func() {
		<-sem
		r.mu.Lock()
		r.resourceInUse[name]--
		r.mu.Unlock()
	}
}
