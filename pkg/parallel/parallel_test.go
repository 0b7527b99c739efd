package parallel

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/flowengine/flowengine/pkg/executor"
	"github.com/flowengine/flowengine/pkg/wfcontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func alwaysRun(condition string, wfCtx *wfcontext.Context) bool { return condition != "false" }

func TestRunnerRespectsResourceCap(t *testing.T) {
	var current int32
	var maxSeen int32

	dispatch := func(ctx context.Context, step executor.Step, wfCtx *wfcontext.Context) (executor.Output, error) {
		n := atomic.AddInt32(&current, 1)
		defer atomic.AddInt32(&current, -1)
		for {
			seen := atomic.LoadInt32(&maxSeen)
			if n <= seen || atomic.CompareAndSwapInt32(&maxSeen, seen, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		return executor.Output{Data: "ok"}, nil
	}

	runner := NewRunner(dispatch, alwaysRun, ResourcePool{"cpu": 2}, nil)

	var steps []executor.Step
	for i := 0; i < 5; i++ {
		steps = append(steps, executor.Step{
			ID:       "step-" + string(rune('a'+i)),
			Parallel: executor.ParallelOptions{Resource: "cpu"},
		})
	}

	results, stats, err := runner.Run(context.Background(), []Group{{Steps: steps, MaxConcurrency: 5}}, wfcontext.New("wf", nil))
	require.NoError(t, err)
	assert.Len(t, results, 5)
	for _, r := range results {
		assert.True(t, r.Success)
	}
	assert.LessOrEqual(t, int(maxSeen), 2)
	assert.LessOrEqual(t, stats.ResourceUtilization["cpu"], 1.0)
}

func TestRunnerSkipsStepsWithFalseCondition(t *testing.T) {
	dispatch := func(ctx context.Context, step executor.Step, wfCtx *wfcontext.Context) (executor.Output, error) {
		return executor.Output{Data: "ran"}, nil
	}
	runner := NewRunner(dispatch, alwaysRun, nil, nil)

	steps := []executor.Step{{ID: "skip-me", Condition: "false"}}
	results, _, err := runner.Run(context.Background(), []Group{{Steps: steps}}, wfcontext.New("wf", nil))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.Equal(t, "Skipped due to condition", results[0].Error)
}

func TestRunnerIsolatesErrorsWhenConfigured(t *testing.T) {
	dispatch := func(ctx context.Context, step executor.Step, wfCtx *wfcontext.Context) (executor.Output, error) {
		if step.ID == "failing" {
			return executor.Output{}, errors.New("boom")
		}
		return executor.Output{Data: "ok"}, nil
	}
	runner := NewRunner(dispatch, alwaysRun, nil, nil)

	steps := []executor.Step{
		{ID: "failing", Parallel: executor.ParallelOptions{IsolateErrors: true}},
		{ID: "ok-step"},
	}
	results, _, err := runner.Run(context.Background(), []Group{{Steps: steps}}, wfcontext.New("wf", nil))
	require.NoError(t, err)
	require.Len(t, results, 2)
}

func TestRunnerBubblesFatalErrorWhenNotIsolated(t *testing.T) {
	dispatch := func(ctx context.Context, step executor.Step, wfCtx *wfcontext.Context) (executor.Output, error) {
		if step.ID == "failing" {
			return executor.Output{}, errors.New("boom")
		}
		<-ctx.Done()
		return executor.Output{}, ctx.Err()
	}
	runner := NewRunner(dispatch, alwaysRun, nil, nil)

	steps := []executor.Step{
		{ID: "failing"},
		{ID: "long-running"},
	}
	_, _, err := runner.Run(context.Background(), []Group{{Steps: steps}}, wfcontext.New("wf", nil))
	assert.Error(t, err)
}

func TestRunnerGroupsExecuteSequentially(t *testing.T) {
	var order []string
	var mu sync.Mutex
	dispatch := func(ctx context.Context, step executor.Step, wfCtx *wfcontext.Context) (executor.Output, error) {
		mu.Lock()
		order = append(order, step.ID)
		mu.Unlock()
		return executor.Output{}, nil
	}
	runner := NewRunner(dispatch, alwaysRun, nil, nil)

	groups := []Group{
		{Steps: []executor.Step{{ID: "g1-a"}, {ID: "g1-b"}}},
		{Steps: []executor.Step{{ID: "g2-a"}}},
	}
	results, stats, err := runner.Run(context.Background(), groups, wfcontext.New("wf", nil))
	require.NoError(t, err)
	assert.Len(t, results, 3)
	assert.Equal(t, 2, stats.TotalGroups)
}

func TestRunnerHonorsCancelPredicate(t *testing.T) {
	dispatch := func(ctx context.Context, step executor.Step, wfCtx *wfcontext.Context) (executor.Output, error) {
		return executor.Output{}, nil
	}
	runner := NewRunner(dispatch, alwaysRun, nil, func() bool { return true })

	_, _, err := runner.Run(context.Background(), []Group{{Steps: []executor.Step{{ID: "a"}}}}, wfcontext.New("wf", nil))
	assert.ErrorIs(t, err, ErrCancelled)
}
