package hooks

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchSyncPriorityOrder(t *testing.T) {
	d := NewDispatcher(0, 0)
	var order []int
	for i, prio := range []int{1, 5, 3} {
		i, prio := i, prio
		require.NoError(t, d.Register(Registration{
			ID: fmt.Sprintf("h%d", i), Event: EventStepStart, Priority: prio, Enabled: true,
			Handler: func(ctx context.Context, p Payload) { order = append(order, prio) },
		}))
	}
	d.Dispatch(context.Background(), Payload{Event: EventStepStart})
	assert.Equal(t, []int{5, 3, 1}, order)
}

func TestDispatchAsyncAllSettled(t *testing.T) {
	d := NewDispatcher(0, time.Second)
	var calls int32
	require.NoError(t, d.Register(Registration{
		ID: "fails", Event: EventStepStart, Async: true, Enabled: true,
		Handler: func(ctx context.Context, p Payload) { panic("boom") },
	}))
	require.NoError(t, d.Register(Registration{
		ID: "succeeds", Event: EventStepStart, Async: true, Enabled: true,
		Handler: func(ctx context.Context, p Payload) { atomic.AddInt32(&calls, 1) },
	}))
	d.Dispatch(context.Background(), Payload{Event: EventStepStart})
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, int64(1), d.StatsFor("fails").Errors)
}

func TestMaxHooksEnforced(t *testing.T) {
	d := NewDispatcher(1, 0)
	require.NoError(t, d.Register(Registration{ID: "a", Event: EventStepStart, Enabled: true, Handler: func(context.Context, Payload) {}}))
	err := d.Register(Registration{ID: "b", Event: EventStepStart, Enabled: true, Handler: func(context.Context, Payload) {}})
	assert.ErrorIs(t, err, ErrMaxHooksReached)
}

func TestDisabledHookNotCalled(t *testing.T) {
	d := NewDispatcher(0, 0)
	called := false
	require.NoError(t, d.Register(Registration{ID: "a", Event: EventStepStart, Enabled: false, Handler: func(context.Context, Payload) { called = true }}))
	d.Dispatch(context.Background(), Payload{Event: EventStepStart})
	assert.False(t, called)
}

func TestHookTimeout(t *testing.T) {
	d := NewDispatcher(0, 10*time.Millisecond)
	var errored bool
	d.OnHookError(func(reg *Registration, err error) { errored = true })
	require.NoError(t, d.Register(Registration{
		ID: "slow", Event: EventStepStart, Enabled: true,
		Handler: func(ctx context.Context, p Payload) { <-ctx.Done() },
	}))
	d.Dispatch(context.Background(), Payload{Event: EventStepStart})
	assert.True(t, errored)
}

func TestStatusReporterProgress(t *testing.T) {
	r := NewStatusReporter([]string{"A", "B"}, map[string]string{"A": "Step A"})
	assert.Equal(t, 0.0, r.Progress())
	r.MarkRunning("A")
	r.MarkTerminal("A", StepCompleted, "ok", "")
	assert.Equal(t, 50.0, r.Progress())
	assert.Contains(t, r.Summary(), "Step A")
}

func TestClassifyFailure(t *testing.T) {
	assert.Equal(t, FailureTimeout, ClassifyFailure("operation timeout after 5s"))
	assert.Equal(t, FailureResourceExhaustion, ClassifyFailure("JS heap out of memory"))
	assert.Equal(t, FailureDependency, ClassifyFailure("dependency step failed"))
	assert.Equal(t, FailureUnknown, ClassifyFailure("connection reset by peer"))
}

func TestDebuggerRelatedFailures(t *testing.T) {
	d := NewDebugger(map[string][]string{"A": {"B"}})
	d.StartSession("A", nil, nil, 1)
	d.EndSession("A", nil, false, "dependency A failed")
	d.StartSession("B", nil, []string{"A"}, 1)
	d.EndSession("B", nil, false, "dependency A failed")

	rep := d.BuildReport()
	assert.Equal(t, 2, rep.TotalSteps)
	assert.Equal(t, 2, rep.FailedSteps)
	require.NotEmpty(t, rep.Recommendations)
	require.NotEmpty(t, rep.TroubleshootingSteps)

	var aAnalysis *FailureAnalysis
	for i := range rep.Failures {
		if rep.Failures[i].StepID == "A" {
			aAnalysis = &rep.Failures[i]
		}
	}
	require.NotNil(t, aAnalysis)
	assert.Contains(t, aAnalysis.RelatedFailures, "B")
}

func TestProfilerHotspots(t *testing.T) {
	p := NewProfiler(Thresholds{StepDuration: time.Millisecond})
	p.RecordPoint("slow", ProfileStart)
	time.Sleep(5 * time.Millisecond)
	p.RecordPoint("slow", ProfileEnd)

	hotspots := p.Hotspots()
	require.Len(t, hotspots, 1)
	assert.Equal(t, "slow", hotspots[0].StepID)
	require.NotEmpty(t, p.Recommendations())
}

func TestProfilerExportFormats(t *testing.T) {
	p := NewProfiler(DefaultThresholds())
	p.RecordPoint("a", ProfileStart)
	p.RecordPoint("a", ProfileEnd)

	for _, format := range []string{"json", "csv", "summary"} {
		out, err := p.Export(format)
		require.NoError(t, err)
		assert.NotEmpty(t, out)
	}
	_, err := p.Export("xml")
	assert.Error(t, err)
}

func TestLoggerRecordsMetrics(t *testing.T) {
	l := NewLogger(nil, nil)
	ctx, span := l.StartWorkflowSpan(context.Background(), "wf1", "linear")
	_ = ctx
	l.EndWorkflowSpan(span, true, nil, time.Millisecond)
	snap := l.Metrics.Snapshot()
	assert.Equal(t, int64(1), snap.RunsStarted)
	assert.Equal(t, int64(1), snap.RunsCompleted)
}
