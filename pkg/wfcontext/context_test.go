package wfcontext

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetAndGetVariable(t *testing.T) {
	ctx := New("wf-1", nil)
	ctx.SetVariable("status", "success")
	v, ok := ctx.GetVariable("status")
	require.True(t, ok)
	assert.Equal(t, "success", v)
}

func TestGetVariableMissing(t *testing.T) {
	ctx := New("wf-1", nil)
	_, ok := ctx.GetVariable("missing")
	assert.False(t, ok)
}

func TestConcurrentWritesAreSerialized(t *testing.T) {
	ctx := New("wf-1", nil)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx.SetVariable("k", i)
		}(i)
	}
	wg.Wait()
	_, ok := ctx.GetVariable("k")
	assert.True(t, ok)
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	ctx := New("wf-1", map[string]string{"HOME": "/home"})
	ctx.SetVariable("x", 1)
	ctx.SetStepOutput("A", map[string]any{"output": "hello"})
	ctx.Log("started", LogInfo)

	snap := ctx.Snapshot()
	restored := Restore("wf-1", snap)

	assert.Equal(t, ctx.GetVariables(), restored.GetVariables())
	assert.Equal(t, ctx.GetStepOutputs(), restored.GetStepOutputs())
	assert.Equal(t, ctx.GetEnvironmentVariables(), restored.GetEnvironmentVariables())
}

func TestExecutionDurationIsNonNegative(t *testing.T) {
	ctx := New("wf-1", nil)
	assert.GreaterOrEqual(t, ctx.GetExecutionDuration(), time.Duration(0))
}
