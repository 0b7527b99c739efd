package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/flowengine/flowengine/pkg/wfcontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWorkflowStateAllPending(t *testing.T) {
	s := NewWorkflowState("wf1", "linear", "1.0", []string{"A", "B"})
	assert.Equal(t, "pending", s.Status)
	assert.Equal(t, StepPending, s.StepStates["A"].Status)
	assert.True(t, s.CanResume())
}

func TestCanResumeFalseAfterTerminal(t *testing.T) {
	s := NewWorkflowState("wf1", "linear", "1.0", []string{"A"})
	s.Status = "completed"
	s.StepStates["A"].Status = StepCompleted
	assert.False(t, s.CanResume())

	s.Status = "cancelled"
	assert.False(t, s.CanResume())
}

func TestResumeIncrementsBookkeeping(t *testing.T) {
	s := NewWorkflowState("wf1", "linear", "1.0", []string{"A"})
	s.Resume("crash recovery")
	assert.Equal(t, 1, s.ResumeCount)
	require.Len(t, s.Meta.ResumeReasons, 1)
	assert.Equal(t, "crash recovery", s.Meta.ResumeReasons[0])
	require.NotNil(t, s.Meta.LastResumeTime)
}

func TestProgressMonotonic(t *testing.T) {
	s := NewWorkflowState("wf1", "linear", "1.0", []string{"A", "B"})
	assert.Equal(t, 0.0, s.Progress())
	s.StepStates["A"].Status = StepCompleted
	assert.Equal(t, 50.0, s.Progress())
	s.StepStates["B"].Status = StepFailed
	assert.Equal(t, 100.0, s.Progress())
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	s := NewWorkflowState("wf1", "linear", "1.0", []string{"A"})
	s.ContextSnapshot = wfcontext.Snapshot{
		WorkflowID:  "wf1",
		Variables:   map[string]interface{}{"x": 1.0},
		StepOutputs: map[string]interface{}{"A": "hello"},
		Env:         map[string]string{"FOO": "bar"},
		Logs: []wfcontext.LogEntry{
			{Timestamp: time.Now().UTC(), Level: wfcontext.LogInfo, Message: "started"},
		},
		StartTime: time.Now().UTC(),
	}
	now := time.Now().UTC()
	s.StepStates["A"].Status = StepCompleted
	s.StepStates["A"].StartTime = &now
	s.StepStates["A"].AttemptCount = 1
	s.StepStates["A"].Result = &StepResult{Success: true, Output: "hello"}

	data, err := Marshal(s)
	require.NoError(t, err)

	got, err := Unmarshal(data)
	require.NoError(t, err)

	assert.Equal(t, s.WorkflowID, got.WorkflowID)
	assert.Equal(t, s.ContextSnapshot.Variables["x"], got.ContextSnapshot.Variables["x"])
	assert.Equal(t, s.ContextSnapshot.Env["FOO"], got.ContextSnapshot.Env["FOO"])
	assert.WithinDuration(t, s.StartTime, got.StartTime, time.Second)
	assert.Equal(t, StepCompleted, got.StepStates["A"].Status)
	require.NotNil(t, got.StepStates["A"].StartTime)
	assert.WithinDuration(t, *s.StepStates["A"].StartTime, *got.StepStates["A"].StartTime, time.Second)
}

func TestPersistenceSaveLoadDelete(t *testing.T) {
	dir := t.TempDir()
	p, err := NewPersistence(dir)
	require.NoError(t, err)

	s := NewWorkflowState("wf1", "linear", "1.0", []string{"A"})
	require.NoError(t, p.Save(s))

	loaded, err := p.Load("wf1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "wf1", loaded.WorkflowID)

	ids, err := p.ListStates()
	require.NoError(t, err)
	assert.Contains(t, ids, "wf1")

	meta, err := p.GetStateMetadata("wf1")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "wf1.state.json"), meta.FilePath)
	assert.Greater(t, meta.Size, int64(0))

	require.NoError(t, p.DeleteState("wf1"))
	loaded, err = p.Load("wf1")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestPersistenceLoadMissingReturnsNil(t *testing.T) {
	p, err := NewPersistence(t.TempDir())
	require.NoError(t, err)
	loaded, err := p.Load("nope")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestCleanupNeverDeletesRunningOrPending(t *testing.T) {
	dir := t.TempDir()
	p, err := NewPersistence(dir)
	require.NoError(t, err)

	running := NewWorkflowState("running1", "wf", "1.0", []string{"A"})
	running.Status = "running"
	running.LastUpdateTime = time.Now().Add(-48 * time.Hour)
	// Written directly: Save would stamp LastUpdateTime to now.
	data, err := Marshal(running)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "running1.state.json"), data, 0600))

	svc := NewCleanupService(p, RetentionPolicy{MaxAge: time.Hour}, nil)
	report, err := svc.RunOnce()
	require.NoError(t, err)
	assert.Empty(t, report.Deleted)
}

func TestCleanupDeletesOldCompleted(t *testing.T) {
	dir := t.TempDir()
	p, err := NewPersistence(dir)
	require.NoError(t, err)

	done := NewWorkflowState("done1", "wf", "1.0", []string{"A"})
	done.Status = "completed"
	done.LastUpdateTime = time.Now().Add(-48 * time.Hour)
	// Written directly: Save would stamp LastUpdateTime to now.
	data, err := Marshal(done)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "done1.state.json"), data, 0600))

	svc := NewCleanupService(p, RetentionPolicy{MaxAge: time.Hour}, nil)
	report, err := svc.RunOnce()
	require.NoError(t, err)
	assert.Contains(t, report.Deleted, "done1")
}

func TestCleanupRejectsConcurrentRun(t *testing.T) {
	p, err := NewPersistence(t.TempDir())
	require.NoError(t, err)
	svc := NewCleanupService(p, RetentionPolicy{}, nil)
	svc.running = 1
	_, err = svc.RunOnce()
	assert.ErrorIs(t, err, ErrCleanupInProgress)
}

func TestRollbackVariableReset(t *testing.T) {
	wfCtx := wfcontext.New("wf1", nil)
	wfCtx.SetVariable("x", 42)
	cfg := RollbackConfig{Actions: []RollbackAction{{Type: RollbackVariableReset, Variables: []string{"x"}}}}
	errs := Rollback(context.Background(), cfg, wfCtx, nil, nil)
	assert.Empty(t, errs)
	v, _ := wfCtx.GetVariable("x")
	assert.Nil(t, v)
}

func TestRollbackCustomHandlerMissing(t *testing.T) {
	wfCtx := wfcontext.New("wf1", nil)
	cfg := RollbackConfig{Actions: []RollbackAction{{Type: RollbackCustom, HandlerName: "nope"}}}
	errs := Rollback(context.Background(), cfg, wfCtx, map[string]CustomHandler{}, nil)
	require.Len(t, errs, 1)
}

func TestClearAndResumePartialData(t *testing.T) {
	s := NewWorkflowState("wf1", "wf", "1.0", []string{"A"})
	s.StepStates["A"].Status = StepPartial
	s.StepStates["A"].PartialData = map[string]interface{}{"progress": 0.5}

	data, ok := ResumePartialData(s, "A")
	assert.True(t, ok)
	assert.NotNil(t, data)

	ClearPartialData(s, "A")
	assert.Nil(t, s.StepStates["A"].PartialData)
}
