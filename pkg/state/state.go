// Package state implements the persisted workflow run state (
// WorkflowState, §4.8), its file-backed persistence, the partial-execution
// checkpoint mechanism, and step rollback actions.
//
// Grounded on the teacher's internal/controller/checkpoint.Manager (JSON
// snapshot per run, directory-backed, RWMutex-guarded) generalized from a
// single-purpose crash-recovery checkpoint into the richer per-step state
// machine /§4.8 require, and internal/tracing/retention.go's
// RetentionManager (ticker-driven cleanup loop, age-based cutoff) adapted
// into the cleanup service's retention policy.
package state

import (
	"time"

	"github.com/flowengine/flowengine/pkg/wfcontext"
)

// StepStatus is the per-step status names.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
	StepPartial   StepStatus = "partial"
)

// StepResult mirrors parallel.StepResult for persistence purposes,
// duplicated here (rather than imported) so pkg/state has no dependency on
// pkg/parallel/pkg/executor — it only knows about plain data.
type StepResult struct {
	Success       bool
	Output        interface{}
	Error         string
	ExecutionTime time.Duration
	ParallelGroup int
	PartialData   interface{}
}

// StepState is one entry of WorkflowState.StepStates.
type StepState struct {
	Status      StepStatus
	Result      *StepResult
	StartTime   *time.Time
	EndTime     *time.Time
	AttemptCount int
	PartialData interface{}
}

// ResumeMeta is WorkflowState.meta: bookkeeping that survives
// across resumes, distinct from the per-step state.
type ResumeMeta struct {
	OriginalStartTime time.Time
	TotalPausedDuration time.Duration
	LastResumeTime    *time.Time
	ResumeReasons     []string
}

// StepDefinition is a plain-data mirror of one step, enough to rebuild
// the step's place in the DAG (id, type, dependsOn) and replay its
// configuration on resume. Duplicated here rather than imported from
// pkg/executor for the same reason StepResult is duplicated above: the
// persisted-state shape must stay free of any dependency on the
// executor/runner/retry packages it's rebuilt from.
type StepDefinition struct {
	ID               string
	Name             string
	Type             string
	Config           map[string]interface{}
	DependsOn        []string
	Condition        string
	ParallelEnabled  bool
	ParallelResource string
	IsolateErrors    bool
	ContinueOnError  bool
	TimeoutMs        int64
}

// Definition is a plain-data mirror of the runner's WorkflowDefinition
// names as a persisted field ("WorkflowState ... { workflowId,
// definition, contextSnapshot, ... }"): enough for the DAG (BuildGroups
// over Steps/DependsOn) to be reconstructed from a state file alone,
// without the original workflow file being available.
type Definition struct {
	Name                  string
	Version               string
	Description           string
	Steps                 []StepDefinition
	ParallelEnabled       bool
	DefaultMaxConcurrency int
	Resources             map[string]int
	TimeoutMs             int64
	ContinueOnError       bool
}

// WorkflowState is the persisted form of one run. Invariants:
// CurrentStepIndex <= len(ExecutionOrder); AttemptCount >= 1 once a step
// has ever run; Status=completed implies Result.Success=true; dates
// round-trip through (de)serialization via the __type tagging in codec.go.
type WorkflowState struct {
	WorkflowID       string
	DefinitionName   string
	DefinitionVersion string
	Definition       Definition
	ContextSnapshot  wfcontext.Snapshot
	StepStates       map[string]*StepState
	ExecutionOrder   []string
	CurrentStepIndex int
	Status           string // pending|running|completed|failed|cancelled
	StartTime        time.Time
	LastUpdateTime   time.Time
	ResumeCount      int
	Meta             ResumeMeta
}

// NewWorkflowState creates a fresh state for a new run, with every step in
// the execution order recorded as pending.
func NewWorkflowState(workflowID, defName, defVersion string, order []string) *WorkflowState {
	now := time.Now().UTC()
	steps := make(map[string]*StepState, len(order))
	for _, id := range order {
		steps[id] = &StepState{Status: StepPending}
	}
	return &WorkflowState{
		WorkflowID:        workflowID,
		DefinitionName:    defName,
		DefinitionVersion: defVersion,
		StepStates:        steps,
		ExecutionOrder:    order,
		Status:            "pending",
		StartTime:         now,
		LastUpdateTime:    now,
		Meta:              ResumeMeta{OriginalStartTime: now},
	}
}

// CanResume reports resume eligibility: status is not a
// terminal success/cancel state, and at least one step is pending or
// partial.
func (s *WorkflowState) CanResume() bool {
	if s.Status == "completed" || s.Status == "cancelled" {
		return false
	}
	for _, st := range s.StepStates {
		if st.Status == StepPending || st.Status == StepPartial {
			return true
		}
	}
	return false
}

// Resume bumps resume bookkeeping ("Resuming increments
// resumeCount, appends to resumeReasons, and records lastResumeTime").
func (s *WorkflowState) Resume(reason string) {
	now := time.Now().UTC()
	s.ResumeCount++
	s.Meta.ResumeReasons = append(s.Meta.ResumeReasons, reason)
	s.Meta.LastResumeTime = &now
	s.LastUpdateTime = now
}

// Progress computes completed-or-terminal / total * 100 over the recorded
// step states.
func (s *WorkflowState) Progress() float64 {
	if len(s.StepStates) == 0 {
		return 100
	}
	done := 0
	for _, st := range s.StepStates {
		switch st.Status {
		case StepCompleted, StepFailed, StepSkipped:
			done++
		}
	}
	return float64(done) / float64(len(s.StepStates)) * 100
}

// Summary is the compact listing representation names.
type Summary struct {
	ID          string
	Name        string
	Version     string
	Status      string
	Progress    float64
	StartTime   time.Time
	LastUpdate  time.Time
	ResumeCount int
}

// ToSummary projects a WorkflowState down to its listing form.
func (s *WorkflowState) ToSummary() Summary {
	return Summary{
		ID:          s.WorkflowID,
		Name:        s.DefinitionName,
		Version:     s.DefinitionVersion,
		Status:      s.Status,
		Progress:    s.Progress(),
		StartTime:   s.StartTime,
		LastUpdate:  s.LastUpdateTime,
		ResumeCount: s.ResumeCount,
	}
}
