package state

import "time"

// PartialVariableName is the reserved context variable name for a step's
// previously-saved partial data. This package only defines the name:
// ResumePartialData returns the saved data and does not set this (or any)
// context variable.
const PartialVariableName = "__partial__"

// Checkpoint is one call a step makes mid-execution to record progress
// ("Partial step execution"). A step executor is handed a
// CheckpointFunc closed over the step id; calling it updates the step's
// state to StepPartial without otherwise altering run control flow.
type CheckpointFunc func(partialData interface{}, checkpoint string, progress float64, canResume bool)

// CheckpointRecord groups the four values a CheckpointFunc receives. The
// CheckpointFunc built by NewCheckpointFunc stores only PartialData in
// StepState; the checkpoint label, progress and canResume values are not
// recorded.
type CheckpointRecord struct {
	PartialData interface{}
	Checkpoint  string
	Progress    float64
	CanResume   bool
}

// NewCheckpointFunc builds a CheckpointFunc that records into state's step
// state for stepID and invokes persist (typically Persistence.Save) so the
// checkpoint survives a crash between steps.
func NewCheckpointFunc(s *WorkflowState, stepID string, persist func(*WorkflowState) error) CheckpointFunc {
	return func(partialData interface{}, checkpoint string, progress float64, canResume bool) {
		st, ok := s.StepStates[stepID]
		if !ok {
			st = &StepState{}
			s.StepStates[stepID] = st
		}
		now := time.Now().UTC()
		st.Status = StepPartial
		st.PartialData = partialData
		if st.StartTime == nil {
			st.StartTime = &now
		}
		if persist != nil {
			_ = persist(s)
		}
	}
}

// ResumePartialData returns the partial data saved for stepID, if the step
// was left in StepPartial status by a prior run.
func ResumePartialData(s *WorkflowState, stepID string) (interface{}, bool) {
	st, ok := s.StepStates[stepID]
	if !ok || st.Status != StepPartial {
		return nil, false
	}
	return st.PartialData, true
}

// ClearPartialData erases stepID's partial data, 's
// clearPartialData rollback action.
func ClearPartialData(s *WorkflowState, stepID string) {
	if st, ok := s.StepStates[stepID]; ok {
		st.PartialData = nil
	}
}
