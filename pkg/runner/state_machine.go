package runner

import (
	"fmt"
	"time"

	flowerrors "github.com/flowengine/flowengine/pkg/errors"
)

// Status is the workflow-level state names.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// transition is a single allowed (from, event) -> to edge, adapted
// from pkg/workflow/workflow.go's Transition type, trimmed to the
// three terminal outcomes pause/resume
// cycle.
type transition struct {
	from  Status
	to    Status
	event string
}

var transitions = []transition{
	{from: StatusPending, to: StatusRunning, event: "start"},
	{from: StatusRunning, to: StatusCompleted, event: "complete"},
	{from: StatusRunning, to: StatusFailed, event: "fail"},
	{from: StatusRunning, to: StatusCancelled, event: "cancel"},
	{from: StatusPending, to: StatusCancelled, event: "cancel"},
}

// StateMachine drives one run's Status through pending -> running ->
// {completed, failed, cancelled}, publishing hook events on every
// transition.
type StateMachine struct {
	status      Status
	startTime   time.Time
	endTime     time.Time
	onTransition func(from, to Status)
}

// NewStateMachine creates a state machine starting in StatusPending.
func NewStateMachine(onTransition func(from, to Status)) *StateMachine {
	return &StateMachine{status: StatusPending, onTransition: onTransition}
}

// Trigger attempts the named event from the current status.
func (sm *StateMachine) Trigger(event string) error {
	for _, t := range transitions {
		if t.from == sm.status && t.event == event {
			old := sm.status
			sm.status = t.to
			now := time.Now()
			if t.to == StatusRunning && sm.startTime.IsZero() {
				sm.startTime = now
			}
			if t.to.IsTerminal() {
				sm.endTime = now
			}
			if sm.onTransition != nil {
				sm.onTransition(old, t.to)
			}
			return nil
		}
	}
	return &flowerrors.ValidationError{
		Field:   "event",
		Message: fmt.Sprintf("cannot trigger %q from status %q", event, sm.status),
	}
}

// GetStatus is the read-only observer names.
func (sm *StateMachine) GetStatus() Status { return sm.status }

// GetProgress computes completed/total*100 over the given counts.
func GetProgress(completedOrTerminal, total int) float64 {
	if total == 0 {
		return 100
	}
	return float64(completedOrTerminal) / float64(total) * 100
}
