package state

import (
	"encoding/json"
	"time"

	"github.com/flowengine/flowengine/pkg/wfcontext"
)

// taggedTime is the {__type:"Date", value:"ISO-8601"} wire form of a
// time.Time field of the persisted state. Only the state's own time.Time
// fields use it: values held inside ContextSnapshot.Variables,
// StepOutputs, a step's Result.Output or PartialData are written by
// encoding/json's default handling (a time.Time becomes an untagged
// RFC 3339 string) and are read back as plain strings.
type taggedTime struct {
	Type  string `json:"__type"`
	Value string `json:"value"`
}

const dateTypeTag = "Date"

func marshalTime(t time.Time) taggedTime {
	return taggedTime{Type: dateTypeTag, Value: t.UTC().Format(time.RFC3339Nano)}
}

// wireStepState is the JSON shape for StepState, with time.Time fields
// pulled out into explicit tagged wrappers rather than relying on
// encoding/json's default RFC3339 handling, so the step's start and end
// timestamps carry the same __type tag as the state's top-level times.
type wireStepState struct {
	Status       StepStatus  `json:"status"`
	Result       *StepResult `json:"result,omitempty"`
	StartTime    *taggedTime `json:"startTime,omitempty"`
	EndTime      *taggedTime `json:"endTime,omitempty"`
	AttemptCount int         `json:"attemptCount"`
	PartialData  interface{} `json:"partialData,omitempty"`
}

type wireResumeMeta struct {
	OriginalStartTime   taggedTime  `json:"originalStartTime"`
	TotalPausedDuration time.Duration `json:"totalPausedDuration"`
	LastResumeTime      *taggedTime `json:"lastResumeTime,omitempty"`
	ResumeReasons       []string    `json:"resumeReasons,omitempty"`
}

type wireState struct {
	WorkflowID        string                    `json:"workflowId"`
	DefinitionName    string                    `json:"definitionName"`
	DefinitionVersion string                    `json:"definitionVersion"`
	Definition        Definition                `json:"definition"`
	ContextSnapshot   wireContextSnapshot       `json:"contextSnapshot"`
	StepStates        map[string]*wireStepState `json:"stepStates"`
	ExecutionOrder    []string                  `json:"executionOrder"`
	CurrentStepIndex  int                       `json:"currentStepIndex"`
	Status            string                    `json:"status"`
	StartTime         taggedTime                `json:"startTime"`
	LastUpdateTime    taggedTime                `json:"lastUpdateTime"`
	ResumeCount       int                       `json:"resumeCount"`
	Meta              wireResumeMeta            `json:"meta"`
}

type wireContextSnapshot struct {
	WorkflowID    string                 `json:"workflowId"`
	Variables     map[string]interface{} `json:"variables"`
	StepOutputs   map[string]interface{} `json:"stepOutputs"`
	Env           map[string]string      `json:"env"`
	Logs          []wireLogEntry         `json:"logs"`
	StartTime     taggedTime             `json:"startTime"`
	CurrentStepID string                 `json:"currentStepId"`
}

type wireLogEntry struct {
	Timestamp taggedTime           `json:"timestamp"`
	Level     wfcontextLogLevel    `json:"level"`
	Message   string               `json:"message"`
}

// wfcontextLogLevel is an alias so codec.go doesn't need a direct import
// cycle; defined as a plain string since wfcontext.LogLevel is one too.
type wfcontextLogLevel = string

// Marshal serializes a WorkflowState to its JSON wire form, tagging every
// time.Time field of the state struct (see taggedTime).
func Marshal(s *WorkflowState) ([]byte, error) {
	w := wireState{
		WorkflowID:        s.WorkflowID,
		DefinitionName:    s.DefinitionName,
		DefinitionVersion: s.DefinitionVersion,
		Definition:        s.Definition,
		ExecutionOrder:    s.ExecutionOrder,
		CurrentStepIndex:  s.CurrentStepIndex,
		Status:            s.Status,
		StartTime:         marshalTime(s.StartTime),
		LastUpdateTime:    marshalTime(s.LastUpdateTime),
		ResumeCount:       s.ResumeCount,
		Meta: wireResumeMeta{
			OriginalStartTime:   marshalTime(s.Meta.OriginalStartTime),
			TotalPausedDuration: s.Meta.TotalPausedDuration,
			ResumeReasons:       s.Meta.ResumeReasons,
		},
		ContextSnapshot: wireContextSnapshot{
			WorkflowID:    s.ContextSnapshot.WorkflowID,
			Variables:     s.ContextSnapshot.Variables,
			StepOutputs:   s.ContextSnapshot.StepOutputs,
			Env:           s.ContextSnapshot.Env,
			StartTime:     marshalTime(s.ContextSnapshot.StartTime),
			CurrentStepID: s.ContextSnapshot.CurrentStepID,
		},
		StepStates: make(map[string]*wireStepState, len(s.StepStates)),
	}
	if s.Meta.LastResumeTime != nil {
		t := marshalTime(*s.Meta.LastResumeTime)
		w.Meta.LastResumeTime = &t
	}
	for _, l := range s.ContextSnapshot.Logs {
		w.ContextSnapshot.Logs = append(w.ContextSnapshot.Logs, wireLogEntry{
			Timestamp: marshalTime(l.Timestamp),
			Level:     string(l.Level),
			Message:   l.Message,
		})
	}
	for id, st := range s.StepStates {
		ws := &wireStepState{Status: st.Status, Result: st.Result, AttemptCount: st.AttemptCount, PartialData: st.PartialData}
		if st.StartTime != nil {
			t := marshalTime(*st.StartTime)
			ws.StartTime = &t
		}
		if st.EndTime != nil {
			t := marshalTime(*st.EndTime)
			ws.EndTime = &t
		}
		w.StepStates[id] = ws
	}
	return json.MarshalIndent(w, "", "  ")
}

func unmarshalTime(t taggedTime) (time.Time, error) {
	if t.Value == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, t.Value)
}

// Unmarshal rehydrates a WorkflowState from its JSON wire form, parsing
// every tagged date back into a time.Time.
func Unmarshal(data []byte) (*WorkflowState, error) {
	var w wireState
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}

	startTime, err := unmarshalTime(w.StartTime)
	if err != nil {
		return nil, err
	}
	lastUpdate, err := unmarshalTime(w.LastUpdateTime)
	if err != nil {
		return nil, err
	}
	ctxStart, err := unmarshalTime(w.ContextSnapshot.StartTime)
	if err != nil {
		return nil, err
	}
	origStart, err := unmarshalTime(w.Meta.OriginalStartTime)
	if err != nil {
		return nil, err
	}

	s := &WorkflowState{
		WorkflowID:        w.WorkflowID,
		DefinitionName:    w.DefinitionName,
		DefinitionVersion: w.DefinitionVersion,
		Definition:        w.Definition,
		ExecutionOrder:    w.ExecutionOrder,
		CurrentStepIndex:  w.CurrentStepIndex,
		Status:            w.Status,
		StartTime:         startTime,
		LastUpdateTime:    lastUpdate,
		ResumeCount:       w.ResumeCount,
		Meta: ResumeMeta{
			OriginalStartTime:   origStart,
			TotalPausedDuration: w.Meta.TotalPausedDuration,
			ResumeReasons:       w.Meta.ResumeReasons,
		},
		ContextSnapshot: wfcontext.Snapshot{
			WorkflowID:    w.ContextSnapshot.WorkflowID,
			Variables:     w.ContextSnapshot.Variables,
			StepOutputs:   w.ContextSnapshot.StepOutputs,
			Env:           w.ContextSnapshot.Env,
			StartTime:     ctxStart,
			CurrentStepID: w.ContextSnapshot.CurrentStepID,
		},
		StepStates: make(map[string]*StepState, len(w.StepStates)),
	}
	if w.Meta.LastResumeTime != nil {
		t, err := unmarshalTime(*w.Meta.LastResumeTime)
		if err != nil {
			return nil, err
		}
		s.Meta.LastResumeTime = &t
	}
	for _, l := range w.ContextSnapshot.Logs {
		ts, err := unmarshalTime(l.Timestamp)
		if err != nil {
			return nil, err
		}
		s.ContextSnapshot.Logs = append(s.ContextSnapshot.Logs, wfcontext.LogEntry{
			Timestamp: ts,
			Level:     wfcontext.LogLevel(l.Level),
			Message:   l.Message,
		})
	}
	for id, ws := range w.StepStates {
		st := &StepState{Status: ws.Status, Result: ws.Result, AttemptCount: ws.AttemptCount, PartialData: ws.PartialData}
		if ws.StartTime != nil {
			t, err := unmarshalTime(*ws.StartTime)
			if err != nil {
				return nil, err
			}
			st.StartTime = &t
		}
		if ws.EndTime != nil {
			t, err := unmarshalTime(*ws.EndTime)
			if err != nil {
				return nil, err
			}
			st.EndTime = &t
		}
		s.StepStates[id] = st
	}
	return s, nil
}
