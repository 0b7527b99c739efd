package main

import (
	"github.com/flowengine/flowengine/pkg/hooks"
	"github.com/flowengine/flowengine/pkg/runner"
)

// buildStatusReporter projects a finished runner.Result onto a
// hooks.StatusReporter so `run` can print the same icon/duration/error
// summary the engine emits mid-run via hooks.
func buildStatusReporter(def *runner.WorkflowDefinition, result runner.Result) *hooks.StatusReporter {
	ids := make([]string, 0, len(def.Steps))
	names := make(map[string]string, len(def.Steps))
	for _, s := range def.Steps {
		ids = append(ids, s.ID)
		names[s.ID] = s.Name
	}
	r := hooks.NewStatusReporter(ids, names)
	for _, id := range ids {
		res, ok := result.StepResults[id]
		if !ok {
			continue
		}
		r.MarkRunning(id)
		status := hooks.StepCompleted
		if !res.Success {
			status = hooks.StepFailed
		}
		r.MarkTerminal(id, status, res.Output, res.Error)
	}
	return r
}
