// Package loader implements the workflow file loader, LRU+TTL cache, and
// optional file-watcher mode It turns a directory of
// YAML/JSON workflow files into validated runner.WorkflowDefinition
// values, grounded on the teacher's pkg/workflow/definition.go for the
// YAML shape and internal/controller/filewatcher/watcher.go for the
// fsnotify reload path.
package loader

import (
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flowengine/flowengine/pkg/executor"
	"github.com/flowengine/flowengine/pkg/parallel"
	"github.com/flowengine/flowengine/pkg/retry"
	"github.com/flowengine/flowengine/pkg/runner"
	"github.com/flowengine/flowengine/pkg/state"
)

// rawParallelConfig is WorkflowDefinition.parallel.
type rawParallelConfig struct {
	Enabled               bool           `yaml:"enabled" json:"enabled"`
	DefaultMaxConcurrency int            `yaml:"defaultMaxConcurrency" json:"defaultMaxConcurrency"`
	Resources             map[string]int `yaml:"resources" json:"resources"`
}

// rawStepParallel is Step.parallel.
type rawStepParallel struct {
	Enabled       bool   `yaml:"enabled" json:"enabled"`
	Resource      string `yaml:"resource" json:"resource"`
	IsolateErrors bool   `yaml:"isolateErrors" json:"isolateErrors"`
}

// rawRetry is Step.retry.
type rawRetry struct {
	MaxAttempts    int     `yaml:"maxAttempts" json:"maxAttempts"`
	InitialDelayMs int     `yaml:"initialDelayMs" json:"initialDelayMs"`
	MaxDelayMs     int     `yaml:"maxDelayMs" json:"maxDelayMs"`
	BackoffFactor  float64 `yaml:"backoffFactor" json:"backoffFactor"`
	Retryable      *bool   `yaml:"retryable" json:"retryable"`
}

// rawRollbackAction is one RollbackConfig.actions[i].
type rawRollbackAction struct {
	Type             string   `yaml:"type" json:"type"`
	Command          string   `yaml:"command" json:"command"`
	WorkingDirectory string   `yaml:"workingDirectory" json:"workingDirectory"`
	Paths            []string `yaml:"paths" json:"paths"`
	Variables        []string `yaml:"variables" json:"variables"`
	HandlerName      string   `yaml:"handlerName" json:"handlerName"`
}

// rawRollback is Step.rollback.
type rawRollback struct {
	Enabled            bool                `yaml:"enabled" json:"enabled"`
	Actions            []rawRollbackAction `yaml:"actions" json:"actions"`
	ClearPartialData   bool                `yaml:"clearPartialData" json:"clearPartialData"`
	RetryAfterRollback bool                `yaml:"retryAfterRollback" json:"retryAfterRollback"`
}

// rawStep is one entry of WorkflowDefinition.steps (/§6).
type rawStep struct {
	ID              string                 `yaml:"id" json:"id"`
	Name            string                 `yaml:"name" json:"name"`
	Type            string                 `yaml:"type" json:"type"`
	Config          map[string]interface{} `yaml:"config" json:"config"`
	DependsOn       []string               `yaml:"dependsOn" json:"dependsOn"`
	Condition       string                 `yaml:"condition" json:"condition"`
	Parallel        rawStepParallel        `yaml:"parallel" json:"parallel"`
	ContinueOnError bool                   `yaml:"continueOnError" json:"continueOnError"`
	TimeoutMs       int                    `yaml:"timeout" json:"timeout"`
	Retry           *rawRetry              `yaml:"retry" json:"retry"`
	Rollback        *rawRollback           `yaml:"rollback" json:"rollback"`
}

// rawDefinition is the on-disk WorkflowDefinition shape names.
type rawDefinition struct {
	Name        string            `yaml:"name" json:"name"`
	Version     string            `yaml:"version" json:"version"`
	Description string            `yaml:"description" json:"description"`
	TimeoutMs   int               `yaml:"timeout" json:"timeout"`
	Parallel    rawParallelConfig `yaml:"parallel" json:"parallel"`
	Steps       []rawStep         `yaml:"steps" json:"steps"`
}

// looksLikeWorkflow applies cheap prefilter directly against
// the parsed YAML/JSON node tree, before full unmarshalling: a string
// name, a string version, and a non-empty steps[] whose first element
// has id/name/type. This keeps unrelated YAML (agent configs, compose
// files) out of the discovered set without paying for a full decode.
func looksLikeWorkflow(doc map[string]interface{}) bool {
	name, ok := doc["name"].(string)
	if !ok || name == "" {
		return false
	}
	version, ok := doc["version"].(string)
	if !ok || version == "" {
		return false
	}
	stepsVal, ok := doc["steps"]
	if !ok {
		return false
	}
	steps, ok := stepsVal.([]interface{})
	if !ok || len(steps) == 0 {
		return false
	}
	first, ok := steps[0].(map[string]interface{})
	if !ok {
		return false
	}
	for _, key := range []string{"id", "name", "type"} {
		if _, ok := first[key]; !ok {
			return false
		}
	}
	return true
}

// decodeGenericDoc parses data as YAML (a superset of JSON) into a
// generic node tree for prefiltering.
func decodeGenericDoc(data []byte) (map[string]interface{}, error) {
	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// toDefinition converts the raw on-disk shape into the engine's
// runner.WorkflowDefinition, resolving per-step retry/rollback policies
// into their pkg/retry and pkg/state types.
func (rd *rawDefinition) toDefinition() *runner.WorkflowDefinition {
	def := &runner.WorkflowDefinition{
		Name:                  rd.Name,
		Version:               rd.Version,
		Description:           rd.Description,
		ParallelEnabled:       rd.Parallel.Enabled,
		DefaultMaxConcurrency: rd.Parallel.DefaultMaxConcurrency,
		Timeout:               time.Duration(rd.TimeoutMs) * time.Millisecond,
	}
	if len(rd.Parallel.Resources) > 0 {
		def.Resources = parallel.ResourcePool(rd.Parallel.Resources)
	}
	for _, rs := range rd.Steps {
		step := executor.Step{
			ID:              rs.ID,
			Name:            rs.Name,
			Type:            executor.StepType(rs.Type),
			Config:          rs.Config,
			DependsOn:       rs.DependsOn,
			Condition:       rs.Condition,
			ContinueOnError: rs.ContinueOnError,
			Timeout:         time.Duration(rs.TimeoutMs) * time.Millisecond,
			Parallel: executor.ParallelOptions{
				Enabled:       rs.Parallel.Enabled,
				Resource:      rs.Parallel.Resource,
				IsolateErrors: rs.Parallel.IsolateErrors,
			},
		}
		if rs.Retry != nil {
			policy := retry.DefaultPolicy()
			if rs.Retry.MaxAttempts > 0 {
				policy.MaxAttempts = rs.Retry.MaxAttempts
			}
			if rs.Retry.InitialDelayMs > 0 {
				policy.InitialDelay = time.Duration(rs.Retry.InitialDelayMs) * time.Millisecond
			}
			if rs.Retry.MaxDelayMs > 0 {
				policy.MaxDelay = time.Duration(rs.Retry.MaxDelayMs) * time.Millisecond
			}
			if rs.Retry.BackoffFactor > 0 {
				policy.BackoffFactor = rs.Retry.BackoffFactor
			}
			if rs.Retry.Retryable != nil {
				policy.RetryableHint = *rs.Retry.Retryable
			}
			step.Retry = &policy
		}
		if rs.Rollback != nil {
			rb := &state.RollbackConfig{
				Enabled:            rs.Rollback.Enabled,
				ClearPartialData:   rs.Rollback.ClearPartialData,
				RetryAfterRollback: rs.Rollback.RetryAfterRollback,
			}
			for _, a := range rs.Rollback.Actions {
				rb.Actions = append(rb.Actions, state.RollbackAction{
					Type:             state.RollbackActionType(a.Type),
					Command:          a.Command,
					WorkingDirectory: a.WorkingDirectory,
					Paths:            a.Paths,
					Variables:        a.Variables,
					HandlerName:      a.HandlerName,
				})
			}
			step.Rollback = rb
		}
		def.Steps = append(def.Steps, step)
	}
	return def
}
