// Package expression implements the workflow engine's {{ ... }} interpolation
// grammar: variable paths, array indexing, and a fixed catalog of built-in
// functions. It deliberately avoids embedding a general-purpose scripting
// runtime — the grammar is small, fixed, and testable (VarRef | Index |
// FnCall | Literal), grounded on the teacher's {{ ... }} template resolver
// in pkg/workflow/expression/template.go but generalized to the full path
// grammar and function catalog this engine's spec requires.
package expression

import "time"

// WorkflowMeta exposes the subset of run metadata reachable via
// {{ workflow.* }} expressions.
type WorkflowMeta struct {
	ID            string
	CurrentStepID string
	StartTime     time.Time
	ExecutionTime time.Duration
}

// Context is the typed root against which {{ ... }} expressions resolve.
// It mirrors the four path roots spec'd for the interpolator: variables,
// steps, env, and workflow metadata, plus the bare-identifier shorthand for
// "variables.<id>".
type Context struct {
	// Variables holds workflow- and step-scoped variables.
	Variables map[string]any

	// StepOutputs maps step ID to that step's recorded output.
	StepOutputs map[string]any

	// Env is the environment snapshot visible to expressions.
	Env map[string]string

	// Workflow carries run-level metadata.
	Workflow WorkflowMeta
}

// NewContext creates an empty Context with initialized maps.
func NewContext() *Context {
	return &Context{
		Variables:   make(map[string]any),
		StepOutputs: make(map[string]any),
		Env:         make(map[string]string),
	}
}
