package executor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/flowengine/flowengine/pkg/expression"
	"github.com/flowengine/flowengine/pkg/wfcontext"
)

// ScriptExecutor runs a subprocess per "Script executor":
// interpolated command/args/cwd/env, stdout/stderr capture, exit-code
// success determination, and destructive-command safety checks.
//
// Grounded on internal/action/shell/action.go's exec.Cmd construction
// (argv building, cmd.Dir, env-append, buffered output capture, exit
// code extraction) generalized from a named tool operation into a
// step-typed executor driven by WorkflowContext interpolation.
type ScriptExecutor struct{}

// NewScriptExecutor creates a script step executor.
func NewScriptExecutor() *ScriptExecutor { return &ScriptExecutor{} }

func (s *ScriptExecutor) CanExecute(step Step) bool { return step.Type == StepTypeScript }

func (s *ScriptExecutor) Validate(step Step) ValidationResult {
	var errs []string
	if step.Type != StepTypeScript {
		errs = append(errs, fmt.Sprintf("expected script step, got %q", step.Type))
	}
	if _, ok := step.Config["command"]; !ok {
		errs = append(errs, "script step requires a command")
	}
	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// ScriptResult is the Output.Data payload for a script step.
type ScriptResult struct {
	Stdout     string
	Stderr     string
	ExitCode   int
	DurationMs int64
}

func (s *ScriptExecutor) Execute(ctx context.Context, step Step, wfCtx *wfcontext.Context) (Output, error) {
	evalCtx := buildExpressionContext(wfCtx)

	commandRaw, _ := step.Config["command"].(string)
	command, err := expression.Interpolate(commandRaw, evalCtx, expression.Options{Strict: true})
	if err != nil {
		return Output{}, fmt.Errorf("interpolating command: %w", err)
	}

	var args []string
	rawArgs, hasArgs := step.Config["args"].([]interface{})
	if hasArgs {
		for _, a := range rawArgs {
			str, _ := a.(string)
			interpolated, ierr := expression.Interpolate(str, evalCtx, expression.Options{Strict: true})
			if ierr != nil {
				return Output{}, fmt.Errorf("interpolating arg: %w", ierr)
			}
			args = append(args, interpolated)
		}
	}

	if reason := CheckCommandSafety(joinedCommand(command, args)); reason != "" {
		return Output{}, fmt.Errorf("command blocked by safety policy: %s", reason)
	}

	workingDir := ""
	if wd, ok := step.Config["workingDirectory"].(string); ok {
		workingDir, err = expression.Interpolate(wd, evalCtx, expression.Options{Strict: true})
		if err != nil {
			return Output{}, fmt.Errorf("interpolating workingDirectory: %w", err)
		}
	}

	env := os.Environ()
	if rawEnv, ok := step.Config["env"].(map[string]interface{}); ok {
		for k, v := range rawEnv {
			str, _ := v.(string)
			interpolated, ierr := expression.Interpolate(str, evalCtx, expression.Options{Strict: true})
			if ierr != nil {
				return Output{}, fmt.Errorf("interpolating env %s: %w", k, ierr)
			}
			env = append(env, fmt.Sprintf("%s=%s", k, interpolated))
		}
	}

	// An explicit args array runs the interpolated command as argv[0]
	// directly, like the array-command branch; a bare command
	// string is a full shell command line, run through sh -c, matching
	// the string-command branch (and the reason CheckCommandSafety
	// evaluates the joined line as a shell would see it).
	start := time.Now()
	var cmd *exec.Cmd
	if hasArgs {
		cmd = exec.CommandContext(ctx, command, args...)
	} else {
		cmd = exec.CommandContext(ctx, "sh", "-c", command)
	}
	if workingDir != "" {
		cmd.Dir = workingDir
	}
	cmd.Env = env

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	duration := time.Since(start)

	exitCode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return Output{}, fmt.Errorf("executing command: %w", runErr)
		}
	}

	result := ScriptResult{
		Stdout:     strings.TrimSpace(stdout.String()),
		Stderr:     strings.TrimSpace(stderr.String()),
		ExitCode:   exitCode,
		DurationMs: duration.Milliseconds(),
	}

	if exitCode != 0 {
		return Output{Data: result}, fmt.Errorf("script exited with code %d: %s", exitCode, result.Stderr)
	}
	return Output{Data: result}, nil
}

// buildExpressionContext adapts a wfcontext.Context snapshot into the
// expression package's Context shape for interpolation.
func buildExpressionContext(wfCtx *wfcontext.Context) *expression.Context {
	ec := expression.NewContext()
	ec.Variables = wfCtx.GetVariables()
	ec.StepOutputs = wfCtx.GetStepOutputs()
	ec.Env = wfCtx.GetEnvironmentVariables()
	ec.Workflow = expression.WorkflowMeta{
		ID:            wfCtx.GetWorkflowID(),
		CurrentStepID: wfCtx.GetCurrentStepID(),
		StartTime:     wfCtx.GetStartTime(),
	}
	return ec
}
