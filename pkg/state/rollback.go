package state

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/flowengine/flowengine/pkg/wfcontext"
)

// RollbackActionType tags RollbackAction's variant.
type RollbackActionType string

const (
	RollbackScript        RollbackActionType = "script"
	RollbackFileCleanup    RollbackActionType = "file_cleanup"
	RollbackVariableReset RollbackActionType = "variable_reset"
	RollbackCustom        RollbackActionType = "custom"
)

// RollbackAction is one compensating operation run after a failed step
//. Exactly one of the type-specific fields is meaningful,
// selected by Type.
type RollbackAction struct {
	Type RollbackActionType

	// script
	Command          string
	WorkingDirectory string

	// file_cleanup
	Paths []string

	// variable_reset
	Variables []string

	// custom
	HandlerName string
}

// RollbackConfig is Step.rollback.
type RollbackConfig struct {
	Enabled           bool
	Actions           []RollbackAction
	ClearPartialData  bool
	RetryAfterRollback bool
}

// CustomHandler is resolved by name from the handlers map passed to
// Rollback ("custom: dispatch to a named handler").
type CustomHandler func(ctx context.Context, wfCtx *wfcontext.Context) error

// Rollback executes a failed step's rollback actions in order (spec
// §4.8). Grounded on internal/action/shell/action.go's subprocess
// invocation style (script action) and pkg/wfcontext's variable store
// (variable_reset). A failing action is logged and its error collected
// into the returned slice; the remaining actions still run. The caller
// keeps the step's original failure regardless of rollback outcome.
func Rollback(ctx context.Context, cfg RollbackConfig, wfCtx *wfcontext.Context, handlers map[string]CustomHandler, logger *slog.Logger) []error {
	if logger == nil {
		logger = slog.Default()
	}
	var errs []error
	for _, action := range cfg.Actions {
		var err error
		switch action.Type {
		case RollbackScript:
			err = runRollbackScript(ctx, action)
		case RollbackFileCleanup:
			err = cleanupFiles(action.Paths)
		case RollbackVariableReset:
			resetVariables(wfCtx, action.Variables)
		case RollbackCustom:
			if h, ok := handlers[action.HandlerName]; ok {
				err = h(ctx, wfCtx)
			} else {
				err = fmt.Errorf("no rollback handler registered for %q", action.HandlerName)
			}
		default:
			err = fmt.Errorf("unknown rollback action type %q", action.Type)
		}
		if err != nil {
			logger.Error("rollback action failed", "type", action.Type, "error", err)
			errs = append(errs, err)
		}
	}
	return errs
}

func runRollbackScript(ctx context.Context, action RollbackAction) error {
	if strings.TrimSpace(action.Command) == "" {
		return fmt.Errorf("rollback script action requires a command")
	}
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", action.Command)
	if action.WorkingDirectory != "" {
		cmd.Dir = action.WorkingDirectory
	}
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("rollback script failed: %w (output: %s)", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// cleanupFiles unlinks every listed path, ignoring not-found (:
// "unlink listed paths, ignoring not-found").
func cleanupFiles(paths []string) error {
	var errs []string
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			errs = append(errs, fmt.Sprintf("%s: %v", p, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("file_cleanup failed for: %s", strings.Join(errs, "; "))
	}
	return nil
}

func resetVariables(wfCtx *wfcontext.Context, names []string) {
	for _, name := range names {
		wfCtx.SetVariable(name, nil)
	}
}
