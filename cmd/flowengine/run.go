package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/flowengine/flowengine/pkg/engine"
	"github.com/flowengine/flowengine/pkg/loader"
)

func newRunCmd() *cobra.Command {
	var stateDir string
	var vars []string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "run <workflow-file>",
		Short: "Run a single workflow file to completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("reading workflow file: %w", err)
			}
			lw, loadErr := loader.LoadBytes(path, data)
			if loadErr != nil {
				return fmt.Errorf("loading workflow: %w", loadErr)
			}

			eng, err := engine.New(stateDir)
			if err != nil {
				return err
			}

			initialVars := map[string]any{}
			for _, kv := range vars {
				parts := strings.SplitN(kv, "=", 2)
				if len(parts) != 2 {
					return fmt.Errorf("--var expects key=value, got %q", kv)
				}
				initialVars[parts[0]] = parts[1]
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			workflowID := uuid.NewString()
			result, err := eng.Run(ctx, workflowID, lw.Definition, initialVars, envMap())
			reporter := buildStatusReporter(lw.Definition, result.Result)
			fmt.Println(reporter.Summary())
			if err != nil {
				return err
			}
			if !result.Result.Success {
				return fmt.Errorf("workflow %q finished with failures", lw.Definition.Name)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&stateDir, "state-dir", "./flowengine-state", "directory for persisted workflow state")
	cmd.Flags().StringArrayVar(&vars, "var", nil, "initial variable as key=value (repeatable)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "overall run timeout (0 = no timeout)")
	return cmd
}

func envMap() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) == 2 {
			env[parts[0]] = parts[1]
		}
	}
	return env
}
