package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/flowengine/flowengine/pkg/loader"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <directory>",
		Short: "Discover and validate every workflow file under a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := loader.Load(args[0])
			if err != nil {
				return err
			}
			for _, wf := range result.Workflows {
				fmt.Printf("OK   %s (%s v%s, %d steps)\n", wf.FilePath, wf.Definition.Name, wf.Definition.Version, len(wf.Definition.Steps))
			}
			for _, le := range result.Errors {
				fmt.Printf("FAIL %s: %v\n", le.FilePath, le.Err)
			}
			fmt.Printf("\n%d valid, %d invalid\n", len(result.Workflows), len(result.Errors))
			if len(result.Errors) > 0 {
				return fmt.Errorf("%d workflow file(s) failed validation", len(result.Errors))
			}
			return nil
		},
	}
}
