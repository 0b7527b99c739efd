package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is injected via ldflags at build time, matching the teacher's
// cmd/conductor versioning convention.
var version = "dev"

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "flowengine",
		Short:   "Declarative workflow execution engine",
		Version: version,
	}
	root.AddCommand(newRunCmd())
	root.AddCommand(newValidateCmd())
	root.AddCommand(newCacheCmd())
	return root
}
