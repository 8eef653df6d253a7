package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for kitty-tool.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kitty-tool",
		Short: "Inspect template files and generate payload corpora",
		Long: `kitty-tool works with template files outside a fuzzing session.

list shows the templates a file defines, with their field trees and
mutation counts. generate renders a range of mutations of one template
into payload files, which makes a corpus for offline fuzzing or
regression testing.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")

	cmd.AddCommand(NewGenerateCmd())
	cmd.AddCommand(NewListCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
