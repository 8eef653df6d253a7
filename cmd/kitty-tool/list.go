package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kittyfuzz/kitty/model"
	"github.com/kittyfuzz/kitty/templatefile"
)

// NewListCmd creates the list command.
func NewListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list FILE",
		Short: "List the templates a template file defines",
		Long: `List loads a template file and prints each template with its field
tree and mutation count.`,
		Args: cobra.ExactArgs(1),
		RunE: runListCmd,
	}
}

// runListCmd executes the list command.
func runListCmd(cmd *cobra.Command, args []string) error {
	templates, err := templatefile.Load(args[0])
	if err != nil {
		return err
	}
	for _, tmpl := range templates {
		fmt.Fprint(cmd.OutOrStdout(), model.Describe(tmpl).Tree())
	}
	return nil
}
