package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kittyfuzz/kitty/report"
)

// NewReportsCmd creates the reports command group.
func NewReportsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reports",
		Short: "Download and inspect stored failure reports",
	}
	cmd.AddCommand(NewReportsStoreCmd())
	cmd.AddCommand(NewReportsShowCmd())
	return cmd
}

// NewReportsStoreCmd creates the reports store command.
func NewReportsStoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "store FOLDER",
		Short: "Download all stored reports into a folder",
		Long: `Store fetches every stored report of the session and writes each one
as report_<test>.json into the given folder.`,
		Args: cobra.ExactArgs(1),
		RunE: runReportsStoreCmd,
	}
}

// runReportsStoreCmd executes the reports store command.
func runReportsStoreCmd(cmd *cobra.Command, args []string) error {
	folder := args[0]
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return fmt.Errorf("create report folder: %w", err)
	}
	client := sessionClient(cmd)
	sums, err := client.ReportSummaries(cmd.Context())
	if err != nil {
		return err
	}
	for _, s := range sums {
		rep, err := client.Report(cmd.Context(), s.TestID)
		if err != nil {
			return err
		}
		content, err := json.MarshalIndent(rep, "", "  ")
		if err != nil {
			return fmt.Errorf("serialize report of test %d: %w", s.TestID, err)
		}
		path := filepath.Join(folder, fmt.Sprintf("report_%d.json", s.TestID))
		if err := os.WriteFile(path, content, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "stored %d reports in %s\n", len(sums), folder)
	return nil
}

// NewReportsShowCmd creates the reports show command.
func NewReportsShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show FILE ...",
		Short: "Print downloaded report files",
		Long: `Show reads report files written by "reports store" and prints them in
a readable form.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runReportsShowCmd,
	}
	cmd.Flags().BoolP("markdown", "m", false, "Print Markdown instead of plain text")
	return cmd
}

// runReportsShowCmd executes the reports show command.
func runReportsShowCmd(cmd *cobra.Command, args []string) error {
	markdown, _ := cmd.Flags().GetBool("markdown")
	for _, path := range args {
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read report file: %w", err)
		}
		var rep report.Report
		if err := json.Unmarshal(content, &rep); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		var w report.Writer
		if markdown {
			w = report.NewMarkdownWriter(cmd.OutOrStdout())
		} else {
			w = report.NewTextWriter(cmd.OutOrStdout())
		}
		if err := w.Write(&rep); err != nil {
			return fmt.Errorf("print %s: %w", path, err)
		}
	}
	return nil
}
