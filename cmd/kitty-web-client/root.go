package main

import (
	"fmt"
	"os"
	"runtime/debug"
	"time"

	"github.com/spf13/cobra"

	"github.com/kittyfuzz/kitty/web"
)

// Version information set at build time via ldflags.
var version = ""

// getVersion returns version string.
// Priority: ldflags > debug.ReadBuildInfo > "(devel)"
func getVersion() string {
	if version != "" {
		return version
	}
	if buildInfo, ok := debug.ReadBuildInfo(); ok {
		if buildInfo.Main.Version != "" {
			return buildInfo.Main.Version
		}
	}
	return "(devel)"
}

// NewRootCmd creates the root command for kitty-web-client.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kitty-web-client",
		Short: "Control a running fuzzing session over its web interface",
		Long: `kitty-web-client talks to the web interface of a running fuzzing
session. It shows the session progress, pauses and resumes the engine
and downloads stored failure reports for offline inspection.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().String("host", "localhost", "Host of the web interface")
	cmd.PersistentFlags().Int("port", 26000, "Port of the web interface")

	cmd.AddCommand(NewInfoCmd())
	cmd.AddCommand(NewPauseCmd())
	cmd.AddCommand(NewResumeCmd())
	cmd.AddCommand(NewReportsCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// sessionClient builds the API client from the host and port flags.
func sessionClient(cmd *cobra.Command) *web.Client {
	host, _ := cmd.Flags().GetString("host")
	port, _ := cmd.Flags().GetInt("port")
	return web.NewClient(host, port)
}

// NewInfoCmd creates the info command.
func NewInfoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show the progress of the session",
		Args:  cobra.NoArgs,
		RunE:  runInfoCmd,
	}
	cmd.Flags().BoolP("verbose", "v", false, "Also show stages and stored reports")
	return cmd
}

// runInfoCmd executes the info command.
func runInfoCmd(cmd *cobra.Command, _ []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	client := sessionClient(cmd)
	stats, err := client.Stats(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Session:    %s\n", stats.SessionID)
	fmt.Fprintf(out, "Started:    %s\n", stats.StartTime.Format(time.RFC3339))
	fmt.Fprintf(out, "Progress:   test %d of %d\n", stats.CurrentIndex, stats.EndIndex)
	fmt.Fprintf(out, "Failures:   %d\n", stats.FailureCount)
	if stats.Paused {
		fmt.Fprintln(out, "State:      paused")
	} else {
		fmt.Fprintln(out, "State:      running")
		if stats.ETASeconds > 0 {
			fmt.Fprintf(out, "ETA:        %s\n", (time.Duration(stats.ETASeconds) * time.Second).Round(time.Second))
		}
	}
	fmt.Fprintf(out, "Current:    %s (sequence of %d)\n",
		stats.CurrentTest.Template, stats.CurrentTest.Sequence)

	if !verbose {
		return nil
	}
	stages, err := client.Stages(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "Stages:")
	for _, s := range stages {
		fmt.Fprintf(out, "  %s\n", s)
	}
	sums, err := client.ReportSummaries(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Stored reports: %d\n", len(sums))
	for _, s := range sums {
		fmt.Fprintf(out, "  test %d: %s (%s)\n", s.TestID, s.Status, s.Reason)
	}
	return nil
}

// NewPauseCmd creates the pause command.
func NewPauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause",
		Short: "Pause the session before its next test",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := sessionClient(cmd).Pause(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "session paused")
			return nil
		},
	}
}

// NewResumeCmd creates the resume command.
func NewResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Resume a paused session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := sessionClient(cmd).Resume(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "session resumed")
			return nil
		},
	}
}
