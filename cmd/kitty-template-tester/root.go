package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kittyfuzz/kitty/internal/log"
	"github.com/kittyfuzz/kitty/model"
	"github.com/kittyfuzz/kitty/templatefile"
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

// NewRootCmd creates the root command for kitty-template-tester.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kitty-template-tester [flags] FILE ...",
		Short: "Sanity check template files before fuzzing",
		Long: `kitty-template-tester loads each template file and renders every
mutation of every template it defines. Rendering failures that would
abort a fuzzing session halfway are caught here instead.

Examples:
  # Check every mutation of two template files
  kitty-template-tester http.yaml ftp.yaml

  # Only check that the files load and the defaults render
  kitty-template-tester --fast http.yaml

  # Print the field tree of each template
  kitty-template-tester --tree http.yaml`,
		Args:          cobra.MinimumNArgs(1),
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runRootCmd,
	}

	cmd.Flags().Bool("fast", false, "Only load and render defaults, skip the mutation walk")
	cmd.Flags().Bool("tree", false, "Print the field tree of each template")
	cmd.Flags().BoolP("verbose", "v", false, "Enable verbose logging")

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// fileResult is the outcome of testing one template file.
type fileResult struct {
	path      string
	templates []templateResult
	err       error
}

type templateResult struct {
	name      string
	mutations int
	defSize   int
	tree      string
}

// runRootCmd executes the root command.
func runRootCmd(cmd *cobra.Command, args []string) error {
	fast, _ := cmd.Flags().GetBool("fast")
	tree, _ := cmd.Flags().GetBool("tree")
	verbose, _ := cmd.Flags().GetBool("verbose")

	logger := log.NewLogger(cmd.ErrOrStderr(), verbose)
	slog.SetDefault(logger)

	results := make([]fileResult, len(args))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(4)
	for i, path := range args {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res := testFile(path, fast, tree, logger)
			mu.Lock()
			results[i] = res
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	failed := 0
	for _, res := range results {
		if res.err != nil {
			failed++
			fmt.Fprintf(cmd.OutOrStdout(), "FAIL %s: %v\n", res.path, res.err)
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "OK   %s\n", res.path)
		for _, tr := range res.templates {
			fmt.Fprintf(cmd.OutOrStdout(), "     %s: %d mutations, default payload %d bytes\n",
				tr.name, tr.mutations, tr.defSize)
			if tr.tree != "" {
				fmt.Fprint(cmd.OutOrStdout(), indent(tr.tree, "     "))
			}
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d template files failed", failed, len(args))
	}
	return nil
}

// testFile loads one template file and renders its mutations.
func testFile(path string, fast, tree bool, logger *slog.Logger) fileResult {
	res := fileResult{path: path}
	templates, err := templatefile.Load(path)
	if err != nil {
		res.err = err
		return res
	}
	for _, tmpl := range templates {
		tr := templateResult{name: tmpl.Name(), mutations: tmpl.NumMutations()}
		payload, err := tmpl.RenderBytes()
		if err != nil {
			res.err = fmt.Errorf("template %s: default render: %w", tmpl.Name(), err)
			return res
		}
		tr.defSize = len(payload)
		if tree {
			tr.tree = model.Describe(tmpl).Tree()
		}
		if !fast {
			// Two walks: the second catches state the first left behind
			// after Reset.
			for pass := 0; pass < 2; pass++ {
				if err := walkMutations(tmpl, logger); err != nil {
					res.err = fmt.Errorf("template %s: %w", tmpl.Name(), err)
					return res
				}
			}
		}
		res.templates = append(res.templates, tr)
	}
	return res
}

// walkMutations renders every mutation of tmpl and rewinds it.
func walkMutations(tmpl *model.Template, logger *slog.Logger) error {
	defer tmpl.Reset()
	for i := 0; tmpl.Mutate(); i++ {
		payload, err := tmpl.RenderBytes()
		if err != nil {
			return fmt.Errorf("mutation %d: %w", i, err)
		}
		logger.Debug("rendered mutation",
			slog.String("template", tmpl.Name()),
			slog.Int("mutation", i),
			slog.Int("bytes", len(payload)))
	}
	return nil
}

func indent(s, prefix string) string {
	var sb strings.Builder
	for _, line := range strings.Split(strings.TrimRight(s, "\n"), "\n") {
		sb.WriteString(prefix)
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	return sb.String()
}
