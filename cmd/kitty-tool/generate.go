package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/kittyfuzz/kitty/internal/log"
	"github.com/kittyfuzz/kitty/model"
	"github.com/kittyfuzz/kitty/templatefile"
)

// NewGenerateCmd creates the generate command.
func NewGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate [flags] FILE TEMPLATE",
		Short: "Render mutations of a template into payload files",
		Long: `Generate renders a range of mutations of one template into numbered
payload files. Each payload lands in <outdir>/<template>_<index>.bin
and a metadata file describes the generated corpus.

Examples:
  # All mutations of the get_request template
  kitty-tool generate http.yaml get_request

  # 100 payloads starting at mutation 500, into ./corpus
  kitty-tool generate -s 500 -c 100 -o corpus http.yaml get_request`,
		Args: cobra.ExactArgs(2),
		RunE: runGenerateCmd,
	}

	cmd.Flags().IntP("skip", "s", 0, "Skip the first SKIP mutations")
	cmd.Flags().IntP("count", "c", -1, "Number of payloads to generate (-1 for all remaining)")
	cmd.Flags().StringP("out", "o", "out", "Output directory for the payload files (must not exist)")

	return cmd
}

// payloadMetadata describes one generated payload, stored next to its
// .bin file.
type payloadMetadata struct {
	TemplateFile string    `json:"template_file"`
	Template     string    `json:"template"`
	ModelHash    uint64    `json:"model_hash"`
	Mutation     int       `json:"mutation"`
	Bytes        int       `json:"bytes"`
	GeneratedAt  time.Time `json:"generated_at"`
}

// runGenerateCmd executes the generate command.
func runGenerateCmd(cmd *cobra.Command, args []string) error {
	skip, _ := cmd.Flags().GetInt("skip")
	count, _ := cmd.Flags().GetInt("count")
	outDir, _ := cmd.Flags().GetString("out")
	verbose, _ := cmd.Flags().GetBool("verbose")

	logger := log.NewLogger(cmd.ErrOrStderr(), verbose)
	slog.SetDefault(logger)

	if skip < 0 {
		return fmt.Errorf("skip must not be negative")
	}
	path, templateName := args[0], args[1]
	tmpl, err := findTemplate(path, templateName)
	if err != nil {
		return err
	}
	if skip > 0 && tmpl.Skip(skip) < skip {
		return fmt.Errorf("template %s has only %d mutations, cannot skip %d",
			templateName, tmpl.NumMutations(), skip)
	}
	// A fresh directory per corpus, so runs never mix payloads.
	if _, err := os.Stat(outDir); err == nil {
		return fmt.Errorf("output directory %s already exists", outDir)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	generated := 0
	for i := skip; count < 0 || generated < count; i++ {
		if !tmpl.Mutate() {
			break
		}
		payload, err := tmpl.RenderBytes()
		if err != nil {
			return fmt.Errorf("render mutation %d: %w", i, err)
		}
		name := fmt.Sprintf("%s_%d.bin", templateName, i)
		if err := os.WriteFile(filepath.Join(outDir, name), payload, 0o644); err != nil {
			return fmt.Errorf("write payload file: %w", err)
		}
		meta := payloadMetadata{
			TemplateFile: path,
			Template:     templateName,
			ModelHash:    tmpl.Hash(),
			Mutation:     i,
			Bytes:        len(payload),
			GeneratedAt:  time.Now().UTC(),
		}
		metaJSON, err := json.MarshalIndent(meta, "", "  ")
		if err != nil {
			return fmt.Errorf("serialize metadata of mutation %d: %w", i, err)
		}
		if err := os.WriteFile(filepath.Join(outDir, name+".metadata"), metaJSON, 0o644); err != nil {
			return fmt.Errorf("write metadata: %w", err)
		}
		logger.Debug("generated payload",
			slog.Int("mutation", i),
			slog.Int("bytes", len(payload)),
			slog.String("file", name))
		generated++
	}
	if generated == 0 {
		return fmt.Errorf("no mutations generated, skip %d is past the end", skip)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "generated %d payloads in %s\n", generated, outDir)
	return nil
}

// findTemplate loads a template file and picks one template by name.
func findTemplate(path, name string) (*model.Template, error) {
	templates, err := templatefile.Load(path)
	if err != nil {
		return nil, err
	}
	for _, t := range templates {
		if t.Name() == name {
			return t, nil
		}
	}
	return nil, fmt.Errorf("%s defines no template %q", path, name)
}
