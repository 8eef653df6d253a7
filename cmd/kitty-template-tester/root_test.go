package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleTemplate = `
templates:
  - name: greeting
    fields:
      - name: magic
        type: static
        value: "HELO "
      - name: user
        type: string
        value: kitty
`

func writeSample(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "proto.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write template file: %v", err)
	}
	return path
}

// TestNewRootCmd tests the root command creation.
func TestNewRootCmd(t *testing.T) {
	t.Parallel()

	cmd := NewRootCmd()

	t.Run("has correct use", func(t *testing.T) {
		t.Parallel()
		if !strings.HasPrefix(cmd.Use, "kitty-template-tester") {
			t.Errorf("expected use starting with 'kitty-template-tester', got %q", cmd.Use)
		}
	})

	t.Run("has version", func(t *testing.T) {
		t.Parallel()
		if cmd.Version == "" {
			t.Error("expected non-empty version")
		}
	})

	t.Run("has flags", func(t *testing.T) {
		t.Parallel()
		for _, name := range []string{"fast", "tree", "verbose"} {
			if cmd.Flags().Lookup(name) == nil {
				t.Errorf("expected %s flag", name)
			}
		}
	})

	t.Run("silences usage and errors", func(t *testing.T) {
		t.Parallel()
		if !cmd.SilenceUsage {
			t.Error("expected SilenceUsage to be true")
		}
		if !cmd.SilenceErrors {
			t.Error("expected SilenceErrors to be true")
		}
	})
}

// TestRunRootCmd tests running the tester against template files.
func TestRunRootCmd(t *testing.T) {
	t.Parallel()

	run := func(t *testing.T, args ...string) (string, error) {
		t.Helper()
		cmd := NewRootCmd()
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetErr(&out)
		cmd.SetArgs(args)
		err := cmd.Execute()
		return out.String(), err
	}

	t.Run("valid file passes", func(t *testing.T) {
		t.Parallel()
		path := writeSample(t, sampleTemplate)
		out, err := run(t, path)
		if err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
		if !strings.Contains(out, "OK") || !strings.Contains(out, "greeting") {
			t.Errorf("output = %q", out)
		}
	})

	t.Run("fast mode passes", func(t *testing.T) {
		t.Parallel()
		path := writeSample(t, sampleTemplate)
		if _, err := run(t, "--fast", path); err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
	})

	t.Run("tree mode prints the field tree", func(t *testing.T) {
		t.Parallel()
		path := writeSample(t, sampleTemplate)
		out, err := run(t, "--tree", "--fast", path)
		if err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
		if !strings.Contains(out, "magic") || !strings.Contains(out, "user") {
			t.Errorf("output = %q, want field tree", out)
		}
	})

	t.Run("broken file fails", func(t *testing.T) {
		t.Parallel()
		path := writeSample(t, "templates:\n  - fields: []\n")
		out, err := run(t, path)
		if err == nil {
			t.Fatal("Execute() error = nil, want failure")
		}
		if !strings.Contains(out, "FAIL") {
			t.Errorf("output = %q, want FAIL line", out)
		}
	})

	t.Run("missing file fails", func(t *testing.T) {
		t.Parallel()
		if _, err := run(t, filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
			t.Error("Execute() error = nil, want failure")
		}
	})

	t.Run("no arguments fails", func(t *testing.T) {
		t.Parallel()
		if _, err := run(t); err == nil {
			t.Error("Execute() error = nil, want usage error")
		}
	})
}
