package templatefile

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTemplateFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "proto.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write template file: %v", err)
	}
	return path
}

func TestLoadSimpleTemplate(t *testing.T) {
	t.Parallel()
	path := writeTemplateFile(t, `
templates:
  - name: greeting
    fields:
      - name: magic
        type: static
        value: "HELO "
      - name: user
        type: string
        value: kitty
`)
	templates, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(templates) != 1 {
		t.Fatalf("len(templates) = %d, want 1", len(templates))
	}
	tmpl := templates[0]
	if tmpl.Name() != "greeting" {
		t.Errorf("Name() = %s, want greeting", tmpl.Name())
	}
	payload, err := tmpl.RenderBytes()
	if err != nil {
		t.Fatalf("RenderBytes() error = %v", err)
	}
	if string(payload) != "HELO kitty" {
		t.Errorf("default render = %q, want %q", payload, "HELO kitty")
	}
	if tmpl.NumMutations() == 0 {
		t.Error("template has no mutations")
	}
}

func TestLoadFieldTypes(t *testing.T) {
	t.Parallel()
	path := writeTemplateFile(t, `
templates:
  - name: packet
    fields:
      - name: header
        type: container
        fields:
          - name: opcode
            type: uint8
            value: "0x01"
            fuzzable: false
          - name: length
            type: size
            of: body
            length: 16
      - name: body
        type: container
        fields:
          - name: user
            type: string
            value: root
            encoder: nullterm
          - name: flags
            type: bitfield
            value: "3"
            length: 4
            min: 0
            max: 7
          - name: trailer
            type: hash
            of: user
            kind: sha1
`)
	templates, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	payload, err := templates[0].RenderBytes()
	if err != nil {
		t.Fatalf("RenderBytes() error = %v", err)
	}
	// opcode + 16 bit size prefix.
	if payload[0] != 0x01 {
		t.Errorf("opcode byte = %#x, want 0x01", payload[0])
	}
	if !bytes.Contains(payload, []byte("root\x00")) {
		t.Error("null terminated user missing from payload")
	}
}

func TestLoadConditionalContainer(t *testing.T) {
	t.Parallel()
	path := writeTemplateFile(t, `
templates:
  - name: packet
    fields:
      - name: opcode
        type: uint8
        value: "3"
        fuzzable: false
      - name: extras
        type: if
        condition:
          field: opcode
          op: "=="
          value: 3
        fields:
          - name: extra
            type: static
            value: X
`)
	templates, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	payload, err := templates[0].RenderBytes()
	if err != nil {
		t.Fatalf("RenderBytes() error = %v", err)
	}
	if !bytes.HasSuffix(payload, []byte("X")) {
		t.Errorf("payload = %q, conditional content missing", payload)
	}
}

func TestLoadRepeatContainer(t *testing.T) {
	t.Parallel()

	t.Run("step defaults to one", func(t *testing.T) {
		t.Parallel()
		path := writeTemplateFile(t, `
templates:
  - name: packet
    fields:
      - name: list
        type: repeat
        min_times: 2
        max_times: 4
        fields:
          - name: item
            type: static
            value: ab
`)
		templates, err := Load(path)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		payload, err := templates[0].RenderBytes()
		if err != nil {
			t.Fatalf("RenderBytes() error = %v", err)
		}
		if string(payload) != "abab" {
			t.Errorf("default render = %q, want %q", payload, "abab")
		}
	})

	t.Run("explicit step is honored", func(t *testing.T) {
		t.Parallel()
		path := writeTemplateFile(t, `
templates:
  - name: packet
    fields:
      - name: list
        type: repeat
        min_times: 1
        max_times: 5
        step: 2
        fields:
          - name: item
            type: static
            value: x
`)
		templates, err := Load(path)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		// The count stage mutates 1 -> 3 -> 5.
		tmpl := templates[0]
		var lengths []int
		for tmpl.Mutate() {
			payload, err := tmpl.RenderBytes()
			if err != nil {
				t.Fatalf("RenderBytes() error = %v", err)
			}
			lengths = append(lengths, len(payload))
		}
		if len(lengths) < 2 || lengths[0] != 3 || lengths[1] != 5 {
			t.Errorf("mutation lengths = %v, want 3 then 5 first", lengths)
		}
	})
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		wantSub string
	}{
		{
			name:    "no templates",
			content: "templates: []\n",
			wantSub: "no templates",
		},
		{
			name: "template without a name",
			content: `
templates:
  - fields:
      - name: a
        type: static
        value: x
`,
			wantSub: "without a name",
		},
		{
			name: "unknown field type",
			content: `
templates:
  - name: t
    fields:
      - name: a
        type: flurble
`,
			wantSub: "unknown field type",
		},
		{
			name: "unknown encoder",
			content: `
templates:
  - name: t
    fields:
      - name: a
        type: string
        value: x
        encoder: rot13
`,
			wantSub: "unknown string encoder",
		},
		{
			name: "if without condition",
			content: `
templates:
  - name: t
    fields:
      - name: a
        type: if
        fields:
          - name: b
            type: static
            value: x
`,
			wantSub: "needs a condition",
		},
		{
			name: "bad hex value",
			content: `
templates:
  - name: t
    fields:
      - name: a
        type: static
        hex: zz
`,
			wantSub: "bad hex value",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := writeTemplateFile(t, tt.content)
			_, err := Load(path)
			if err == nil {
				t.Fatal("Load() error = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error = %q, want substring %q", err, tt.wantSub)
			}
		})
	}

	t.Run("field errors carry the file position", func(t *testing.T) {
		t.Parallel()
		path := writeTemplateFile(t, `
templates:
  - name: t
    fields:
      - name: a
        type: flurble
`)
		_, err := Load(path)
		if err == nil {
			t.Fatal("Load() error = nil, want error")
		}
		if !strings.Contains(err.Error(), path+":") {
			t.Errorf("error = %q, want path and line prefix", err)
		}
	})
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Load() error = nil, want error")
	}
}
