package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/nao1215/markdown"
)

// Writer renders a report tree to an output stream.
type Writer interface {
	Write(r *Report) error
}

// JSONWriter writes the report as indented JSON.
type JSONWriter struct {
	w io.Writer
}

// NewJSONWriter returns a JSON writer targeting w.
func NewJSONWriter(w io.Writer) *JSONWriter {
	return &JSONWriter{w: w}
}

// Write implements Writer.
func (jw *JSONWriter) Write(r *Report) error {
	enc := json.NewEncoder(jw.w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r.ToMap()); err != nil {
		return fmt.Errorf("encode report %q: %w", r.Name(), err)
	}
	return nil
}

// TextWriter writes the report as an indented plain text tree.
type TextWriter struct {
	w io.Writer
}

// NewTextWriter returns a text writer targeting w.
func NewTextWriter(w io.Writer) *TextWriter {
	return &TextWriter{w: w}
}

// Write implements Writer.
func (tw *TextWriter) Write(r *Report) error {
	return tw.write(r, 0)
}

func (tw *TextWriter) write(r *Report, depth int) error {
	indent := strings.Repeat("    ", depth)
	if _, err := fmt.Fprintf(tw.w, "%sReport: %s [%s]\n", indent, r.Name(), r.Status()); err != nil {
		return err
	}
	if reason := r.Reason(); reason != "" {
		if _, err := fmt.Fprintf(tw.w, "%s    reason: %s\n", indent, reason); err != nil {
			return err
		}
	}
	for _, k := range r.Keys() {
		v, _ := r.Get(k)
		if _, err := fmt.Fprintf(tw.w, "%s    %s: %v\n", indent, k, v); err != nil {
			return err
		}
	}
	for _, sub := range r.SubReports() {
		if err := tw.write(sub, depth+1); err != nil {
			return err
		}
	}
	return nil
}

// MarkdownWriter writes the report as a markdown document with one
// findings table per reporter.
type MarkdownWriter struct {
	w io.Writer
}

// NewMarkdownWriter returns a markdown writer targeting w.
func NewMarkdownWriter(w io.Writer) *MarkdownWriter {
	return &MarkdownWriter{w: w}
}

// Write implements Writer.
func (mw *MarkdownWriter) Write(r *Report) error {
	md := markdown.NewMarkdown(mw.w)
	md.H1(fmt.Sprintf("Report: %s", r.Name())).
		PlainTextf("Status: **%s**", r.Status())
	if reason := r.Reason(); reason != "" {
		md.PlainTextf("Reason: %s", reason)
	}
	mw.section(md, r, 2)
	if err := md.Build(); err != nil {
		return fmt.Errorf("build markdown for report %q: %w", r.Name(), err)
	}
	return nil
}

func (mw *MarkdownWriter) section(md *markdown.Markdown, r *Report, level int) {
	if len(r.Keys()) > 0 {
		rows := make([][]string, 0, len(r.Keys()))
		for _, k := range r.Keys() {
			v, _ := r.Get(k)
			rows = append(rows, []string{k, fmt.Sprint(v)})
		}
		md.Table(markdown.TableSet{
			Header: []string{"Key", "Value"},
			Rows:   rows,
		})
	}
	for _, sub := range r.SubReports() {
		switch level {
		case 2:
			md.H2(fmt.Sprintf("%s [%s]", sub.Name(), sub.Status()))
		default:
			md.H3(fmt.Sprintf("%s [%s]", sub.Name(), sub.Status()))
		}
		mw.section(md, sub, level+1)
	}
}
