package log

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"unicode"
)

// MaxValueLen is the longest attribute value emitted before
// truncation.
const MaxValueLen = 128

// PayloadHandler wraps an slog.Handler and rewrites attribute values
// so binary payloads do not wreck the log output.
//
// Design decision: a handler wrapper rather than a custom logger
// because it integrates with standard slog APIs and works with any
// underlying handler (text, JSON, etc.).
type PayloadHandler struct {
	handler slog.Handler
}

// NewPayloadHandler wraps handler. A nil handler falls back to the
// default logger's handler.
func NewPayloadHandler(handler slog.Handler) *PayloadHandler {
	if handler == nil {
		handler = slog.Default().Handler()
	}
	return &PayloadHandler{handler: handler}
}

// Enabled implements slog.Handler.
func (h *PayloadHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

// Handle implements slog.Handler. It rewrites the record's attributes
// and passes the result to the underlying handler.
func (h *PayloadHandler) Handle(ctx context.Context, r slog.Record) error {
	rewritten := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		rewritten.AddAttrs(h.rewriteAttr(a))
		return true
	})
	return h.handler.Handle(ctx, rewritten)
}

// WithAttrs implements slog.Handler.
func (h *PayloadHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	rewritten := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		rewritten[i] = h.rewriteAttr(a)
	}
	return &PayloadHandler{handler: h.handler.WithAttrs(rewritten)}
}

// WithGroup implements slog.Handler.
func (h *PayloadHandler) WithGroup(name string) slog.Handler {
	return &PayloadHandler{handler: h.handler.WithGroup(name)}
}

// rewriteAttr rewrites a single attribute, recursively handling
// groups.
func (h *PayloadHandler) rewriteAttr(a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindGroup {
		attrs := a.Value.Group()
		rewritten := make([]slog.Attr, len(attrs))
		for i, ga := range attrs {
			rewritten[i] = h.rewriteAttr(ga)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(rewritten...)}
	}

	switch a.Value.Kind() {
	case slog.KindAny:
		if b, ok := a.Value.Any().([]byte); ok {
			return slog.String(a.Key, formatBytes(b))
		}
	case slog.KindString:
		s := a.Value.String()
		if hasControlChars(s) {
			return slog.String(a.Key, formatBytes([]byte(s)))
		}
		if len(s) > MaxValueLen {
			return slog.String(a.Key, truncate(s))
		}
	}
	return a
}

func formatBytes(b []byte) string {
	dump := hex.EncodeToString(b)
	if len(dump) > MaxValueLen {
		return fmt.Sprintf("%s... (%d bytes)", dump[:MaxValueLen], len(b))
	}
	return dump
}

func truncate(s string) string {
	return fmt.Sprintf("%s... (%d bytes)", s[:MaxValueLen], len(s))
}

func hasControlChars(s string) bool {
	return strings.ContainsFunc(s, func(r rune) bool {
		return unicode.IsControl(r) && r != '\t'
	})
}

// NewLogger returns a text logger writing to w with payload handling.
// verbose selects debug level, otherwise info.
func NewLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(NewPayloadHandler(h))
}

// NewJSONLogger returns a JSON logger writing to w with payload
// handling, for structured log aggregation.
func NewJSONLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(NewPayloadHandler(h))
}
