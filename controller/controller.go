// Package controller manages the life cycle of the fuzzed victim.
//
// A controller brings the victim up before the session, prepares it for
// each test and reports on its health afterwards. The target owns the
// controller and merges its report into the test report.
package controller

import (
	"context"
	"log/slog"

	"github.com/kittyfuzz/kitty/report"
)

// Controller drives the victim around each test.
type Controller interface {
	// Setup prepares the victim once, before the session starts.
	Setup(ctx context.Context) error
	// Teardown releases the victim once, after the session ended.
	Teardown(ctx context.Context) error
	// PreTest prepares the victim for a single test.
	PreTest(ctx context.Context, testNumber int) error
	// PostTest runs after a test; the controller records the victim
	// state in its report.
	PostTest(ctx context.Context) error
	// Report returns the report of the current test.
	Report() *report.Report
}

// Base is an embeddable no-op controller carrying the name, logger and
// per test report.
type Base struct {
	name   string
	logger *slog.Logger
	rep    *report.Report
}

// NewBase returns a base controller called name. A nil logger falls
// back to the default logger.
func NewBase(name string, logger *slog.Logger) *Base {
	if logger == nil {
		logger = slog.Default()
	}
	return &Base{
		name:   name,
		logger: logger,
		rep:    report.New(name),
	}
}

// Name returns the controller name.
func (b *Base) Name() string { return b.name }

// Logger returns the controller logger.
func (b *Base) Logger() *slog.Logger { return b.logger }

// Setup implements Controller.
func (b *Base) Setup(context.Context) error { return nil }

// Teardown implements Controller.
func (b *Base) Teardown(context.Context) error { return nil }

// PreTest implements Controller. It starts a fresh report for the test.
func (b *Base) PreTest(_ context.Context, testNumber int) error {
	b.rep = report.New(b.name)
	b.rep.Add("test_number", testNumber)
	return nil
}

// PostTest implements Controller.
func (b *Base) PostTest(context.Context) error { return nil }

// Report implements Controller.
func (b *Base) Report() *report.Report { return b.rep }

// Empty is a controller for victims that need no management, such as a
// server that is simply assumed to be running.
type Empty struct {
	*Base
}

// NewEmpty returns a do-nothing controller.
func NewEmpty(logger *slog.Logger) *Empty {
	return &Empty{Base: NewBase("empty_controller", logger)}
}

// Trigger implements the client trigger of package target, so an Empty
// controller can stand in when the victim connects on its own.
func (e *Empty) Trigger(context.Context) error { return nil }
