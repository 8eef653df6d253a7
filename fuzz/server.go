package fuzz

import (
	"context"
	"fmt"

	"github.com/kittyfuzz/kitty/model"
	"github.com/kittyfuzz/kitty/report"
	"github.com/kittyfuzz/kitty/target"
)

// ServerFuzzer fuzzes a server victim. For every mutation it walks the
// model's message sequence, transmits each payload through the target
// and runs the edge callbacks on the responses.
type ServerFuzzer struct {
	*engine
	target target.ServerTarget
}

// NewServerFuzzer returns a server fuzzer for the given model and
// target.
func NewServerFuzzer(name string, mdl *model.GraphModel, tgt target.ServerTarget, opts ...Option) (*ServerFuzzer, error) {
	e, err := newEngine(name, mdl, tgt, opts...)
	if err != nil {
		return nil, err
	}
	return &ServerFuzzer{engine: e, target: tgt}, nil
}

// Start runs the session until it completes, the failure limit is
// reached or ctx ends. It blocks; Pause and Resume are safe to call
// from other goroutines while it runs.
func (f *ServerFuzzer) Start(ctx context.Context) error {
	f.envTest = f.environmentTest
	return f.run(ctx, f.runTest)
}

// environmentTest transmits the unmutated sequence once. A victim that
// cannot handle the default payloads makes every later failure
// meaningless.
func (f *ServerFuzzer) environmentTest(ctx context.Context) error {
	rep, err := f.runTest(ctx, -1)
	if err != nil {
		return err
	}
	if rep.Status() != report.StatusPassed {
		return fmt.Errorf("%w: %s", ErrEnvironmentTest, rep.Reason())
	}
	return nil
}

// runTest drives the target through the message sequence of the
// current mutation. The test outcome lives in the returned report; the
// error return is reserved for engine level failures.
func (f *ServerFuzzer) runTest(ctx context.Context, test int) (*report.Report, error) {
	if err := f.target.PreTest(ctx, test); err != nil {
		return nil, fmt.Errorf("target pre test: %w", err)
	}
	seq, err := f.mdl.Sequence()
	if err != nil {
		return nil, err
	}

	session := map[string][]byte{}
	for _, edge := range seq {
		tmpl := edge.Dst
		tmpl.SetSessionData(session)
		payload, err := tmpl.RenderBytes()
		if err != nil {
			f.target.Report().Error(fmt.Sprintf("render %s: %v", tmpl.Name(), err))
			break
		}
		response, err := f.target.Transmit(ctx, payload)
		if err != nil {
			// Transmit already failed the target report.
			break
		}
		if edge.Callback != nil {
			if err := edge.Callback(response, session); err != nil {
				f.target.Report().Failed(fmt.Sprintf("callback after %s: %v", tmpl.Name(), err))
				break
			}
		}
	}

	if err := f.target.PostTest(ctx); err != nil {
		return nil, fmt.Errorf("target post test: %w", err)
	}
	return f.target.Report(), nil
}
