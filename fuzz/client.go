package fuzz

import (
	"context"
	"fmt"
	"sync"

	"github.com/kittyfuzz/kitty/model"
	"github.com/kittyfuzz/kitty/report"
	"github.com/kittyfuzz/kitty/target"
)

// StageAny requests whatever stage the fuzzer expects next. Protocol
// stacks that cannot tell their stages apart pass it to GetMutation.
const StageAny = "*"

// ClientFuzzer fuzzes a client victim. The fuzzer does not transmit;
// instead the user's protocol stack triggers the victim, answers its
// requests by calling GetMutation for each stage, and the fuzzer
// serves the mutated payload when the victim reaches the fuzzed stage.
type ClientFuzzer struct {
	*engine
	target *target.Client

	stageMu sync.Mutex
	seq     []*model.Edge
	pos     int
	session map[string][]byte
}

// NewClientFuzzer returns a client fuzzer for the given model and
// target.
func NewClientFuzzer(name string, mdl *model.GraphModel, tgt *target.Client, opts ...Option) (*ClientFuzzer, error) {
	e, err := newEngine(name, mdl, tgt, opts...)
	if err != nil {
		return nil, err
	}
	return &ClientFuzzer{engine: e, target: tgt}, nil
}

// Start runs the session until it completes, the failure limit is
// reached or ctx ends.
func (f *ClientFuzzer) Start(ctx context.Context) error {
	f.envTest = f.environmentTest
	return f.run(ctx, f.runTest)
}

func (f *ClientFuzzer) environmentTest(ctx context.Context) error {
	rep, err := f.runTest(ctx, -1)
	if err != nil {
		return err
	}
	if rep.Status() != report.StatusPassed {
		return fmt.Errorf("%w: %s", ErrEnvironmentTest, rep.Reason())
	}
	return nil
}

// armSequence loads the stage sequence of the current mutation and
// rewinds the stage cursor and session data.
func (f *ClientFuzzer) armSequence() error {
	seq, err := f.mdl.Sequence()
	if err != nil {
		return err
	}
	f.stageMu.Lock()
	f.seq = seq
	f.pos = 0
	f.session = map[string][]byte{}
	f.stageMu.Unlock()
	return nil
}

// runTest arms the stage sequence and triggers the victim. The actual
// payloads flow through GetMutation while the victim exchanges.
func (f *ClientFuzzer) runTest(ctx context.Context, test int) (*report.Report, error) {
	if err := f.armSequence(); err != nil {
		return nil, err
	}
	if err := f.target.PreTest(ctx, test); err != nil {
		return nil, fmt.Errorf("target pre test: %w", err)
	}
	if err := f.target.TriggerVictim(ctx); err != nil {
		// TriggerVictim already failed the target report; a dead victim
		// is a test outcome, not an engine failure.
		f.logger.Debug("victim exchange failed", "test", test, "error", err)
	}
	if err := f.target.PostTest(ctx); err != nil {
		return nil, fmt.Errorf("target post test: %w", err)
	}
	return f.target.Report(), nil
}

// GetMutation returns the payload for the stage the victim requested.
// data carries values extracted from the victim's request and is merged
// into the session data before rendering, so dynamic fields of later
// stages pick them up. Requesting the fuzzed stage serves the mutated
// payload and signals the target.
//
// Safe to call from the protocol stack's goroutine while Start runs.
func (f *ClientFuzzer) GetMutation(stage string, data map[string][]byte) ([]byte, error) {
	f.stageMu.Lock()
	defer f.stageMu.Unlock()

	for k, v := range data {
		f.session[k] = v
	}
	tmpl, err := f.resolveStage(stage)
	if err != nil {
		return nil, err
	}
	tmpl.SetSessionData(f.session)
	payload, err := tmpl.RenderBytes()
	if err != nil {
		return nil, fmt.Errorf("render stage %s: %w", tmpl.Name(), err)
	}
	if tmpl == f.mdl.CurrentTemplate() {
		f.target.SignalMutated()
	}
	return payload, nil
}

// resolveStage picks the template serving the requested stage and
// advances the sequence position when the stage lies on the fuzzed
// path.
func (f *ClientFuzzer) resolveStage(stage string) (*model.Template, error) {
	if stage == StageAny {
		if f.pos >= len(f.seq) {
			return nil, fmt.Errorf("fuzz: stage sequence exhausted after %d stages", len(f.seq))
		}
		tmpl := f.seq[f.pos].Dst
		f.pos++
		return tmpl, nil
	}
	for i := f.pos; i < len(f.seq); i++ {
		if f.seq[i].Dst.Name() == stage {
			f.pos = i + 1
			return f.seq[i].Dst, nil
		}
	}
	// Off the fuzzed path; serve the default form of any known stage.
	for _, t := range f.mdl.Templates() {
		if t.Name() == stage {
			return t, nil
		}
	}
	return nil, fmt.Errorf("fuzz: unknown stage %q", stage)
}
