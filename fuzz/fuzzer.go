package fuzz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kittyfuzz/kitty/model"
	"github.com/kittyfuzz/kitty/report"
	"github.com/kittyfuzz/kitty/store"
	"github.com/kittyfuzz/kitty/target"
)

// Version is the engine version recorded in session files. A session
// stored by a different version does not resume.
const Version = "1.0.0"

// ErrSessionMismatch is returned when a resumed session was stored by
// a different engine version or for a different model.
var ErrSessionMismatch = errors.New("fuzz: session does not match the current model")

// ErrEnvironmentTest is returned when the unmutated payload already
// fails against the target.
var ErrEnvironmentTest = errors.New("fuzz: environment test failed")

// Option configures an engine.
type Option func(*engine)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *engine) { e.logger = l }
}

// WithDelay sleeps d between tests, for victims that need to breathe.
func WithDelay(d time.Duration) Option {
	return func(e *engine) { e.delay = d }
}

// WithStoreAllReports stores the report of every test, not only the
// failed ones.
func WithStoreAllReports() Option {
	return func(e *engine) { e.storeAll = true }
}

// WithMaxFailures stops the session after n failed tests.
func WithMaxFailures(n int) Option {
	return func(e *engine) { e.maxFailures = n }
}

// WithTestList restricts the session to an explicit test list.
func WithTestList(l TestList) Option {
	return func(e *engine) { e.list = l }
}

// WithSessionStore persists the session in s instead of an in-memory
// store.
func WithSessionStore(s *store.SessionStore) Option {
	return func(e *engine) { e.store = s }
}

// WithSkipEnvironmentTest skips the initial unmutated round trip.
func WithSkipEnvironmentTest() Option {
	return func(e *engine) { e.skipEnvTest = true }
}

// Stats is a snapshot of the session progress for the web interface.
type Stats struct {
	SessionID    string    `json:"session_id"`
	StartTime    time.Time `json:"start_time"`
	StartIndex   int       `json:"start_index"`
	CurrentIndex int       `json:"current_index"`
	EndIndex     int       `json:"end_index"`
	TestsDone    int       `json:"tests_done"`
	TestsTotal   int       `json:"tests_total"`
	FailureCount int       `json:"failure_count"`
	Paused       bool      `json:"paused"`
	ETASeconds   float64   `json:"eta_seconds"`
	CurrentTest  TestInfo  `json:"current_test"`
}

// TestInfo describes the test the engine is currently running.
type TestInfo struct {
	Number   int    `json:"number"`
	Template string `json:"template"`
	Sequence int    `json:"sequence_length"`
}

// engine is the state shared by the server and client fuzzers.
type engine struct {
	name   string
	logger *slog.Logger
	mdl    *model.GraphModel
	tgt    target.Target
	store  *store.SessionStore
	list   TestList

	delay       time.Duration
	storeAll    bool
	maxFailures int
	skipEnvTest bool

	envTest func(context.Context) error

	mu        sync.Mutex
	paused    bool
	pauseCh   chan struct{}
	info      store.SessionInfo
	testsDone int
	current   TestInfo
}

func newEngine(name string, mdl *model.GraphModel, tgt target.Target, opts ...Option) (*engine, error) {
	if mdl == nil || len(mdl.Templates()) == 0 {
		return nil, fmt.Errorf("fuzz: model has no templates")
	}
	if tgt == nil {
		return nil, fmt.Errorf("fuzz: no target attached")
	}
	e := &engine{
		name:        name,
		logger:      slog.Default(),
		mdl:         mdl,
		tgt:         tgt,
		maxFailures: 0, // 0 means unlimited
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.store == nil {
		s, err := store.Open(store.InMemory, store.Options{CreateIfNotExists: true})
		if err != nil {
			return nil, fmt.Errorf("fuzz: open in-memory session: %w", err)
		}
		e.store = s
	}
	if e.list == nil {
		e.list = NewStartEndList(0, -1)
	}
	return e, nil
}

// prepareSession binds the test list and either resumes the stored
// session or starts a fresh one.
func (e *engine) prepareSession() error {
	if err := e.list.Bind(e.mdl.LastIndex()); err != nil {
		return err
	}
	info, err := e.store.LoadInfo()
	switch {
	case errors.Is(err, store.ErrNoSession):
		e.info = store.SessionInfo{
			SessionID:    uuid.NewString(),
			StartTime:    time.Now(),
			StartIndex:   0,
			CurrentIndex: -1,
			EndIndex:     e.mdl.LastIndex(),
			KittyVersion: Version,
			ModelHash:    e.mdl.Hash(),
			TestList:     e.list.String(),
		}
		if err := e.store.SaveInfo(&e.info); err != nil {
			return err
		}
	case err != nil:
		return err
	default:
		if info.KittyVersion != Version {
			return fmt.Errorf("%w: stored by version %s, running %s",
				ErrSessionMismatch, info.KittyVersion, Version)
		}
		if info.ModelHash != e.mdl.Hash() {
			return fmt.Errorf("%w: model hash changed", ErrSessionMismatch)
		}
		e.info = *info
		e.list.SkipBelow(info.CurrentIndex + 1)
		e.logger.Info("resuming session",
			slog.String("session_id", info.SessionID),
			slog.Int("current_index", info.CurrentIndex),
			slog.Int("failures", info.FailureCount))
	}
	e.publishModelInfo()
	return nil
}

// publishModelInfo pushes the static model description into the
// volatile store for the web interface.
func (e *engine) publishModelInfo() {
	infos := make([]*model.FieldInfo, 0, len(e.mdl.Templates()))
	for _, t := range e.mdl.Templates() {
		infos = append(infos, model.Describe(t))
	}
	e.store.SetVolatile("template_info", infos)
	e.store.SetVolatile("stages", e.mdl.Stages())
}

// Pause suspends the engine before the next test. Safe from any
// goroutine.
func (e *engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.paused {
		return
	}
	e.paused = true
	e.pauseCh = make(chan struct{})
	e.logger.Info("session paused")
}

// Resume lifts a pause.
func (e *engine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.paused {
		return
	}
	e.paused = false
	close(e.pauseCh)
	e.logger.Info("session resumed")
}

// Paused reports whether the engine is paused.
func (e *engine) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

// waitWhilePaused blocks until the engine is unpaused or ctx ends.
func (e *engine) waitWhilePaused(ctx context.Context) error {
	for {
		e.mu.Lock()
		paused, ch := e.paused, e.pauseCh
		e.mu.Unlock()
		if !paused {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Stats returns a progress snapshot.
func (e *engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := Stats{
		SessionID:    e.info.SessionID,
		StartTime:    e.info.StartTime,
		StartIndex:   e.info.StartIndex,
		CurrentIndex: e.info.CurrentIndex,
		EndIndex:     e.info.EndIndex,
		TestsDone:    e.testsDone,
		TestsTotal:   e.list.Count(),
		FailureCount: e.info.FailureCount,
		Paused:       e.paused,
		CurrentTest:  e.current,
	}
	if e.testsDone > 0 && s.TestsTotal > e.testsDone {
		perTest := time.Since(e.info.StartTime).Seconds() / float64(e.testsDone)
		s.ETASeconds = perTest * float64(s.TestsTotal-e.testsDone)
	}
	return s
}

// ReportSummaries lists the stored reports.
func (e *engine) ReportSummaries() ([]store.ReportSummary, error) {
	return e.store.ReportSummaries()
}

// Report returns the stored report of a test.
func (e *engine) Report(testID int) (*report.Report, error) {
	return e.store.LoadReport(testID)
}

// TemplateInfo returns the model description.
func (e *engine) TemplateInfo() []*model.FieldInfo {
	v, ok := e.store.GetVolatile("template_info")
	if !ok {
		return nil
	}
	infos, _ := v.([]*model.FieldInfo)
	return infos
}

// Stages returns the template names of the model.
func (e *engine) Stages() []string { return e.mdl.Stages() }

// advanceModelTo steps the model forward to the given mutation index.
func (e *engine) advanceModelTo(test int) bool {
	cur := e.mdl.CurrentIndex()
	if test <= cur {
		return false
	}
	if d := test - cur - 1; d > 0 {
		if e.mdl.Skip(d) < d {
			return false
		}
	}
	return e.mdl.Mutate()
}

// finishTest records the outcome of a test and persists the session.
func (e *engine) finishTest(test int, rep *report.Report) error {
	failed := rep.Status() != report.StatusPassed
	e.mu.Lock()
	e.info.CurrentIndex = test
	e.testsDone++
	if failed {
		e.info.FailureCount++
	}
	info := e.info
	e.mu.Unlock()

	if failed {
		e.logger.Warn("test failed",
			slog.Int("test", test),
			slog.String("status", string(rep.Status())),
			slog.String("reason", rep.Reason()))
	}
	if failed || e.storeAll {
		if err := e.store.SaveReport(test, rep); err != nil {
			return err
		}
	}
	return e.store.SaveInfo(&info)
}

func (e *engine) failureLimitReached() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.maxFailures > 0 && e.info.FailureCount >= e.maxFailures
}

func (e *engine) setCurrent(info TestInfo) {
	e.mu.Lock()
	e.current = info
	e.mu.Unlock()
	e.store.SetVolatile("current_test", info)
}

// Store returns the session store, so callers can inspect reports
// after the session ended.
func (e *engine) Store() *store.SessionStore { return e.store }

// run drives the whole session. runOne executes a single test against
// the target and returns its report; the engine handles ordering,
// pausing, persistence and the failure limit.
func (e *engine) run(ctx context.Context, runOne func(context.Context, int) (*report.Report, error)) error {
	if err := e.prepareSession(); err != nil {
		return err
	}
	if err := e.tgt.Setup(ctx); err != nil {
		return fmt.Errorf("target setup: %w", err)
	}
	defer func() {
		if err := e.tgt.Teardown(context.WithoutCancel(ctx)); err != nil {
			e.logger.Error("target teardown failed", slog.Any("error", err))
		}
	}()

	if !e.skipEnvTest && e.envTest != nil {
		e.logger.Info("running environment test")
		if err := e.envTest(ctx); err != nil {
			return err
		}
	}

	e.logger.Info("session started",
		slog.String("session_id", e.info.SessionID),
		slog.Int("tests", e.list.Count()),
		slog.String("test_list", e.list.String()))

	for {
		test, ok := e.list.Next()
		if !ok {
			break
		}
		if err := e.waitWhilePaused(ctx); err != nil {
			return err
		}
		if !e.advanceModelTo(test) {
			return fmt.Errorf("fuzz: cannot advance model to test %d", test)
		}
		tmpl := e.mdl.CurrentTemplate()
		seq, err := e.mdl.Sequence()
		if err != nil {
			return err
		}
		e.setCurrent(TestInfo{Number: test, Template: tmpl.Name(), Sequence: len(seq)})
		e.logger.Debug("running test",
			slog.Int("test", test),
			slog.String("template", tmpl.Name()))

		rep, err := runOne(ctx, test)
		if err != nil {
			return err
		}
		if err := e.finishTest(test, rep); err != nil {
			return err
		}
		if e.failureLimitReached() {
			e.logger.Warn("failure limit reached, stopping session",
				slog.Int("failures", e.info.FailureCount))
			break
		}
		if e.delay > 0 {
			select {
			case <-time.After(e.delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	e.logger.Info("session finished",
		slog.Int("tests_done", e.testsDone),
		slog.Int("failures", e.Stats().FailureCount))
	return nil
}
