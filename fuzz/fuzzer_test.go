package fuzz

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/kittyfuzz/kitty/model"
	"github.com/kittyfuzz/kitty/monitor"
	"github.com/kittyfuzz/kitty/report"
	"github.com/kittyfuzz/kitty/store"
	"github.com/kittyfuzz/kitty/target"
)

func testModel(t *testing.T) *model.GraphModel {
	t.Helper()
	tmpl, err := model.NewTemplate("greeting", []model.Field{
		model.NewStatic("magic", []byte("HELO ")),
		model.NewString("name", "kitty"),
	})
	if err != nil {
		t.Fatalf("NewTemplate() error = %v", err)
	}
	g := model.NewGraphModel("session")
	if err := g.Connect(tmpl); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	return g
}

// echoTarget implements target.ServerTarget in memory. failOn marks
// test numbers whose transmission should be reported as a failure;
// delay stretches each transmission, for tests that need the test
// window to stay open a while.
type echoTarget struct {
	*target.Base
	transmits int
	failOn    map[int]bool
	delay     time.Duration
}

func newEchoTarget() *echoTarget {
	return &echoTarget{Base: target.NewBase("echo", nil), failOn: map[int]bool{}}
}

func (e *echoTarget) Transmit(_ context.Context, payload []byte) ([]byte, error) {
	e.transmits++
	if e.delay > 0 {
		time.Sleep(e.delay)
	}
	if e.failOn[e.TestNumber()] {
		err := fmt.Errorf("victim rejected %d bytes", len(payload))
		e.Report().Failed(err.Error())
		return nil, err
	}
	return payload, nil
}

func TestServerFuzzerSession(t *testing.T) {
	t.Parallel()
	tgt := newEchoTarget()
	tgt.failOn[2] = true
	f, err := NewServerFuzzer("session", testModel(t), tgt,
		WithTestList(NewStartEndList(0, 4)))
	if err != nil {
		t.Fatalf("NewServerFuzzer() error = %v", err)
	}
	if err := f.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	stats := f.Stats()
	if stats.TestsDone != 5 {
		t.Errorf("TestsDone = %d, want 5", stats.TestsDone)
	}
	if stats.FailureCount != 1 {
		t.Errorf("FailureCount = %d, want 1", stats.FailureCount)
	}
	// 5 tests plus the environment test.
	if tgt.transmits != 6 {
		t.Errorf("transmits = %d, want 6", tgt.transmits)
	}

	rep, err := f.Report(2)
	if err != nil {
		t.Fatalf("Report(2) error = %v", err)
	}
	if rep.Status() != report.StatusFailed {
		t.Errorf("Status() = %s, want failed", rep.Status())
	}
	if _, err := f.Report(0); !errors.Is(err, store.ErrReportNotFound) {
		t.Errorf("Report(0) error = %v, want ErrReportNotFound", err)
	}
	sums, err := f.ReportSummaries()
	if err != nil {
		t.Fatalf("ReportSummaries() error = %v", err)
	}
	if len(sums) != 1 || sums[0].TestID != 2 {
		t.Errorf("summaries = %+v", sums)
	}
}

func TestServerFuzzerWithFailingMonitor(t *testing.T) {
	t.Parallel()
	tgt := newEchoTarget()
	tgt.delay = 10 * time.Millisecond
	tgt.AddMonitor(monitor.NewBase("mon", func(context.Context) error {
		return errors.New("victim unhealthy")
	}, time.Millisecond, nil))
	f, err := NewServerFuzzer("session", testModel(t), tgt,
		WithTestList(NewStartEndList(0, 9)),
		WithSkipEnvironmentTest())
	if err != nil {
		t.Fatalf("NewServerFuzzer() error = %v", err)
	}
	if err := f.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	stats := f.Stats()
	if stats.TestsDone != 10 {
		t.Errorf("TestsDone = %d, want 10", stats.TestsDone)
	}
	if stats.FailureCount == 0 {
		t.Error("FailureCount = 0, want failures from the monitor")
	}
	sums, err := f.ReportSummaries()
	if err != nil {
		t.Fatalf("ReportSummaries() error = %v", err)
	}
	if len(sums) == 0 {
		t.Fatal("no reports stored for monitor failures")
	}
	rep, err := f.Report(sums[0].TestID)
	if err != nil {
		t.Fatalf("Report(%d) error = %v", sums[0].TestID, err)
	}
	sub, ok := rep.SubReport("mon")
	if !ok {
		t.Fatal("monitor sub report missing")
	}
	if sub.Reason() != "victim unhealthy" {
		t.Errorf("Reason() = %q, want victim unhealthy", sub.Reason())
	}
}

func TestServerFuzzerStoreAllReports(t *testing.T) {
	t.Parallel()
	f, err := NewServerFuzzer("session", testModel(t), newEchoTarget(),
		WithTestList(NewStartEndList(0, 2)),
		WithStoreAllReports(),
		WithSkipEnvironmentTest())
	if err != nil {
		t.Fatalf("NewServerFuzzer() error = %v", err)
	}
	if err := f.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	sums, err := f.ReportSummaries()
	if err != nil {
		t.Fatalf("ReportSummaries() error = %v", err)
	}
	if len(sums) != 3 {
		t.Errorf("stored reports = %d, want 3", len(sums))
	}
}

func TestServerFuzzerMaxFailures(t *testing.T) {
	t.Parallel()
	tgt := newEchoTarget()
	tgt.failOn[1] = true
	tgt.failOn[2] = true
	f, err := NewServerFuzzer("session", testModel(t), tgt,
		WithTestList(NewStartEndList(0, 100)),
		WithMaxFailures(2),
		WithSkipEnvironmentTest())
	if err != nil {
		t.Fatalf("NewServerFuzzer() error = %v", err)
	}
	if err := f.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	stats := f.Stats()
	if stats.FailureCount != 2 {
		t.Errorf("FailureCount = %d, want 2", stats.FailureCount)
	}
	if stats.TestsDone != 3 {
		t.Errorf("TestsDone = %d, want 3 (stopped at the limit)", stats.TestsDone)
	}
}

func TestServerFuzzerEnvironmentTestFailure(t *testing.T) {
	t.Parallel()
	tgt := newEchoTarget()
	tgt.failOn[-1] = true
	f, err := NewServerFuzzer("session", testModel(t), tgt)
	if err != nil {
		t.Fatalf("NewServerFuzzer() error = %v", err)
	}
	if err := f.Start(context.Background()); !errors.Is(err, ErrEnvironmentTest) {
		t.Errorf("Start() error = %v, want ErrEnvironmentTest", err)
	}
}

func TestServerFuzzerPauseResume(t *testing.T) {
	t.Parallel()
	f, err := NewServerFuzzer("session", testModel(t), newEchoTarget(),
		WithTestList(NewStartEndList(0, 9)),
		WithSkipEnvironmentTest())
	if err != nil {
		t.Fatalf("NewServerFuzzer() error = %v", err)
	}
	f.Pause()
	if !f.Paused() {
		t.Fatal("Paused() = false after Pause()")
	}

	done := make(chan error, 1)
	go func() { done <- f.Start(context.Background()) }()

	time.Sleep(50 * time.Millisecond)
	if got := f.Stats().TestsDone; got != 0 {
		t.Errorf("TestsDone while paused = %d, want 0", got)
	}
	f.Resume()
	if err := <-done; err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if got := f.Stats().TestsDone; got != 10 {
		t.Errorf("TestsDone = %d, want 10", got)
	}
}

func TestSessionResume(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "session.sqlite")

	openStore := func() *store.SessionStore {
		s, err := store.Open(path, store.Options{CreateIfNotExists: true})
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		return s
	}

	s := openStore()
	f, err := NewServerFuzzer("session", testModel(t), newEchoTarget(),
		WithSessionStore(s),
		WithTestList(NewStartEndList(0, 4)),
		WithSkipEnvironmentTest())
	if err != nil {
		t.Fatalf("NewServerFuzzer() error = %v", err)
	}
	if err := f.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	first := f.Stats().SessionID
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	t.Run("finished session resumes with nothing to do", func(t *testing.T) {
		s := openStore()
		defer s.Close()
		tgt := newEchoTarget()
		f, err := NewServerFuzzer("session", testModel(t), tgt,
			WithSessionStore(s),
			WithTestList(NewStartEndList(0, 4)),
			WithSkipEnvironmentTest())
		if err != nil {
			t.Fatalf("NewServerFuzzer() error = %v", err)
		}
		if err := f.Start(context.Background()); err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		if got := f.Stats().SessionID; got != first {
			t.Errorf("SessionID = %s, want resumed %s", got, first)
		}
		if tgt.transmits != 0 {
			t.Errorf("transmits = %d, want 0 for a finished session", tgt.transmits)
		}
	})

	t.Run("changed model refuses to resume", func(t *testing.T) {
		s := openStore()
		defer s.Close()
		other, err := model.NewTemplate("farewell", []model.Field{
			model.NewString("name", "kitty"),
		})
		if err != nil {
			t.Fatalf("NewTemplate() error = %v", err)
		}
		g := model.NewGraphModel("session")
		if err := g.Connect(other); err != nil {
			t.Fatalf("Connect() error = %v", err)
		}
		f, err := NewServerFuzzer("session", g, newEchoTarget(),
			WithSessionStore(s),
			WithSkipEnvironmentTest())
		if err != nil {
			t.Fatalf("NewServerFuzzer() error = %v", err)
		}
		if err := f.Start(context.Background()); !errors.Is(err, ErrSessionMismatch) {
			t.Errorf("Start() error = %v, want ErrSessionMismatch", err)
		}
	})
}

func TestClientFuzzer(t *testing.T) {
	t.Parallel()

	hello, err := model.NewTemplate("hello", []model.Field{
		model.NewString("word", "hello"),
	})
	if err != nil {
		t.Fatalf("NewTemplate() error = %v", err)
	}
	data, err := model.NewTemplate("data", []model.Field{
		model.NewString("word", "data"),
	})
	if err != nil {
		t.Fatalf("NewTemplate() error = %v", err)
	}
	g := model.NewGraphModel("session")
	if err := g.Connect(hello); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := g.ConnectFrom(hello, data, nil); err != nil {
		t.Fatalf("ConnectFrom() error = %v", err)
	}

	var f *ClientFuzzer
	served := 0
	trigger := target.TriggerFunc(func(ctx context.Context) error {
		// Drain the whole stage sequence like a victim would.
		for {
			if _, err := f.GetMutation(StageAny, nil); err != nil {
				return nil
			}
			served++
		}
	})
	tgt := target.NewClient("victim", trigger, time.Second, nil)

	f, err = NewClientFuzzer("session", g, tgt,
		WithTestList(NewStartEndList(0, 3)),
		WithSkipEnvironmentTest())
	if err != nil {
		t.Fatalf("NewClientFuzzer() error = %v", err)
	}
	if err := f.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	stats := f.Stats()
	if stats.TestsDone != 4 {
		t.Errorf("TestsDone = %d, want 4", stats.TestsDone)
	}
	if stats.FailureCount != 0 {
		t.Errorf("FailureCount = %d, want 0", stats.FailureCount)
	}
	if served < 4 {
		t.Errorf("served stages = %d, want at least one per test", served)
	}
}

func TestClientFuzzerStageResolution(t *testing.T) {
	t.Parallel()
	tmpl, err := model.NewTemplate("hello", []model.Field{
		model.NewStatic("word", []byte("hello")),
	})
	if err != nil {
		t.Fatalf("NewTemplate() error = %v", err)
	}
	g := model.NewGraphModel("session")
	if err := g.Connect(tmpl); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	tgt := target.NewClient("victim", nil, time.Second, nil)
	f, err := NewClientFuzzer("session", g, tgt)
	if err != nil {
		t.Fatalf("NewClientFuzzer() error = %v", err)
	}
	// Arm the sequence without a running session.
	if err := f.armSequence(); err != nil {
		t.Fatalf("armSequence() error = %v", err)
	}

	t.Run("known stage renders", func(t *testing.T) {
		payload, err := f.GetMutation("hello", nil)
		if err != nil {
			t.Fatalf("GetMutation() error = %v", err)
		}
		if string(payload) != "hello" {
			t.Errorf("payload = %q, want %q", payload, "hello")
		}
	})

	t.Run("unknown stage errors", func(t *testing.T) {
		if _, err := f.GetMutation("nope", nil); err == nil {
			t.Error("GetMutation() error = nil, want unknown stage error")
		}
	})
}
