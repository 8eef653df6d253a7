// Package monitor implements background health watchers for the fuzzed
// victim. A monitor polls on its own goroutine during the whole session
// and fails the report of the test in which a probe went wrong.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kittyfuzz/kitty/report"
)

// Monitor watches one aspect of the victim during a session.
type Monitor interface {
	// Setup starts the monitor loop.
	Setup(ctx context.Context) error
	// Teardown stops the monitor loop.
	Teardown(ctx context.Context) error
	// PreTest begins the report of a single test. A dead monitor loop
	// is restarted here.
	PreTest(ctx context.Context, testNumber int) error
	// PostTest runs after a test.
	PostTest(ctx context.Context) error
	// Report returns the report of the current test.
	Report() *report.Report
}

// Probe is one health check. Returning an error fails the current test.
type Probe func(ctx context.Context) error

// Base runs a probe in a polling loop. Concrete monitors embed it and
// supply the probe.
type Base struct {
	name     string
	logger   *slog.Logger
	probe    Probe
	interval time.Duration

	mu         sync.Mutex
	rep        *report.Report
	detached   *report.Report
	testNumber int

	cancel context.CancelFunc
	done   chan struct{}
}

// NewBase returns a monitor calling probe every interval.
func NewBase(name string, probe Probe, interval time.Duration, logger *slog.Logger) *Base {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &Base{
		name:     name,
		logger:   logger,
		probe:    probe,
		interval: interval,
		rep:      report.New(name),
	}
}

// Name returns the monitor name.
func (b *Base) Name() string { return b.name }

// Logger returns the monitor logger.
func (b *Base) Logger() *slog.Logger { return b.logger }

// Setup implements Monitor.
func (b *Base) Setup(context.Context) error {
	b.startLoop()
	return nil
}

// Teardown implements Monitor.
func (b *Base) Teardown(context.Context) error {
	b.mu.Lock()
	cancel, done := b.cancel, b.done
	b.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}

// PreTest implements Monitor.
func (b *Base) PreTest(_ context.Context, testNumber int) error {
	b.mu.Lock()
	b.rep = report.New(b.name)
	b.rep.Add("test_number", testNumber)
	b.detached = nil
	b.testNumber = testNumber
	alive := b.alive()
	b.mu.Unlock()
	if !alive {
		b.logger.Warn("monitor loop died, restarting", slog.String("monitor", b.name))
		b.startLoop()
	}
	return nil
}

// PostTest implements Monitor. It detaches the test report from the
// probe loop: once the target merges the report, the loop must not
// write to it anymore, so probe failures between tests land in a
// throwaway report that the next PreTest replaces.
func (b *Base) PostTest(context.Context) error {
	b.mu.Lock()
	b.detached = b.rep
	b.rep = report.New(b.name)
	b.mu.Unlock()
	return nil
}

// Report implements Monitor. After PostTest it returns the detached
// report, which no goroutine writes to anymore.
func (b *Base) Report() *report.Report {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.detached != nil {
		return b.detached
	}
	return b.rep
}

func (b *Base) alive() bool {
	if b.done == nil {
		return false
	}
	select {
	case <-b.done:
		return false
	default:
		return true
	}
}

func (b *Base) startLoop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.alive() {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	b.cancel = cancel
	b.done = done
	go b.loop(ctx, done)
}

func (b *Base) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if b.probe == nil {
				continue
			}
			if err := b.probe(ctx); err != nil {
				b.mu.Lock()
				b.rep.Failed(err.Error())
				b.mu.Unlock()
				b.logger.Debug("probe failed",
					slog.String("monitor", b.name),
					slog.Int("test", b.testNumber),
					slog.String("error", err.Error()))
			}
		}
	}
}
