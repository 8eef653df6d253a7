package controller

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"
)

// Process restarts a victim process for every test and fails the test
// report when the process died during it. Crashing victims are the
// bread and butter of fuzzing, so the exit state, stdout and stderr all
// end up in the report.
type Process struct {
	*Base
	path string
	args []string

	// startupWait gives the victim time to come up before the test.
	startupWait time.Duration

	mu     sync.Mutex
	cmd    *exec.Cmd
	waitCh chan error
	stdout bytes.Buffer
	stderr bytes.Buffer
}

// NewProcess returns a controller running the victim binary at path
// with args. startupWait is slept after each start so the victim can
// bind its sockets.
func NewProcess(name, path string, args []string, startupWait time.Duration, logger *slog.Logger) *Process {
	return &Process{
		Base:        NewBase(name, logger),
		path:        path,
		args:        args,
		startupWait: startupWait,
	}
}

// Setup implements Controller.
func (p *Process) Setup(ctx context.Context) error {
	if _, err := exec.LookPath(p.path); err != nil {
		return fmt.Errorf("victim binary: %w", err)
	}
	return p.start(ctx)
}

// Teardown implements Controller.
func (p *Process) Teardown(context.Context) error {
	p.stop()
	return nil
}

// PreTest implements Controller. The victim is restarted so every test
// begins from a known state.
func (p *Process) PreTest(ctx context.Context, testNumber int) error {
	if err := p.Base.PreTest(ctx, testNumber); err != nil {
		return err
	}
	p.stop()
	if err := p.start(ctx); err != nil {
		return fmt.Errorf("restart victim: %w", err)
	}
	return nil
}

// PostTest implements Controller. A dead victim fails the test.
func (p *Process) PostTest(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil {
		return nil
	}
	select {
	case err := <-p.waitCh:
		rep := p.Report()
		rep.Failed("victim process exited during the test")
		if err != nil {
			rep.Add("exit_error", err.Error())
		}
		if state := p.cmd.ProcessState; state != nil {
			rep.Add("exit_code", state.ExitCode())
		}
		rep.Add("stdout", p.stdout.String())
		rep.Add("stderr", p.stderr.String())
		p.cmd = nil
	default:
	}
	return nil
}

func (p *Process) start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	cmd := exec.CommandContext(ctx, p.path, p.args...)
	p.stdout.Reset()
	p.stderr.Reset()
	cmd.Stdout = &p.stdout
	cmd.Stderr = &p.stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start victim %q: %w", p.path, err)
	}
	p.cmd = cmd
	p.waitCh = make(chan error, 1)
	go func(ch chan error) { ch <- cmd.Wait() }(p.waitCh)
	p.Logger().Debug("victim started", slog.String("path", p.path), slog.Int("pid", cmd.Process.Pid))
	if p.startupWait > 0 {
		time.Sleep(p.startupWait)
	}
	return nil
}

func (p *Process) stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil {
		return
	}
	select {
	case <-p.waitCh:
	default:
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
		}
		<-p.waitCh
	}
	p.cmd = nil
}
