package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/kittyfuzz/kitty/report"
)

func TestBaseMonitor(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("healthy probe keeps the test passed", func(t *testing.T) {
		t.Parallel()
		m := NewBase("mon", func(context.Context) error { return nil }, 5*time.Millisecond, nil)
		if err := m.Setup(ctx); err != nil {
			t.Fatalf("Setup() error = %v", err)
		}
		defer m.Teardown(ctx)
		if err := m.PreTest(ctx, 1); err != nil {
			t.Fatalf("PreTest() error = %v", err)
		}
		time.Sleep(50 * time.Millisecond)
		if err := m.PostTest(ctx); err != nil {
			t.Fatalf("PostTest() error = %v", err)
		}
		if got := m.Report().Status(); got != report.StatusPassed {
			t.Errorf("Status() = %v, want passed", got)
		}
	})

	t.Run("failing probe fails the test", func(t *testing.T) {
		t.Parallel()
		m := NewBase("mon", func(context.Context) error { return errors.New("probe down") }, 5*time.Millisecond, nil)
		if err := m.Setup(ctx); err != nil {
			t.Fatalf("Setup() error = %v", err)
		}
		defer m.Teardown(ctx)
		if err := m.PreTest(ctx, 1); err != nil {
			t.Fatalf("PreTest() error = %v", err)
		}
		time.Sleep(50 * time.Millisecond)
		if err := m.PostTest(ctx); err != nil {
			t.Fatalf("PostTest() error = %v", err)
		}
		rep := m.Report()
		if got := rep.Status(); got != report.StatusFailed {
			t.Fatalf("Status() = %v, want failed", got)
		}
		if rep.Reason() != "probe down" {
			t.Errorf("Reason() = %q, want probe down", rep.Reason())
		}
	})

	t.Run("post test detaches the report from the probe loop", func(t *testing.T) {
		t.Parallel()
		m := NewBase("mon", func(context.Context) error { return errors.New("probe down") }, time.Millisecond, nil)
		if err := m.Setup(ctx); err != nil {
			t.Fatalf("Setup() error = %v", err)
		}
		defer m.Teardown(ctx)
		if err := m.PreTest(ctx, 1); err != nil {
			t.Fatalf("PreTest() error = %v", err)
		}
		time.Sleep(20 * time.Millisecond)
		if err := m.PostTest(ctx); err != nil {
			t.Fatalf("PostTest() error = %v", err)
		}
		// The loop keeps probing; reading the merged report while it
		// runs must be safe and stable.
		rep := m.Report()
		done := make(chan struct{})
		go func() {
			defer close(done)
			deadline := time.Now().Add(100 * time.Millisecond)
			for time.Now().Before(deadline) {
				if rep.Status() != report.StatusFailed {
					t.Error("detached report lost its status")
					return
				}
				if rep.Reason() != "probe down" {
					t.Error("detached report lost its reason")
					return
				}
				if _, err := json.Marshal(rep); err != nil {
					t.Errorf("Marshal() error = %v", err)
					return
				}
			}
		}()
		<-done
		if got := m.Report(); got != rep {
			t.Error("Report() changed between calls after PostTest()")
		}
	})

	t.Run("pre test restarts a torn down loop", func(t *testing.T) {
		t.Parallel()
		probed := make(chan struct{}, 1)
		m := NewBase("mon", func(context.Context) error {
			select {
			case probed <- struct{}{}:
			default:
			}
			return nil
		}, 5*time.Millisecond, nil)
		if err := m.Setup(ctx); err != nil {
			t.Fatalf("Setup() error = %v", err)
		}
		if err := m.Teardown(ctx); err != nil {
			t.Fatalf("Teardown() error = %v", err)
		}
		for len(probed) > 0 {
			<-probed
		}
		if err := m.PreTest(ctx, 2); err != nil {
			t.Fatalf("PreTest() error = %v", err)
		}
		defer m.Teardown(ctx)
		select {
		case <-probed:
		case <-time.After(time.Second):
			t.Error("probe never ran after restart")
		}
	})
}

func TestTCPPortMonitor(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	m := NewTCPPort("port_mon", ln.Addr().String(), 5*time.Millisecond, time.Second, nil)
	if err := m.Setup(ctx); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	defer m.Teardown(ctx)

	if err := m.PreTest(ctx, 1); err != nil {
		t.Fatalf("PreTest() error = %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if err := m.PostTest(ctx); err != nil {
		t.Fatalf("PostTest() error = %v", err)
	}
	if got := m.Report().Status(); got != report.StatusPassed {
		t.Fatalf("Status() while listening = %v, want passed", got)
	}

	ln.Close()
	if err := m.PreTest(ctx, 2); err != nil {
		t.Fatalf("PreTest() error = %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if err := m.PostTest(ctx); err != nil {
		t.Fatalf("PostTest() error = %v", err)
	}
	if got := m.Report().Status(); got != report.StatusFailed {
		t.Errorf("Status() after close = %v, want failed", got)
	}
}
