package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"
)

// TCPPort checks that the victim still accepts TCP connections. It is
// the typical liveness monitor for a fuzzed network server.
type TCPPort struct {
	*Base
}

// NewTCPPort returns a monitor connecting to addr every interval. A
// connection failure fails the running test with the dial error.
func NewTCPPort(name, addr string, interval, timeout time.Duration, logger *slog.Logger) *TCPPort {
	if timeout <= 0 {
		timeout = time.Second
	}
	probe := func(ctx context.Context) error {
		d := net.Dialer{Timeout: timeout}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return fmt.Errorf("victim unreachable at %s: %w", addr, err)
		}
		return conn.Close()
	}
	return &TCPPort{Base: NewBase(name, probe, interval, logger)}
}
