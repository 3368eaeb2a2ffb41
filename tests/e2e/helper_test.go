package e2e_test

import (
	"net"
	"strconv"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/luciancaetano/tcpnet"
	"github.com/luciancaetano/tcpnet/tcp"
)

// startServer binds to an ephemeral loopback port and registers a cleanup
// stop. It returns the server plus the host and port to dial.
func startServer(t *testing.T, cfg *tcp.ServerConfig) (tcpnet.Server, string, uint16) {
	t.Helper()

	if cfg == nil {
		cfg = &tcp.ServerConfig{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zaptest.NewLogger(t)
	}

	srv := tcp.NewServer(cfg)
	if err := srv.Start("127.0.0.1", 0); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	t.Cleanup(func() {
		srv.Stop()
	})

	host, portStr, err := net.SplitHostPort(srv.Addr())
	if err != nil {
		t.Fatalf("bad listener address %q: %v", srv.Addr(), err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		t.Fatalf("bad listener port %q: %v", portStr, err)
	}
	return srv, host, uint16(port)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}
