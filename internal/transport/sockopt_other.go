//go:build !unix

package transport

import (
	"syscall"

	"github.com/luciancaetano/tcpnet"
)

// listenControl is a no-op off unix platforms; the runtime falls back to the
// platform's default bind semantics.
func listenControl(o tcpnet.SocketOptions) func(network, address string, rc syscall.RawConn) error {
	return nil
}
