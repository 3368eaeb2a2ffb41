//go:build unix

package transport

import (
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/luciancaetano/tcpnet"
)

// listenControl returns a ListenConfig control hook applying socket options
// that must be set before bind, or nil when none are requested.
func listenControl(o tcpnet.SocketOptions) func(network, address string, rc syscall.RawConn) error {
	if !o.ReuseAddress {
		return nil
	}
	return func(network, address string, rc syscall.RawConn) error {
		var serr error
		if err := rc.Control(func(fd uintptr) {
			serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		}); err != nil {
			return err
		}
		return serr
	}
}
