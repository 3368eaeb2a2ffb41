package transport

import (
	"net"
	"strconv"
	"time"

	"github.com/luciancaetano/tcpnet"
)

// resolveAddress turns a hostname into an IPv4 literal, preferring A records.
// If the input already is an IP literal, or resolution fails, the input is
// returned unchanged and the dial decides its fate.
func resolveAddress(host string) string {
	if ip := net.ParseIP(host); ip != nil {
		return host
	}

	addrs, err := net.LookupHost(host)
	if err != nil || len(addrs) == 0 {
		return host
	}
	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil && ip.To4() != nil {
			return a
		}
	}
	return addrs[0]
}

func hostPort(host string, port uint16) string {
	return net.JoinHostPort(host, strconv.Itoa(int(port)))
}

// applyConnOptions tunes an accepted or dialed TCP socket. Options are a
// value snapshot: later changes to the defaults do not touch this socket.
func applyConnOptions(nc net.Conn, o tcpnet.SocketOptions) {
	tc, ok := nc.(*net.TCPConn)
	if !ok {
		return
	}

	tc.SetNoDelay(o.NoDelay)
	tc.SetKeepAlive(o.KeepAlive)
	if o.KeepAlive {
		tc.SetKeepAlivePeriod(30 * time.Second)
	}
	if o.SendBufferSize > 0 {
		tc.SetWriteBuffer(o.SendBufferSize)
	}
	if o.ReceiveBufferSize > 0 {
		tc.SetReadBuffer(o.ReceiveBufferSize)
	}
}
