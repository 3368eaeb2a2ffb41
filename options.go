package tcpnet

import (
	"sync"
	"time"
)

// SocketOptions is an immutable configuration snapshot applied when a socket
// is created. It is copied by value into each client, server, and connection;
// changing the process-wide defaults afterwards does not affect sockets that
// are already open.
//
// A zero Send/Receive/ConnectTimeout means "no deadline". A receive timeout
// does not terminate an idle connection: the receive loop treats deadline
// expiry as "no data yet" and keeps reading.
type SocketOptions struct {
	ReuseAddress      bool
	KeepAlive         bool
	NoDelay           bool
	SendBufferSize    int
	ReceiveBufferSize int
	SendTimeout       time.Duration
	ReceiveTimeout    time.Duration
	ConnectTimeout    time.Duration
}

var (
	defaultsMu     sync.RWMutex
	defaultOptions = SocketOptions{
		ReuseAddress:      true,
		KeepAlive:         true,
		NoDelay:           true,
		SendBufferSize:    8192,
		ReceiveBufferSize: 8192,
		SendTimeout:       5 * time.Second,
		ReceiveTimeout:    5 * time.Second,
		ConnectTimeout:    10 * time.Second,
	}
)

// DefaultSocketOptions returns a copy of the process-wide default options.
func DefaultSocketOptions() SocketOptions {
	defaultsMu.RLock()
	defer defaultsMu.RUnlock()
	return defaultOptions
}

// SetDefaultSocketOptions replaces the process-wide defaults. Intended to be
// called once at startup, before any client or server is created; sockets
// already open keep the options they were created with.
func SetDefaultSocketOptions(o SocketOptions) {
	defaultsMu.Lock()
	defer defaultsMu.Unlock()
	defaultOptions = o
}
