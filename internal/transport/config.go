package transport

import (
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/luciancaetano/tcpnet"
	"github.com/luciancaetano/tcpnet/framing"
)

// OnConnectedFn is called by a server after a new connection has been
// registered. This is the place to track connections, send greetings, or
// attach per-connection state. It runs synchronously on the accept loop, so
// avoid long-running work that would block further accepts.
type OnConnectedFn = func(conn tcpnet.Conn)

// OnDisconnectedFn is called exactly once per connection after its receive
// loop has fully stopped. No data callback for the same connection fires
// after it.
type OnDisconnectedFn = func(conn tcpnet.Conn)

// OnDataFn receives inbound traffic. Without a framer it is called with raw
// read chunks; with a framer, once per decoded message. It runs synchronously
// on the connection's receive loop: blocking here stalls all further reads on
// that connection (and only that connection).
type OnDataFn = func(conn tcpnet.Conn, data []byte)

// OnErrorFn is called when a transport error forces a connection into the
// error state.
type OnErrorFn = func(conn tcpnet.Conn, code tcpnet.ErrorCode, err error)

// ServerConfig configures a Server. The zero value is usable: default socket
// options, a no-op logger, raw (unframed) data callbacks, and a 5s cleanup
// sweep.
type ServerConfig struct {
	// Options overrides the process-wide default socket options.
	Options *tcpnet.SocketOptions

	// Logger receives structured lifecycle logs. Nil means no logging.
	Logger *zap.Logger

	// Clock drives the cleanup loop. Nil means the wall clock; tests inject
	// a mock.
	Clock clock.Clock

	// CleanupInterval is how often the registry is swept for dead
	// connections. Zero means 5 seconds.
	CleanupInterval time.Duration

	// NewFramer, when set, is invoked once per accepted connection to build
	// its inbound decoder; sends on that connection are framed with the same
	// instance.
	NewFramer func() framing.Framer

	OnConnected    OnConnectedFn
	OnDisconnected OnDisconnectedFn
	OnData         OnDataFn
	OnError        OnErrorFn
}

// ClientConfig configures a Client. The zero value gives a synchronous
// client: with no OnData callback the receive loop is not started and
// Receive reads the socket directly.
type ClientConfig struct {
	// Options overrides the process-wide default socket options.
	Options *tcpnet.SocketOptions

	// Logger receives structured lifecycle logs. Nil means no logging.
	Logger *zap.Logger

	// Clock drives the reconnect and heartbeat loops. Nil means the wall
	// clock; tests inject a mock.
	Clock clock.Clock

	// Framer decodes inbound bytes into messages for OnData and frames
	// outbound Send payloads.
	Framer framing.Framer

	OnConnected    func()
	OnDisconnected func()
	OnData         func(data []byte)
	OnError        func(code tcpnet.ErrorCode, err error)
}

func (cfg *ServerConfig) logger() *zap.Logger {
	if cfg.Logger != nil {
		return cfg.Logger
	}
	return zap.NewNop()
}

func (cfg *ServerConfig) clock() clock.Clock {
	if cfg.Clock != nil {
		return cfg.Clock
	}
	return clock.New()
}

func (cfg *ServerConfig) options() tcpnet.SocketOptions {
	if cfg.Options != nil {
		return *cfg.Options
	}
	return tcpnet.DefaultSocketOptions()
}

func (cfg *ClientConfig) logger() *zap.Logger {
	if cfg.Logger != nil {
		return cfg.Logger
	}
	return zap.NewNop()
}

func (cfg *ClientConfig) clock() clock.Clock {
	if cfg.Clock != nil {
		return cfg.Clock
	}
	return clock.New()
}

func (cfg *ClientConfig) options() tcpnet.SocketOptions {
	if cfg.Options != nil {
		return *cfg.Options
	}
	return tcpnet.DefaultSocketOptions()
}
