package tcpnet

import (
	"time"
)

// ConnectionState describes where a client or connection is in its lifecycle.
//
// Transitions are one-directional:
//
//	Disconnected → Connecting → Connected → Disconnecting → Disconnected
//
// with Error reachable from any connected state. A reconnecting client loops
// back to Connecting from Disconnected.
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateDisconnecting
	StateError
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Cipher is an opaque encryption context. When attached to a client, server,
// or connection, outbound bytes are routed through Encrypt before hitting the
// socket and inbound bytes through Decrypt before reaching the application.
//
// The runtime performs no handshake of its own; key exchange and session setup
// are entirely the implementation's concern.
type Cipher interface {
	Encrypt(plain []byte) ([]byte, error)
	Decrypt(data []byte) ([]byte, error)
}

// ConnInfo is a point-in-time snapshot of a connection. It is returned by
// value and never reflects later changes.
type ConnInfo struct {
	ID            string
	RemoteAddr    string
	LocalAddr     string
	State         ConnectionState
	ConnectedAt   time.Time
	BytesSent     uint64
	BytesReceived uint64
}

// ClientStats is a snapshot of a client's counters. Byte and connection
// counters are monotonic and survive reconnects.
type ClientStats struct {
	TotalConnections uint64
	Reconnections    uint64
	BytesSent        uint64
	BytesReceived    uint64
	LastConnectedAt  time.Time
}

// ServerStats is a snapshot of a server's counters. Byte totals include the
// live counters of currently registered connections, so reading them costs
// O(active connections).
type ServerStats struct {
	TotalConnections   uint64
	ActiveConnections  int
	TotalBytesSent     uint64
	TotalBytesReceived uint64
	StartTime          time.Time
}

// Conn is one accepted socket owned by a server. The server transfers
// ownership at accept time; after that the connection drives its own receive
// loop and teardown.
//
// Data callbacks for a single Conn fire in order from its receive loop and
// never overlap; the disconnected callback fires at most once.
type Conn interface {
	// ID returns the connection's unique identifier, assigned at accept time.
	ID() string

	// RemoteAddr returns the peer's address in "ip:port" form.
	RemoteAddr() string

	// LocalAddr returns the local endpoint in "ip:port" form.
	LocalAddr() string

	// State returns the connection's current lifecycle state.
	State() ConnectionState

	// IsConnected reports whether the connection is in StateConnected.
	IsConnected() bool

	// Info returns a snapshot of the connection's identity, state, and
	// byte counters.
	Info() ConnInfo

	// Send writes data to the peer, blocking until every byte is written or a
	// fatal socket error occurs. When a framer is attached the payload is
	// framed first; when a cipher is attached the bytes are encrypted first.
	Send(data []byte) error

	// SendAsync writes data on a separate goroutine and, if done is non-nil,
	// invokes it with the result.
	SendAsync(data []byte, done func(error))

	// Close tears the connection down: state moves to Disconnecting, the
	// socket is closed to unblock the receive loop, the loop is waited out,
	// and the disconnected callback fires exactly once. Safe to call any
	// number of times.
	Close() error

	// EnableEncryption attaches an opaque cipher. Must be called before any
	// payload traffic; typically from the server's connected callback.
	EnableEncryption(c Cipher) error
}

// Client actively opens and owns one outbound connection, plus optional
// reconnect and heartbeat loops that re-enter the same connect/disconnect
// state machine.
type Client interface {
	// Connect dials address:port using the configured connect timeout.
	// A hostname is resolved first, falling back to the literal input when
	// resolution fails. On success the receive loop starts and the connected
	// callback fires before Connect returns.
	Connect(address string, port uint16) error

	// ConnectTimeout is Connect with an explicit dial deadline.
	ConnectTimeout(address string, port uint16, timeout time.Duration) error

	// ConnectAsync dials in the background and delivers the result on the
	// returned channel.
	ConnectAsync(address string, port uint16) <-chan error

	// Disconnect stops every background loop, closes the socket, and fires
	// the disconnected callback. Idempotent, and safe to call from inside a
	// callback invoked by one of the client's own loops.
	Disconnect() error

	IsConnected() bool
	State() ConnectionState
	RemoteAddr() string
	LocalAddr() string

	// Send writes data to the server, framing and encrypting first when a
	// framer or cipher is attached.
	Send(data []byte) error

	// SendAsync writes data on a separate goroutine and, if done is non-nil,
	// invokes it with the result.
	SendAsync(data []byte, done func(error))

	// Receive performs a synchronous read of up to maxLen bytes. Only valid
	// when no data callback is configured (the receive loop owns the socket
	// otherwise).
	Receive(maxLen int) ([]byte, error)

	// EnableAutoReconnect starts (or re-arms) the reconnect loop. After an
	// unexpected disconnect the loop sleeps interval, then retries the last
	// address once per wake.
	EnableAutoReconnect(interval time.Duration)

	// DisableAutoReconnect stops further reconnect attempts. An attempt
	// already in flight is not interrupted.
	DisableAutoReconnect()

	// EnableHeartbeat starts (or re-arms) the heartbeat loop, which sends the
	// configured payload every interval while connected. An empty payload
	// makes the tick a no-op.
	EnableHeartbeat(interval time.Duration)

	// DisableHeartbeat stops the heartbeat loop.
	DisableHeartbeat()

	// SetHeartbeatPayload sets the bytes sent on each heartbeat tick.
	SetHeartbeatPayload(data []byte)

	// EnableEncryption attaches an opaque cipher used for all subsequent
	// traffic. Must be called before Connect.
	EnableEncryption(c Cipher) error

	// Stats returns a snapshot of the client's counters.
	Stats() ClientStats
}

// Server owns a listening socket, an accept loop, a registry of active
// connections, and a cleanup loop that reclaims dead registry entries.
type Server interface {
	// Start binds and listens on address:port, then launches the accept and
	// cleanup loops. Returns an error if the server is already running or the
	// bind/listen fails; a failed start leaves no partial state behind.
	Start(address string, port uint16) error

	// Stop flips the running flag, closes the listener to unblock the accept
	// loop, joins both loops, force-closes every registered connection, and
	// clears the registry. Idempotent.
	Stop() error

	IsRunning() bool

	// Addr returns the bound listener address, or "" before Start.
	Addr() string

	// Conns returns the currently registered connections.
	Conns() []Conn

	// ConnCount returns the number of registered connections.
	ConnCount() int

	// CloseConn closes and deregisters the connection with the given ID.
	CloseConn(id string) error

	// CloseAll force-closes every registered connection and clears the
	// registry without stopping the listener.
	CloseAll() error

	// Broadcast sends data to every currently connected member of the
	// registry. Sends are sequential; each is bounded by the connection's
	// send timeout.
	Broadcast(data []byte) error

	// EnableEncryption attaches a cipher that is applied to every connection
	// accepted from now on.
	EnableEncryption(c Cipher)

	// Stats returns a snapshot of the server's counters.
	Stats() ServerStats
}
