// Package tcpnet is a general-purpose TCP networking runtime: client and
// server abstractions over raw stream sockets that manage connection
// lifecycle, concurrent I/O, reconnection, keep-alives, message framing, and
// flow control.
//
// It targets applications (chat, echo, custom protocols) that need reliable
// request/response or streaming semantics without hand-rolling socket
// plumbing.
//
// # Architecture
//
// A Server owns a listening socket, an accept loop, and a registry of active
// connections; every accepted socket becomes a Conn with its own receive
// loop. A Client owns one outbound socket plus optional reconnect and
// heartbeat loops. Both surface events through per-instance callbacks:
// connected, disconnected, data received, and error.
//
// Message boundaries are the framing package's job: attach a length-prefixed
// or delimiter framer and the data callback receives whole messages instead
// of raw read chunks. Flow control building blocks live in ratelimit (token
// bucket), pool (bounded connection pool), and buffer (fixed-capacity byte
// ring).
//
// # Quick start
//
//	import "github.com/luciancaetano/tcpnet/tcp"
//
//	server := tcp.NewServer(&tcp.ServerConfig{
//	    OnData: func(c tcpnet.Conn, data []byte) {
//	        c.Send(data) // echo
//	    },
//	})
//	server.Start("127.0.0.1", 9000)
//
//	client := tcp.NewClient(&tcp.ClientConfig{
//	    OnData: func(data []byte) {
//	        log.Printf("received %d bytes", len(data))
//	    },
//	})
//	client.Connect("127.0.0.1", 9000)
//	client.Send([]byte("ping\r\n"))
//
// # Concurrency model
//
// One goroutine per long-running activity: one receive loop per connection,
// plus the client's reconnect and heartbeat loops and the server's accept and
// cleanup loops. Callbacks for a single connection fire in order from its own
// loop and never overlap; the disconnected callback fires at most once. No
// internal lock is held across a callback, so application code may safely
// re-enter the runtime (including calling Disconnect from a callback).
//
// # Error handling
//
// Transport errors surface through the error callback together with a forced
// transition to StateError; they are never panics. Lifecycle entry points
// (Connect, Start, Send) return errors directly and leave no partial state
// behind on failure. A "would block" read is not an error, and a connection
// reset observed during intentional teardown is suppressed.
//
// # Out of scope
//
// The runtime does not implement TLS handshakes (encryption is an opaque
// Cipher collaborator), UDP, or HTTP/WebSocket semantics beyond byte framing.
package tcpnet
