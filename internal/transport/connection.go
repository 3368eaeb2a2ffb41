package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/luciancaetano/tcpnet"
	"github.com/luciancaetano/tcpnet/framing"
)

// connCallbacks is the internal wiring a server installs on each accepted
// connection to forward events into its own callback set.
type connCallbacks struct {
	onData         func(c *Connection, data []byte)
	onDisconnected func(c *Connection)
	onError        func(c *Connection, code tcpnet.ErrorCode, err error)
}

// Connection wraps one accepted socket. It owns the socket exclusively from
// the moment the server hands it over, drives exactly one background receive
// loop, and tears itself down at most once.
type Connection struct {
	id   string
	conn net.Conn
	opts tcpnet.SocketOptions
	log  *zap.Logger

	remoteAddr  string
	localAddr   string
	connectedAt time.Time

	framer framing.Framer
	cipher tcpnet.Cipher

	state         atomic.Int32
	bytesSent     atomic.Uint64
	bytesReceived atomic.Uint64

	writeMu sync.Mutex

	cbs connCallbacks

	stopping atomic.Bool
	recvDone chan struct{}
	downOnce sync.Once

	// callbackDepth is non-zero while the receive loop is inside application
	// code; Close uses it to avoid joining its own goroutine.
	callbackDepth atomic.Int32
}

func newConnection(nc net.Conn, opts tcpnet.SocketOptions, log *zap.Logger, framer framing.Framer, cipher tcpnet.Cipher, cbs connCallbacks) *Connection {
	applyConnOptions(nc, opts)

	c := &Connection{
		id:          uuid.New().String(),
		conn:        nc,
		opts:        opts,
		framer:      framer,
		cipher:      cipher,
		cbs:         cbs,
		remoteAddr:  nc.RemoteAddr().String(),
		localAddr:   nc.LocalAddr().String(),
		connectedAt: time.Now(),
		recvDone:    make(chan struct{}),
	}
	c.log = log.With(zap.String("conn_id", c.id), zap.String("remote_addr", c.remoteAddr))
	c.state.Store(int32(tcpnet.StateConnected))
	return c
}

// start launches the receive loop. The server calls it after the connection
// is registered so the disconnect path always finds a registry entry.
func (c *Connection) start() {
	go c.receiveLoop()
}

func (c *Connection) ID() string         { return c.id }
func (c *Connection) RemoteAddr() string { return c.remoteAddr }
func (c *Connection) LocalAddr() string  { return c.localAddr }

func (c *Connection) State() tcpnet.ConnectionState {
	return tcpnet.ConnectionState(c.state.Load())
}

func (c *Connection) IsConnected() bool {
	return c.State() == tcpnet.StateConnected
}

func (c *Connection) Info() tcpnet.ConnInfo {
	return tcpnet.ConnInfo{
		ID:            c.id,
		RemoteAddr:    c.remoteAddr,
		LocalAddr:     c.localAddr,
		State:         c.State(),
		ConnectedAt:   c.connectedAt,
		BytesSent:     c.bytesSent.Load(),
		BytesReceived: c.bytesReceived.Load(),
	}
}

func (c *Connection) EnableEncryption(cipher tcpnet.Cipher) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.cipher = cipher
	return nil
}

// Send blocks until every byte is written or a fatal socket error occurs.
// The per-write deadline comes from the send timeout, so one stuck peer
// cannot hold a sender (or a broadcast) forever.
func (c *Connection) Send(data []byte) error {
	if !c.IsConnected() {
		return tcpnet.ErrNotConnected
	}

	payload := data
	if c.framer != nil {
		framed, err := c.framer.Frame(data)
		if err != nil {
			return fmt.Errorf("frame: %w", err)
		}
		payload = framed
	}

	c.writeMu.Lock()
	if c.cipher != nil {
		enc, err := c.cipher.Encrypt(payload)
		if err != nil {
			c.writeMu.Unlock()
			c.fail(tcpnet.EncryptionError, err)
			c.conn.Close()
			return fmt.Errorf("encrypt: %w", err)
		}
		payload = enc
	}

	if c.opts.SendTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.opts.SendTimeout))
	}
	n, err := c.conn.Write(payload)
	c.bytesSent.Add(uint64(n))
	c.writeMu.Unlock()

	if err != nil {
		if c.stopping.Load() {
			return tcpnet.ErrClosed
		}
		c.fail(tcpnet.SendFailed, err)
		// Kill the socket so the receive loop notices and runs teardown.
		c.conn.Close()
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

// SendAsync writes on a separate goroutine and reports the result to done,
// if set.
func (c *Connection) SendAsync(data []byte, done func(error)) {
	go func() {
		err := c.Send(data)
		if done != nil {
			done(err)
		}
	}()
}

// Close is idempotent: the first call moves the state to Disconnecting,
// closes the socket to unblock the receive loop, and waits for the loop to
// finish teardown (unless called from one of the connection's own callbacks,
// where waiting would deadlock). The disconnected callback fires exactly
// once, from the loop's teardown.
func (c *Connection) Close() error {
	// A non-zero callback depth approximates "called from our own callback".
	// A close from an unrelated goroutine that merely coincides with a
	// running callback only skips the join; teardown and the once-only
	// disconnect callback still happen on the loop.
	if c.stopping.Swap(true) {
		if c.callbackDepth.Load() == 0 {
			<-c.recvDone
		}
		return nil
	}

	if c.State() != tcpnet.StateError {
		c.state.Store(int32(tcpnet.StateDisconnecting))
	}
	c.conn.Close()

	if c.callbackDepth.Load() == 0 {
		<-c.recvDone
	}
	return nil
}

func (c *Connection) receiveLoop() {
	defer close(c.recvDone)
	defer c.teardown()

	buf := make([]byte, readChunkSize(c.opts))
	for {
		if c.stopping.Load() {
			return
		}
		if c.opts.ReceiveTimeout > 0 {
			c.conn.SetReadDeadline(time.Now().Add(c.opts.ReceiveTimeout))
		}

		n, err := c.conn.Read(buf)
		if n > 0 {
			c.bytesReceived.Add(uint64(n))
			if !c.dispatch(buf[:n]) {
				return
			}
		}
		if err != nil {
			if isWouldBlock(err) {
				continue
			}
			if c.stopping.Load() {
				// Intentional close in progress: a reset or closed-socket
				// error here is expected, not reportable.
				return
			}
			if errors.Is(err, io.EOF) {
				c.log.Debug("peer closed connection")
				c.state.Store(int32(tcpnet.StateDisconnected))
				return
			}
			c.fail(tcpnet.ReceiveFailed, err)
			return
		}
	}
}

// dispatch decrypts, unframes, and delivers one read chunk. It reports false
// when the connection must stop (decrypt failure, framing failure, or a
// panicking application callback).
func (c *Connection) dispatch(chunk []byte) bool {
	data := chunk
	if c.cipher != nil {
		plain, err := c.cipher.Decrypt(chunk)
		if err != nil {
			c.fail(tcpnet.EncryptionError, err)
			return false
		}
		data = plain
	}

	if c.framer == nil {
		// The read buffer is reused; hand the application its own copy.
		msg := make([]byte, len(data))
		copy(msg, data)
		return c.invokeData(msg)
	}

	msgs, err := c.framer.Unframe(data)
	for _, msg := range msgs {
		if !c.invokeData(msg) {
			return false
		}
	}
	if err != nil {
		c.fail(tcpnet.ReceiveFailed, err)
		return false
	}
	return true
}

// invokeData runs the data callback outside any internal lock. A panic in
// application code terminates this connection's loop only, never the
// process.
func (c *Connection) invokeData(msg []byte) (ok bool) {
	if c.cbs.onData == nil {
		return true
	}

	c.callbackDepth.Add(1)
	defer c.callbackDepth.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("data callback panicked, closing connection", zap.Any("panic", r))
			ok = false
		}
	}()
	c.cbs.onData(c, msg)
	return true
}

// teardown finishes the close sequence exactly once: socket closed, terminal
// state recorded, disconnected callback fired.
func (c *Connection) teardown() {
	c.downOnce.Do(func() {
		c.stopping.Store(true)
		c.conn.Close()
		if c.State() != tcpnet.StateError {
			c.state.Store(int32(tcpnet.StateDisconnected))
		}
		c.log.Debug("connection closed",
			zap.Uint64("bytes_sent", c.bytesSent.Load()),
			zap.Uint64("bytes_received", c.bytesReceived.Load()))

		if c.cbs.onDisconnected != nil {
			c.callbackDepth.Add(1)
			defer c.callbackDepth.Add(-1)
			defer func() {
				if r := recover(); r != nil {
					c.log.Error("disconnect callback panicked", zap.Any("panic", r))
				}
			}()
			c.cbs.onDisconnected(c)
		}
	})
}

// fail records a transport error: state forced to Error, then the error
// callback, invoked outside any internal lock.
func (c *Connection) fail(code tcpnet.ErrorCode, err error) {
	c.state.Store(int32(tcpnet.StateError))
	c.log.Warn("connection error", zap.Stringer("code", code), zap.Error(err))
	if c.cbs.onError != nil {
		c.callbackDepth.Add(1)
		defer c.callbackDepth.Add(-1)
		c.cbs.onError(c, code, err)
	}
}

func isWouldBlock(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}

func readChunkSize(o tcpnet.SocketOptions) int {
	if o.ReceiveBufferSize > 0 {
		return o.ReceiveBufferSize
	}
	return 4096
}
