package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/luciancaetano/tcpnet"
	"github.com/luciancaetano/tcpnet/framing"
)

const (
	defaultReconnectInterval = 5 * time.Second
	defaultHeartbeatInterval = 30 * time.Second
)

// session is one outbound connection's socket and teardown state. A client
// goes through one session per (re)connect; the once guard keeps the
// disconnected callback at exactly one firing per session.
type session struct {
	conn net.Conn
	done chan struct{}
	stop atomic.Bool
	once sync.Once
}

// Client owns one outbound TCP connection plus optional reconnect and
// heartbeat loops. It implements tcpnet.Client.
type Client struct {
	opts   tcpnet.SocketOptions
	log    *zap.Logger
	clk    clock.Clock
	framer framing.Framer

	onConnected    func()
	onDisconnected func()
	onData         func(data []byte)
	onError        func(code tcpnet.ErrorCode, err error)

	mu         sync.Mutex // socket/endpoint fields
	sess       *session
	cipher     tcpnet.Cipher
	remoteHost string
	remotePort uint16
	remoteAddr string
	localAddr  string

	writeMu sync.Mutex

	state    atomic.Int32
	stopping atomic.Bool

	lifeMu           sync.Mutex // stop channel + loop bookkeeping
	stopCh           chan struct{}
	loopWG           sync.WaitGroup
	reconnectRunning bool
	hbRunning        bool

	recMu             sync.Mutex
	autoReconnect     bool
	reconnectInterval time.Duration
	reconnectWake     chan struct{}

	hbMu       sync.Mutex
	hbEnabled  bool
	hbInterval time.Duration
	hbPayload  []byte
	hbWake     chan struct{}

	statsMu sync.Mutex
	stats   tcpnet.ClientStats

	// callbackDepth is non-zero while one of the client's own loops is
	// inside application code; Disconnect uses it to avoid joining itself.
	callbackDepth atomic.Int32
}

// NewClient builds a disconnected client from cfg. cfg may be nil.
func NewClient(cfg *ClientConfig) *Client {
	if cfg == nil {
		cfg = &ClientConfig{}
	}
	c := &Client{
		opts:              cfg.options(),
		log:               cfg.logger().Named("client"),
		clk:               cfg.clock(),
		framer:            cfg.Framer,
		onConnected:       cfg.OnConnected,
		onDisconnected:    cfg.OnDisconnected,
		onData:            cfg.OnData,
		onError:           cfg.OnError,
		stopCh:            make(chan struct{}),
		reconnectWake:     make(chan struct{}, 1),
		hbWake:            make(chan struct{}, 1),
		reconnectInterval: defaultReconnectInterval,
		hbInterval:        defaultHeartbeatInterval,
	}
	c.state.Store(int32(tcpnet.StateDisconnected))
	return c
}

func (c *Client) State() tcpnet.ConnectionState {
	return tcpnet.ConnectionState(c.state.Load())
}

func (c *Client) IsConnected() bool {
	return c.State() == tcpnet.StateConnected
}

func (c *Client) RemoteAddr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteAddr
}

func (c *Client) LocalAddr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localAddr
}

// Connect dials using the configured connect timeout.
func (c *Client) Connect(address string, port uint16) error {
	return c.ConnectTimeout(address, port, c.opts.ConnectTimeout)
}

// ConnectTimeout dials with an explicit deadline. An existing connection is
// torn down first.
func (c *Client) ConnectTimeout(address string, port uint16, timeout time.Duration) error {
	if c.IsConnected() {
		if err := c.Disconnect(); err != nil {
			return err
		}
	}
	return c.connectInternal(address, port, timeout, false)
}

// ConnectAsync dials in the background, delivering the result on the
// returned channel.
func (c *Client) ConnectAsync(address string, port uint16) <-chan error {
	ch := make(chan error, 1)
	go func() {
		ch <- c.Connect(address, port)
	}()
	return ch
}

func (c *Client) connectInternal(host string, port uint16, timeout time.Duration, reconnect bool) error {
	if c.stopping.Load() {
		return tcpnet.ErrClosed
	}

	c.state.Store(int32(tcpnet.StateConnecting))

	resolved := resolveAddress(host)
	d := net.Dialer{Timeout: timeout}
	nc, err := d.Dial("tcp", hostPort(resolved, port))
	if err != nil {
		c.state.Store(int32(tcpnet.StateError))
		code := tcpnet.Classify(err)
		if code == tcpnet.UnknownError {
			code = tcpnet.ConnectionFailed
		}
		c.fireError(code, err)
		return fmt.Errorf("connect %s: %w", hostPort(resolved, port), err)
	}
	return c.installSession(nc, host, port, reconnect)
}

// installSession registers a freshly dialed socket as the live session. The
// stop flag is re-checked under the lock: a Disconnect that started while the
// dial was in flight wins, and the socket is closed instead of installed, so
// Disconnect can never return leaving a live connection behind.
func (c *Client) installSession(nc net.Conn, host string, port uint16, reconnect bool) error {
	applyConnOptions(nc, c.opts)

	sess := &session{conn: nc, done: make(chan struct{})}
	c.mu.Lock()
	if c.stopping.Load() {
		c.mu.Unlock()
		nc.Close()
		c.state.Store(int32(tcpnet.StateDisconnected))
		return tcpnet.ErrClosed
	}
	if c.framer != nil {
		// A partial message from the previous session must not leak into
		// this one.
		c.framer.Reset()
	}
	c.sess = sess
	c.remoteHost = host
	c.remotePort = port
	c.remoteAddr = nc.RemoteAddr().String()
	c.localAddr = nc.LocalAddr().String()
	c.mu.Unlock()

	c.state.Store(int32(tcpnet.StateConnected))

	c.statsMu.Lock()
	c.stats.TotalConnections++
	if reconnect {
		c.stats.Reconnections++
	}
	c.stats.LastConnectedAt = time.Now()
	c.statsMu.Unlock()

	c.log.Info("connected",
		zap.String("remote_addr", nc.RemoteAddr().String()),
		zap.Bool("reconnect", reconnect))

	if c.onData != nil {
		go c.receiveLoop(sess)
	} else {
		// Synchronous mode: no loop owns the socket, Receive reads directly.
		close(sess.done)
	}

	if c.onConnected != nil {
		c.callbackDepth.Add(1)
		c.onConnected()
		c.callbackDepth.Add(-1)
	}
	return nil
}

// Disconnect stops the reconnect and heartbeat loops, closes the socket,
// joins every background goroutine it did not itself run from, and fires the
// disconnected callback. Safe to call repeatedly and from inside callbacks.
func (c *Client) Disconnect() error {
	if c.stopping.Swap(true) {
		return nil
	}

	c.recMu.Lock()
	c.autoReconnect = false
	c.recMu.Unlock()
	c.hbMu.Lock()
	c.hbEnabled = false
	c.hbMu.Unlock()

	c.lifeMu.Lock()
	close(c.stopCh)
	c.lifeMu.Unlock()

	if c.State() == tcpnet.StateConnected {
		c.state.Store(int32(tcpnet.StateDisconnecting))
	}

	c.mu.Lock()
	sess := c.sess
	c.sess = nil
	c.mu.Unlock()

	// Approximation of "called from one of our own callbacks": a non-zero
	// depth from an unrelated goroutine only skips the join, never the
	// teardown or the once-only callback.
	selfJoin := c.callbackDepth.Load() > 0

	if sess != nil {
		sess.stop.Store(true)
		sess.conn.Close()
		if c.onData != nil {
			// The receive loop runs teardown (state + callback) on exit.
			if !selfJoin {
				<-sess.done
			}
		} else {
			c.sessionDown(sess)
		}
	} else {
		c.state.Store(int32(tcpnet.StateDisconnected))
	}

	if !selfJoin {
		c.loopWG.Wait()
		// A reconnect dial in flight when the stop flag went up aborts at
		// install time; any session that still slipped in before the flag
		// is torn down here so Disconnect never returns connected.
		c.mu.Lock()
		late := c.sess
		c.sess = nil
		c.mu.Unlock()
		if late != nil {
			late.stop.Store(true)
			late.conn.Close()
			if c.onData != nil {
				<-late.done
			} else {
				c.sessionDown(late)
			}
		}
	}

	// Re-arm so the client can connect again; loops restart via Enable*.
	c.lifeMu.Lock()
	c.stopCh = make(chan struct{})
	c.lifeMu.Unlock()
	c.stopping.Store(false)

	c.log.Info("disconnected")
	return nil
}

// Send writes data to the server, framing and encrypting first when
// configured.
func (c *Client) Send(data []byte) error {
	if !c.IsConnected() {
		return tcpnet.ErrNotConnected
	}
	c.mu.Lock()
	sess := c.sess
	cipher := c.cipher
	c.mu.Unlock()
	if sess == nil {
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
	if cipher != nil {
		enc, err := cipher.Encrypt(payload)
		if err != nil {
			c.writeMu.Unlock()
			c.fail(tcpnet.EncryptionError, err)
			sess.conn.Close()
			return fmt.Errorf("encrypt: %w", err)
		}
		payload = enc
	}
	if c.opts.SendTimeout > 0 {
		sess.conn.SetWriteDeadline(time.Now().Add(c.opts.SendTimeout))
	}
	n, err := sess.conn.Write(payload)
	c.writeMu.Unlock()

	if n > 0 {
		c.statsMu.Lock()
		c.stats.BytesSent += uint64(n)
		c.statsMu.Unlock()
	}
	if err != nil {
		if sess.stop.Load() || c.stopping.Load() {
			return tcpnet.ErrClosed
		}
		c.fail(tcpnet.SendFailed, err)
		sess.conn.Close()
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

// SendAsync writes on a separate goroutine and reports the result to done,
// if set.
func (c *Client) SendAsync(data []byte, done func(error)) {
	go func() {
		err := c.Send(data)
		if done != nil {
			done(err)
		}
	}()
}

// Receive performs one synchronous read of up to maxLen bytes. Only valid in
// synchronous mode (no OnData callback); otherwise the receive loop owns the
// socket. A read deadline expiring returns an empty slice, not an error.
func (c *Client) Receive(maxLen int) ([]byte, error) {
	if c.onData != nil {
		return nil, tcpnet.ErrRecvLoopActive
	}
	c.mu.Lock()
	sess := c.sess
	cipher := c.cipher
	c.mu.Unlock()
	if sess == nil || !c.IsConnected() {
		return nil, tcpnet.ErrNotConnected
	}
	if maxLen <= 0 {
		maxLen = 4096
	}

	if c.opts.ReceiveTimeout > 0 {
		sess.conn.SetReadDeadline(time.Now().Add(c.opts.ReceiveTimeout))
	}
	buf := make([]byte, maxLen)
	n, err := sess.conn.Read(buf)
	if n > 0 {
		c.statsMu.Lock()
		c.stats.BytesReceived += uint64(n)
		c.statsMu.Unlock()
	}
	if err != nil {
		if isWouldBlock(err) {
			return buf[:n], nil
		}
		if sess.stop.Load() || c.stopping.Load() {
			return nil, tcpnet.ErrClosed
		}
		if errors.Is(err, io.EOF) {
			c.sessionDown(sess)
			return nil, tcpnet.ErrClosed
		}
		c.fail(tcpnet.ReceiveFailed, err)
		sess.conn.Close()
		return nil, fmt.Errorf("receive: %w", err)
	}

	data := buf[:n]
	if cipher != nil {
		plain, derr := cipher.Decrypt(data)
		if derr != nil {
			c.fail(tcpnet.EncryptionError, derr)
			return nil, fmt.Errorf("decrypt: %w", derr)
		}
		data = plain
	}
	return data, nil
}

// EnableEncryption attaches a cipher for all subsequent traffic. It must be
// called before Connect.
func (c *Client) EnableEncryption(cipher tcpnet.Cipher) error {
	if c.IsConnected() {
		return errors.New("tcpnet: enable encryption before connecting")
	}
	c.mu.Lock()
	c.cipher = cipher
	c.mu.Unlock()
	return nil
}

// EnableAutoReconnect arms the reconnect loop. After an unexpected
// disconnect the loop sleeps interval, then retries the last endpoint once
// per wake; failures re-arm the next wake.
func (c *Client) EnableAutoReconnect(interval time.Duration) {
	if interval <= 0 {
		interval = defaultReconnectInterval
	}
	c.recMu.Lock()
	c.autoReconnect = true
	c.reconnectInterval = interval
	c.recMu.Unlock()

	c.startLoop(&c.reconnectRunning, c.reconnectLoop)
	c.signalReconnect()
}

// DisableAutoReconnect stops further reconnect attempts. An attempt already
// dialing is not interrupted.
func (c *Client) DisableAutoReconnect() {
	c.recMu.Lock()
	c.autoReconnect = false
	c.recMu.Unlock()
	c.signalReconnect()
}

// EnableHeartbeat arms the heartbeat loop: every interval, the configured
// payload is sent if the client is connected. An empty payload makes the
// tick a no-op.
func (c *Client) EnableHeartbeat(interval time.Duration) {
	if interval <= 0 {
		interval = defaultHeartbeatInterval
	}
	c.hbMu.Lock()
	c.hbEnabled = true
	c.hbInterval = interval
	c.hbMu.Unlock()

	c.startLoop(&c.hbRunning, c.heartbeatLoop)
	c.signalHeartbeat()
}

// DisableHeartbeat stops the heartbeat loop.
func (c *Client) DisableHeartbeat() {
	c.hbMu.Lock()
	c.hbEnabled = false
	c.hbMu.Unlock()
	c.signalHeartbeat()
}

// SetHeartbeatPayload sets the bytes sent on each heartbeat tick.
func (c *Client) SetHeartbeatPayload(data []byte) {
	payload := make([]byte, len(data))
	copy(payload, data)
	c.hbMu.Lock()
	c.hbPayload = payload
	c.hbMu.Unlock()
}

// Stats returns a snapshot of the client's counters.
func (c *Client) Stats() tcpnet.ClientStats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}

// startLoop launches fn once; running is reset when the loop exits so a
// later Enable call can restart it.
func (c *Client) startLoop(running *bool, fn func(stop <-chan struct{})) {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	if *running {
		return
	}
	*running = true
	stop := c.stopCh
	c.loopWG.Add(1)
	go func() {
		defer func() {
			c.lifeMu.Lock()
			*running = false
			c.lifeMu.Unlock()
			c.loopWG.Done()
		}()
		fn(stop)
	}()
}

func (c *Client) reconnectLoop(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-c.reconnectWake:
		}

		c.recMu.Lock()
		enabled, interval := c.autoReconnect, c.reconnectInterval
		c.recMu.Unlock()
		if !enabled {
			return
		}
		if c.IsConnected() || c.stopping.Load() {
			continue
		}

		t := c.clk.Timer(interval)
		select {
		case <-stop:
			t.Stop()
			return
		case <-t.C:
		}

		c.recMu.Lock()
		enabled = c.autoReconnect
		c.recMu.Unlock()
		if !enabled {
			return
		}
		if c.IsConnected() || c.stopping.Load() {
			continue
		}

		c.mu.Lock()
		host, port := c.remoteHost, c.remotePort
		c.mu.Unlock()
		if host == "" {
			continue
		}

		if err := c.connectInternal(host, port, c.opts.ConnectTimeout, true); err != nil {
			c.log.Debug("reconnect attempt failed", zap.Error(err))
			c.signalReconnect()
		}
	}
}

func (c *Client) heartbeatLoop(stop <-chan struct{}) {
	for {
		c.hbMu.Lock()
		enabled, interval, payload := c.hbEnabled, c.hbInterval, c.hbPayload
		c.hbMu.Unlock()
		if !enabled {
			return
		}

		t := c.clk.Timer(interval)
		select {
		case <-stop:
			t.Stop()
			return
		case <-c.hbWake:
			t.Stop()
			continue
		case <-t.C:
		}

		if c.IsConnected() && len(payload) > 0 {
			if err := c.Send(payload); err != nil {
				c.log.Debug("heartbeat send failed", zap.Error(err))
			}
		}
	}
}

func (c *Client) receiveLoop(sess *session) {
	defer close(sess.done)
	defer c.sessionDown(sess)

	buf := make([]byte, readChunkSize(c.opts))
	for {
		if sess.stop.Load() || c.stopping.Load() {
			return
		}
		if c.opts.ReceiveTimeout > 0 {
			sess.conn.SetReadDeadline(time.Now().Add(c.opts.ReceiveTimeout))
		}

		n, err := sess.conn.Read(buf)
		if n > 0 {
			c.statsMu.Lock()
			c.stats.BytesReceived += uint64(n)
			c.statsMu.Unlock()
			if !c.dispatch(buf[:n]) {
				sess.conn.Close()
				return
			}
		}
		if err != nil {
			if isWouldBlock(err) {
				continue
			}
			if sess.stop.Load() || c.stopping.Load() {
				// Intentional teardown: a reset here is expected noise.
				return
			}
			if errors.Is(err, io.EOF) {
				c.log.Debug("server closed connection")
				c.state.Store(int32(tcpnet.StateDisconnected))
				return
			}
			c.fail(tcpnet.ReceiveFailed, err)
			return
		}
	}
}

// dispatch decrypts, unframes, and delivers one read chunk, reporting false
// when the session must end.
func (c *Client) dispatch(chunk []byte) bool {
	data := chunk
	c.mu.Lock()
	cipher := c.cipher
	c.mu.Unlock()
	if cipher != nil {
		plain, err := cipher.Decrypt(chunk)
		if err != nil {
			c.fail(tcpnet.EncryptionError, err)
			return false
		}
		data = plain
	}

	if c.framer == nil {
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

func (c *Client) invokeData(msg []byte) (ok bool) {
	c.callbackDepth.Add(1)
	defer c.callbackDepth.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("data callback panicked, closing connection", zap.Any("panic", r))
			ok = false
		}
	}()
	c.onData(msg)
	return true
}

// sessionDown finishes one session's teardown exactly once: terminal state,
// disconnected callback, reconnect wake-up.
func (c *Client) sessionDown(sess *session) {
	sess.once.Do(func() {
		sess.stop.Store(true)
		sess.conn.Close()
		if c.State() != tcpnet.StateError {
			c.state.Store(int32(tcpnet.StateDisconnected))
		}

		if c.onDisconnected != nil {
			c.callbackDepth.Add(1)
			defer c.callbackDepth.Add(-1)
			defer func() {
				if r := recover(); r != nil {
					c.log.Error("disconnect callback panicked", zap.Any("panic", r))
				}
			}()
			c.onDisconnected()
		}
		c.signalReconnect()
	})
}

func (c *Client) fail(code tcpnet.ErrorCode, err error) {
	c.state.Store(int32(tcpnet.StateError))
	c.log.Warn("client error", zap.Stringer("code", code), zap.Error(err))
	c.fireError(code, err)
}

func (c *Client) fireError(code tcpnet.ErrorCode, err error) {
	if c.onError == nil {
		return
	}
	c.callbackDepth.Add(1)
	defer c.callbackDepth.Add(-1)
	c.onError(code, err)
}

func (c *Client) signalReconnect() {
	select {
	case c.reconnectWake <- struct{}{}:
	default:
	}
}

func (c *Client) signalHeartbeat() {
	select {
	case c.hbWake <- struct{}{}:
	default:
	}
}
