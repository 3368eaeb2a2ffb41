package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/luciancaetano/tcpnet"
	"github.com/luciancaetano/tcpnet/framing"
)

const (
	defaultCleanupInterval = 5 * time.Second
	acceptRetryDelay       = 10 * time.Millisecond
)

// Server owns a listening socket, the accept loop, a registry of live
// connections, and a periodic sweep that reclaims dead registry entries.
// It implements tcpnet.Server.
type Server struct {
	opts            tcpnet.SocketOptions
	log             *zap.Logger
	clk             clock.Clock
	cleanupInterval time.Duration
	newFramer       func() framing.Framer

	onConnected    OnConnectedFn
	onDisconnected OnDisconnectedFn
	onData         OnDataFn
	onError        OnErrorFn

	mu       sync.Mutex // lifecycle
	running  bool
	listener net.Listener
	addr     string
	cancel   context.CancelFunc
	group    *errgroup.Group

	stopping atomic.Bool

	connMu sync.RWMutex
	conns  map[string]*Connection

	cipherMu sync.Mutex
	cipher   tcpnet.Cipher

	totalConns atomic.Uint64
	// Byte totals of connections already dropped from the registry; live
	// connections contribute their own counters at read time.
	retiredSent atomic.Uint64
	retiredRecv atomic.Uint64

	startTime time.Time
}

// NewServer builds a stopped server from cfg. cfg may be nil.
func NewServer(cfg *ServerConfig) *Server {
	if cfg == nil {
		cfg = &ServerConfig{}
	}
	interval := cfg.CleanupInterval
	if interval <= 0 {
		interval = defaultCleanupInterval
	}
	return &Server{
		opts:            cfg.options(),
		log:             cfg.logger().Named("server"),
		clk:             cfg.clock(),
		cleanupInterval: interval,
		newFramer:       cfg.NewFramer,
		onConnected:     cfg.OnConnected,
		onDisconnected:  cfg.OnDisconnected,
		onData:          cfg.OnData,
		onError:         cfg.OnError,
		conns:           make(map[string]*Connection),
	}
}

// Start binds address:port and launches the accept and cleanup loops. A
// failed bind leaves the server stopped with no partial state.
func (s *Server) Start(address string, port uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return tcpnet.ErrAlreadyRunning
	}

	lc := net.ListenConfig{Control: listenControl(s.opts)}
	ln, err := lc.Listen(context.Background(), "tcp", hostPort(address, port))
	if err != nil {
		code := tcpnet.Classify(err)
		if code == tcpnet.UnknownError {
			code = tcpnet.ListenFailed
		}
		s.fireError(nil, code, err)
		return fmt.Errorf("listen %s: %w", hostPort(address, port), err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)

	s.listener = ln
	s.addr = ln.Addr().String()
	s.cancel = cancel
	s.group = group
	s.running = true
	s.stopping.Store(false)
	s.startTime = time.Now()

	group.Go(func() error { return s.acceptLoop(gctx, ln) })
	group.Go(func() error { return s.cleanupLoop(gctx) })

	s.log.Info("server started", zap.String("addr", s.addr))
	return nil
}

// Stop closes the listener, joins both loops, force-closes every registered
// connection, and clears the registry. Idempotent.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.stopping.Store(true)
	ln := s.listener
	cancel := s.cancel
	group := s.group
	s.listener = nil
	s.cancel = nil
	s.group = nil
	s.mu.Unlock()

	var errs error
	cancel()
	if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		errs = multierr.Append(errs, err)
	}
	errs = multierr.Append(errs, s.CloseAll())
	errs = multierr.Append(errs, group.Wait())

	s.log.Info("server stopped")
	return errs
}

func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Addr returns the bound listener address, or "" before Start. After a
// port-0 bind this is the way to learn the chosen port.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return ""
	}
	return s.addr
}

func (s *Server) Conns() []tcpnet.Conn {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	out := make([]tcpnet.Conn, 0, len(s.conns))
	for _, c := range s.conns {
		out = append(out, c)
	}
	return out
}

func (s *Server) ConnCount() int {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return len(s.conns)
}

// CloseConn closes and deregisters the connection with the given ID.
func (s *Server) CloseConn(id string) error {
	s.connMu.RLock()
	c, ok := s.conns[id]
	s.connMu.RUnlock()
	if !ok {
		return tcpnet.ErrConnNotFound
	}
	return c.Close()
}

// CloseAll force-closes every registered connection without stopping the
// listener. Deregistration happens through each connection's own teardown.
func (s *Server) CloseAll() error {
	s.connMu.RLock()
	snapshot := make([]*Connection, 0, len(s.conns))
	for _, c := range s.conns {
		snapshot = append(snapshot, c)
	}
	s.connMu.RUnlock()

	var errs error
	for _, c := range snapshot {
		errs = multierr.Append(errs, c.Close())
	}
	return errs
}

// Broadcast sends data to every currently connected registry member.
// Sends are sequential against a snapshot; each write is bounded by the
// connection's send timeout, so one stuck peer delays but never wedges the
// broadcast.
func (s *Server) Broadcast(data []byte) error {
	if !s.IsRunning() {
		return tcpnet.ErrNotConnected
	}

	s.connMu.RLock()
	snapshot := make([]*Connection, 0, len(s.conns))
	for _, c := range s.conns {
		snapshot = append(snapshot, c)
	}
	s.connMu.RUnlock()

	var errs error
	for _, c := range snapshot {
		if !c.IsConnected() {
			continue
		}
		if err := c.Send(data); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("conn %s: %w", c.ID(), err))
		}
	}
	return errs
}

// EnableEncryption attaches a cipher applied to every connection accepted
// from now on. Already-registered connections are not touched.
func (s *Server) EnableEncryption(cipher tcpnet.Cipher) {
	s.cipherMu.Lock()
	s.cipher = cipher
	s.cipherMu.Unlock()
}

// Stats sums the live registry's byte counters on every call.
func (s *Server) Stats() tcpnet.ServerStats {
	s.connMu.RLock()
	active := len(s.conns)
	sent := s.retiredSent.Load()
	recv := s.retiredRecv.Load()
	for _, c := range s.conns {
		sent += c.bytesSent.Load()
		recv += c.bytesReceived.Load()
	}
	s.connMu.RUnlock()

	s.mu.Lock()
	start := s.startTime
	s.mu.Unlock()

	return tcpnet.ServerStats{
		TotalConnections:   s.totalConns.Load(),
		ActiveConnections:  active,
		TotalBytesSent:     sent,
		TotalBytesReceived: recv,
		StartTime:          start,
	}
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	for {
		nc, err := ln.Accept()
		if err != nil {
			if s.stopping.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Warn("accept failed", zap.Error(err))
			s.fireError(nil, tcpnet.AcceptFailed, err)
			// Back off briefly so a persistent accept failure (fd
			// exhaustion, say) does not spin the loop.
			select {
			case <-ctx.Done():
				return nil
			case <-s.clk.After(acceptRetryDelay):
			}
			continue
		}
		s.handleConn(nc)
	}
}

// handleConn registers the accepted socket, then starts its receive loop.
// Registration first: the disconnect path always finds a registry entry.
func (s *Server) handleConn(nc net.Conn) {
	var framer framing.Framer
	if s.newFramer != nil {
		framer = s.newFramer()
	}
	s.cipherMu.Lock()
	cipher := s.cipher
	s.cipherMu.Unlock()

	cbs := connCallbacks{
		onDisconnected: func(c *Connection) {
			s.retire(c)
			if s.onDisconnected != nil {
				s.onDisconnected(c)
			}
		},
	}
	if s.onData != nil {
		cbs.onData = func(c *Connection, data []byte) { s.onData(c, data) }
	}
	if s.onError != nil {
		cbs.onError = func(c *Connection, code tcpnet.ErrorCode, err error) {
			s.onError(c, code, err)
		}
	}

	c := newConnection(nc, s.opts, s.log, framer, cipher, cbs)

	s.connMu.Lock()
	s.conns[c.ID()] = c
	s.connMu.Unlock()
	s.totalConns.Add(1)

	s.log.Debug("connection accepted",
		zap.String("conn_id", c.ID()),
		zap.String("remote_addr", c.RemoteAddr()))

	c.start()

	if s.onConnected != nil {
		s.onConnected(c)
	}
}

// retire drops a connection from the registry, folding its byte counters
// into the retired totals. Safe to call more than once per connection.
func (s *Server) retire(c *Connection) {
	s.connMu.Lock()
	_, ok := s.conns[c.ID()]
	if ok {
		delete(s.conns, c.ID())
	}
	s.connMu.Unlock()

	if ok {
		s.retiredSent.Add(c.bytesSent.Load())
		s.retiredRecv.Add(c.bytesReceived.Load())
	}
}

// cleanupLoop periodically sweeps the registry for entries that are no
// longer connected. Normal teardown deregisters through the disconnect
// callback; the sweep is the backstop for anything that slipped past it.
func (s *Server) cleanupLoop(ctx context.Context) error {
	ticker := s.clk.Ticker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Server) sweep() {
	s.connMu.RLock()
	var dead []*Connection
	for _, c := range s.conns {
		if !c.IsConnected() {
			dead = append(dead, c)
		}
	}
	s.connMu.RUnlock()

	for _, c := range dead {
		c.Close()
		s.retire(c)
	}
	if len(dead) > 0 {
		s.log.Debug("swept dead connections", zap.Int("count", len(dead)))
	}
}

func (s *Server) fireError(conn tcpnet.Conn, code tcpnet.ErrorCode, err error) {
	if s.onError != nil {
		s.onError(conn, code, err)
	}
}
