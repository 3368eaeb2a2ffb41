// Package pool manages a bounded set of reusable connections built on a
// factory function.
//
// A connection is idle (available for reuse) or active (checked out), never
// both. The pool hands ownership to the caller on Acquire and takes it back
// on Release. Clear and Close only drop the pool's references and never close
// sockets, so the last holder of a connection is responsible for its teardown.
package pool

import (
	"context"
	"errors"
	"sync"

	"github.com/luciancaetano/tcpnet"
)

var ErrPoolClosed = errors.New("pool: closed")

// Factory produces a new connection when the pool is below capacity.
type Factory func() (tcpnet.Conn, error)

// Pool is a bounded idle/active connection pool. All methods are safe for
// concurrent use.
type Pool struct {
	mu       sync.Mutex
	cond     *sync.Cond
	factory  Factory
	max      int
	creating int
	idle     []tcpnet.Conn
	active   map[string]tcpnet.Conn
	closed   bool
}

// New returns an empty pool holding at most maxConnections connections.
func New(maxConnections int, factory Factory) *Pool {
	if maxConnections <= 0 {
		maxConnections = 1
	}
	p := &Pool{
		factory: factory,
		max:     maxConnections,
		active:  make(map[string]tcpnet.Conn),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Acquire returns an idle connection if one exists, creates one via the
// factory if the pool is under capacity, and otherwise blocks until a
// connection is released or ctx is done.
//
// The factory runs outside the pool lock; its slot is reserved first so the
// capacity bound holds even while a dial is in flight.
func (p *Pool) Acquire(ctx context.Context) (tcpnet.Conn, error) {
	stop := context.AfterFunc(ctx, func() {
		p.mu.Lock()
		p.cond.Broadcast()
		p.mu.Unlock()
	})
	defer stop()

	p.mu.Lock()
	defer p.mu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if p.closed {
			return nil, ErrPoolClosed
		}

		if n := len(p.idle); n > 0 {
			c := p.idle[n-1]
			p.idle = p.idle[:n-1]
			p.active[c.ID()] = c
			return c, nil
		}

		if len(p.active)+p.creating < p.max && p.factory != nil {
			p.creating++
			p.mu.Unlock()
			c, err := p.factory()
			p.mu.Lock()
			p.creating--
			if err != nil {
				p.cond.Signal()
				return nil, err
			}
			p.active[c.ID()] = c
			return c, nil
		}

		p.cond.Wait()
	}
}

// Release moves a checked-out connection back to the idle set. A connection
// that is no longer connected is dropped instead of being recycled, freeing
// its capacity slot. Connections the pool does not track are ignored.
func (p *Pool) Release(c tcpnet.Conn) {
	if c == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.active[c.ID()]; !ok {
		return
	}
	delete(p.active, c.ID())

	if !p.closed && c.IsConnected() {
		p.idle = append(p.idle, c)
	}
	p.cond.Signal()
}

// Clear drops all tracked references without closing any socket and wakes
// every waiter.
func (p *Pool) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.idle = nil
	p.active = make(map[string]tcpnet.Conn)
	p.cond.Broadcast()
}

// Close marks the pool closed and drops all references. Waiting Acquire
// calls fail with ErrPoolClosed. Sockets are not closed; see the package
// comment.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.idle = nil
	p.active = make(map[string]tcpnet.Conn)
	p.cond.Broadcast()
}

// SetMaxConnections changes the capacity bound. Raising it wakes waiters;
// lowering it does not evict checked-out connections.
func (p *Pool) SetMaxConnections(n int) {
	if n <= 0 {
		n = 1
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.max = n
	p.cond.Broadcast()
}

// MaxConnections returns the capacity bound.
func (p *Pool) MaxConnections() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.max
}

// ActiveCount returns the number of checked-out connections.
func (p *Pool) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

// IdleCount returns the number of connections available for reuse.
func (p *Pool) IdleCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}
