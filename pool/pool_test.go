package pool_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luciancaetano/tcpnet"
	"github.com/luciancaetano/tcpnet/pool"
)

// fakeConn is the minimal tcpnet.Conn a pool needs: an identity and a
// liveness flag.
type fakeConn struct {
	id    string
	alive atomic.Bool
}

func newFakeConn(id string) *fakeConn {
	c := &fakeConn{id: id}
	c.alive.Store(true)
	return c
}

func (c *fakeConn) ID() string         { return c.id }
func (c *fakeConn) RemoteAddr() string { return "127.0.0.1:0" }
func (c *fakeConn) LocalAddr() string  { return "127.0.0.1:0" }
func (c *fakeConn) IsConnected() bool  { return c.alive.Load() }

func (c *fakeConn) State() tcpnet.ConnectionState {
	if c.alive.Load() {
		return tcpnet.StateConnected
	}
	return tcpnet.StateDisconnected
}

func (c *fakeConn) Info() tcpnet.ConnInfo { return tcpnet.ConnInfo{ID: c.id} }
func (c *fakeConn) Send([]byte) error     { return nil }
func (c *fakeConn) SendAsync(data []byte, done func(error)) {
	if done != nil {
		done(nil)
	}
}
func (c *fakeConn) Close() error {
	c.alive.Store(false)
	return nil
}
func (c *fakeConn) EnableEncryption(tcpnet.Cipher) error { return nil }

func countingFactory() (pool.Factory, *atomic.Int64) {
	var n atomic.Int64
	return func() (tcpnet.Conn, error) {
		id := n.Add(1)
		return newFakeConn(fmt.Sprintf("conn-%d", id)), nil
	}, &n
}

func TestAcquireCreatesUpToMax(t *testing.T) {
	t.Parallel()

	factory, created := countingFactory()
	p := pool.New(2, factory)
	ctx := context.Background()

	c1, err := p.Acquire(ctx)
	require.NoError(t, err)
	c2, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, c1.ID(), c2.ID())
	assert.EqualValues(t, 2, created.Load())
	assert.Equal(t, 2, p.ActiveCount())
}

func TestAcquireReusesIdle(t *testing.T) {
	t.Parallel()

	factory, created := countingFactory()
	p := pool.New(2, factory)
	ctx := context.Background()

	c1, err := p.Acquire(ctx)
	require.NoError(t, err)
	p.Release(c1)
	assert.Equal(t, 1, p.IdleCount())

	c2, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, c1.ID(), c2.ID())
	assert.EqualValues(t, 1, created.Load())
}

func TestAcquireBlocksAtCapacity(t *testing.T) {
	t.Parallel()

	factory, _ := countingFactory()
	p := pool.New(2, factory)
	ctx := context.Background()

	c1, err := p.Acquire(ctx)
	require.NoError(t, err)
	_, err = p.Acquire(ctx)
	require.NoError(t, err)

	got := make(chan tcpnet.Conn, 1)
	go func() {
		c, aerr := p.Acquire(ctx)
		if aerr == nil {
			got <- c
		}
	}()

	select {
	case <-got:
		t.Fatal("third acquire should block at capacity")
	case <-time.After(50 * time.Millisecond):
	}

	p.Release(c1)
	select {
	case c := <-got:
		assert.Equal(t, c1.ID(), c.ID())
	case <-time.After(time.Second):
		t.Fatal("acquire did not wake after release")
	}
}

func TestAcquireContextCancel(t *testing.T) {
	t.Parallel()

	factory, _ := countingFactory()
	p := pool.New(1, factory)

	_, err := p.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReleaseDropsDeadConnection(t *testing.T) {
	t.Parallel()

	factory, created := countingFactory()
	p := pool.New(1, factory)
	ctx := context.Background()

	c1, err := p.Acquire(ctx)
	require.NoError(t, err)
	c1.Close()
	p.Release(c1)

	// The dead connection must not be recycled; its slot is free again.
	assert.Equal(t, 0, p.IdleCount())

	c2, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, c1.ID(), c2.ID())
	assert.EqualValues(t, 2, created.Load())
}

func TestReleaseUntrackedIgnored(t *testing.T) {
	t.Parallel()

	factory, _ := countingFactory()
	p := pool.New(1, factory)

	p.Release(newFakeConn("stranger"))
	assert.Equal(t, 0, p.IdleCount())
	assert.Equal(t, 0, p.ActiveCount())
}

func TestFactoryFailureFreesSlot(t *testing.T) {
	t.Parallel()

	boom := errors.New("dial failed")
	fail := true
	p := pool.New(1, func() (tcpnet.Conn, error) {
		if fail {
			return nil, boom
		}
		return newFakeConn("ok"), nil
	})
	ctx := context.Background()

	_, err := p.Acquire(ctx)
	require.ErrorIs(t, err, boom)

	fail = false
	c, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ok", c.ID())
}

func TestCloseFailsWaiters(t *testing.T) {
	t.Parallel()

	factory, _ := countingFactory()
	p := pool.New(1, factory)
	ctx := context.Background()

	_, err := p.Acquire(ctx)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, aerr := p.Acquire(ctx)
		errCh <- aerr
	}()

	time.Sleep(50 * time.Millisecond)
	p.Close()

	select {
	case aerr := <-errCh:
		require.ErrorIs(t, aerr, pool.ErrPoolClosed)
	case <-time.After(time.Second):
		t.Fatal("waiter did not observe pool close")
	}

	_, err = p.Acquire(ctx)
	require.ErrorIs(t, err, pool.ErrPoolClosed)
}

func TestSetMaxConnectionsWakesWaiter(t *testing.T) {
	t.Parallel()

	factory, _ := countingFactory()
	p := pool.New(1, factory)
	ctx := context.Background()

	_, err := p.Acquire(ctx)
	require.NoError(t, err)

	got := make(chan struct{})
	go func() {
		if _, aerr := p.Acquire(ctx); aerr == nil {
			close(got)
		}
	}()

	time.Sleep(50 * time.Millisecond)
	p.SetMaxConnections(2)

	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatal("raising capacity did not wake the waiter")
	}
}
