package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luciancaetano/tcpnet/ratelimit"
)

func TestAllowDrainsBucket(t *testing.T) {
	t.Parallel()

	l := ratelimit.New(100, 100)

	assert.True(t, l.Allow(100))
	// The bucket refills at 100 B/s, so immediately after draining it a
	// one-byte debit must still fail.
	assert.False(t, l.Allow(1))
}

func TestAllowLargerThanBucket(t *testing.T) {
	t.Parallel()

	l := ratelimit.New(1000, 10)
	assert.False(t, l.Allow(11))
	assert.True(t, l.Allow(10))
}

func TestBucketSizeDefaultsToRate(t *testing.T) {
	t.Parallel()

	l := ratelimit.New(4096, 0)
	assert.Equal(t, 4096, l.BucketSize())
	assert.Equal(t, 4096, l.Rate())
}

func TestAvailableStartsFullAndIsBounded(t *testing.T) {
	t.Parallel()

	l := ratelimit.New(1_000_000, 500)
	assert.Equal(t, 500, l.Available())

	require.True(t, l.Allow(500))

	// At 1 MB/s the bucket refills fast, but Available must never report
	// more than the bucket size.
	time.Sleep(10 * time.Millisecond)
	avail := l.Available()
	assert.LessOrEqual(t, avail, 500)
	assert.Greater(t, avail, 0)
}

func TestDelayZeroWhenCreditPresent(t *testing.T) {
	t.Parallel()

	l := ratelimit.New(100, 100)
	assert.Equal(t, time.Duration(0), l.Delay(50))

	require.True(t, l.Allow(100))
	d := l.Delay(50)
	assert.Greater(t, d, time.Duration(0))
	assert.LessOrEqual(t, d, 600*time.Millisecond)
}

func TestDelayDoesNotConsume(t *testing.T) {
	t.Parallel()

	l := ratelimit.New(100, 100)
	for i := 0; i < 10; i++ {
		l.Delay(100)
	}
	assert.True(t, l.Allow(100))
}

func TestWaitBlocksUntilRefill(t *testing.T) {
	t.Parallel()

	l := ratelimit.New(1000, 100)
	require.True(t, l.Allow(100))

	start := time.Now()
	require.NoError(t, l.Wait(context.Background(), 50))
	// 50 bytes at 1000 B/s is 50ms of refill.
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestWaitHonorsContext(t *testing.T) {
	t.Parallel()

	l := ratelimit.New(1, 1)
	require.True(t, l.Allow(1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx, 1)
	require.Error(t, err)
}

func TestResetRefills(t *testing.T) {
	t.Parallel()

	l := ratelimit.New(10, 100)
	require.True(t, l.Allow(100))
	assert.False(t, l.Allow(1))

	l.Reset()
	assert.True(t, l.Allow(100))
}

func TestSetRateKeepsCredit(t *testing.T) {
	t.Parallel()

	l := ratelimit.New(10, 100)
	l.SetRate(1000)
	assert.Equal(t, 1000, l.Rate())
	assert.True(t, l.Allow(100))
}

func TestUtilization(t *testing.T) {
	t.Parallel()

	l := ratelimit.New(1, 100)
	assert.InDelta(t, 0, l.Utilization(), 0.05)

	require.True(t, l.Allow(100))
	assert.InDelta(t, 1, l.Utilization(), 0.05)
}
