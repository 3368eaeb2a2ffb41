// Package ratelimit provides a byte-budget token bucket for pacing socket
// traffic.
//
// The bucket holds up to BucketSize bytes of credit and refills continuously
// at Rate bytes per second. Refill is lazy: credit is computed from elapsed
// wall-clock time when the bucket is consulted, not by a background timer.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is a token bucket debited per byte. All methods are safe for
// concurrent use.
type Limiter struct {
	mu         sync.RWMutex
	lim        *rate.Limiter
	bytesPerSc int
	bucketSize int
}

// New returns a full bucket refilling at bytesPerSecond. A bucketSize of zero
// defaults to bytesPerSecond (one second of credit).
func New(bytesPerSecond, bucketSize int) *Limiter {
	if bucketSize <= 0 {
		bucketSize = bytesPerSecond
	}
	return &Limiter{
		lim:        rate.NewLimiter(rate.Limit(bytesPerSecond), bucketSize),
		bytesPerSc: bytesPerSecond,
		bucketSize: bucketSize,
	}
}

// Allow debits n bytes if the bucket holds at least n, reporting whether the
// debit happened. On false the bucket is left untouched. n larger than the
// bucket size can never succeed.
func (l *Limiter) Allow(n int) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lim.AllowN(time.Now(), n)
}

// Delay reports how long the caller would have to wait before n bytes become
// available, without mutating the bucket. Zero means Allow(n) would succeed
// now.
func (l *Limiter) Delay(n int) time.Duration {
	l.mu.RLock()
	defer l.mu.RUnlock()

	tokens := l.lim.TokensAt(time.Now())
	if tokens >= float64(n) {
		return 0
	}
	deficit := float64(n) - tokens
	return time.Duration(deficit / float64(l.bytesPerSc) * float64(time.Second))
}

// Wait blocks until n bytes are available and debits them, or until ctx is
// done. It fails immediately when n exceeds the bucket size.
func (l *Limiter) Wait(ctx context.Context, n int) error {
	l.mu.RLock()
	lim := l.lim
	l.mu.RUnlock()
	return lim.WaitN(ctx, n)
}

// Available returns the bytes currently spendable, in [0, BucketSize].
func (l *Limiter) Available() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	tokens := int(l.lim.TokensAt(time.Now()))
	if tokens < 0 {
		return 0
	}
	if tokens > l.bucketSize {
		return l.bucketSize
	}
	return tokens
}

// Utilization returns the fraction of the bucket currently spent, in [0, 1].
func (l *Limiter) Utilization() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	tokens := l.lim.TokensAt(time.Now())
	if tokens < 0 {
		tokens = 0
	}
	if tokens > float64(l.bucketSize) {
		tokens = float64(l.bucketSize)
	}
	return 1 - tokens/float64(l.bucketSize)
}

// Rate returns the refill rate in bytes per second.
func (l *Limiter) Rate() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.bytesPerSc
}

// SetRate changes the refill rate. Accumulated credit is kept.
func (l *Limiter) SetRate(bytesPerSecond int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.bytesPerSc = bytesPerSecond
	l.lim.SetLimit(rate.Limit(bytesPerSecond))
}

// BucketSize returns the bucket capacity in bytes.
func (l *Limiter) BucketSize() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.bucketSize
}

// SetBucketSize changes the bucket capacity. Accumulated credit above the new
// capacity is forfeited.
func (l *Limiter) SetBucketSize(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n <= 0 {
		n = l.bytesPerSc
	}
	l.bucketSize = n
	l.lim.SetBurst(n)
}

// Reset refills the bucket to capacity and restarts the refill clock.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lim = rate.NewLimiter(rate.Limit(l.bytesPerSc), l.bucketSize)
}
