package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func TestMemoryLimiterAdmitsUpToLimitThenResets(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	limiter := NewMemoryLimiter(MemoryConfig{Now: clock.Now})
	limit := Limit{Requests: 5, Window: time.Minute}

	for i := 0; i < 5; i++ {
		d, err := limiter.Allow(ctx, "login:1.2.3.4", limit)
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d should be admitted", i+1)
		assert.Equal(t, 4-i, d.Remaining)
	}

	d, err := limiter.Allow(ctx, "login:1.2.3.4", limit)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.ErrorIs(t, d.Err(), ErrRateLimited)
	assert.Contains(t, d.Err().Error(), "5 per 1 minute")

	clock.Advance(59 * time.Second)
	d, err = limiter.Allow(ctx, "login:1.2.3.4", limit)
	require.NoError(t, err)
	assert.False(t, d.Allowed, "still inside the window")

	clock.Advance(time.Second)
	for i := 0; i < 5; i++ {
		d, err := limiter.Allow(ctx, "login:1.2.3.4", limit)
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d after reset should be admitted", i+1)
	}
	d, err = limiter.Allow(ctx, "login:1.2.3.4", limit)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}

func TestMemoryLimiterKeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	limiter := NewMemoryLimiter(MemoryConfig{})
	limit := Limit{Requests: 1, Window: time.Minute}

	d, err := limiter.Allow(ctx, "login:a", limit)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = limiter.Allow(ctx, "login:b", limit)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = limiter.Allow(ctx, "register:a", limit)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = limiter.Allow(ctx, "login:a", limit)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}

func TestMemoryLimiterUnlimited(t *testing.T) {
	limiter := NewMemoryLimiter(MemoryConfig{})
	for i := 0; i < 100; i++ {
		d, err := limiter.Allow(context.Background(), "health", Limit{})
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}
	assert.Equal(t, 0, limiter.Len())
}

func TestMemoryLimiterConcurrentSameKey(t *testing.T) {
	const (
		limit   = 10
		callers = 200
	)
	limiter := NewMemoryLimiter(MemoryConfig{})
	rule := Limit{Requests: limit, Window: time.Minute}

	var admitted atomic.Int64
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			d, err := limiter.Allow(context.Background(), "login:shared", rule)
			if err == nil && d.Allowed {
				admitted.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int64(limit), admitted.Load())
}

func TestMemoryLimiterConcurrentWithSweep(t *testing.T) {
	clock := newFakeClock()
	limiter := NewMemoryLimiter(MemoryConfig{Now: clock.Now})
	rule := Limit{Requests: 3, Window: time.Second}

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if d, err := limiter.Allow(context.Background(), "k", rule); err == nil && d.Allowed {
				admitted.Add(1)
			}
		}()
		go func() {
			defer wg.Done()
			limiter.Sweep()
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(3), admitted.Load())
}

func TestMemoryLimiterSweepRemovesExpired(t *testing.T) {
	clock := newFakeClock()
	limiter := NewMemoryLimiter(MemoryConfig{Now: clock.Now})
	rule := Limit{Requests: 1, Window: time.Minute}

	for i := 0; i < 3; i++ {
		_, err := limiter.Allow(context.Background(), fmt.Sprintf("k%d", i), rule)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, limiter.Len())
	assert.Equal(t, 0, limiter.Sweep())

	clock.Advance(time.Minute)
	assert.Equal(t, 3, limiter.Sweep())
	assert.Equal(t, 0, limiter.Len())
}

func TestMemoryLimiterCapacity(t *testing.T) {
	clock := newFakeClock()
	limiter := NewMemoryLimiter(MemoryConfig{Now: clock.Now, MaxKeys: 2})
	rule := Limit{Requests: 1, Window: time.Minute}
	ctx := context.Background()

	_, err := limiter.Allow(ctx, "a", rule)
	require.NoError(t, err)
	_, err = limiter.Allow(ctx, "b", rule)
	require.NoError(t, err)

	_, err = limiter.Allow(ctx, "c", rule)
	assert.ErrorIs(t, err, ErrCapacityExceeded)

	clock.Advance(time.Minute)
	d, err := limiter.Allow(ctx, "c", rule)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestMemoryLimiterCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	limiter := NewMemoryLimiter(MemoryConfig{})

	_, err := limiter.Allow(ctx, "k", Limit{Requests: 1, Window: time.Minute})
	assert.ErrorIs(t, err, context.Canceled)
}
