package ratelimit_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"assistant-proxy/internal/ratelimit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testWindowProperty(t *testing.T, backend ratelimit.Backend) {
	clock := newFakeClock()
	limiter := ratelimit.NewLimiter(backend, ratelimit.WithClock(clock.Now))
	ctx := context.Background()

	start := clock.Now()
	for i := 1; i <= ratelimit.DefaultLimit; i++ {
		res, err := limiter.Check(ctx, "1.2.3.4")
		require.NoError(t, err)
		assert.True(t, res.Success, "request %d should succeed", i)
		assert.Equal(t, ratelimit.DefaultLimit-i, res.Remaining)
		assert.Equal(t, start.Add(ratelimit.DefaultWindow).UnixMilli(), res.Reset.UnixMilli())
		clock.Advance(time.Second)
	}

	res, err := limiter.Check(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, start.Add(ratelimit.DefaultWindow).UnixMilli(), res.Reset.UnixMilli())

	// rejected requests do not count, so the next window still starts fresh
	res, err = limiter.Check(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, res.Success)

	// other identifiers are independent
	res, err = limiter.Check(ctx, "5.6.7.8")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, ratelimit.DefaultLimit-1, res.Remaining)

	clock.Advance(start.Add(ratelimit.DefaultWindow).Sub(clock.Now()))
	res, err = limiter.Check(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, ratelimit.DefaultLimit-1, res.Remaining)
	assert.Equal(t, clock.Now().Add(ratelimit.DefaultWindow).UnixMilli(), res.Reset.UnixMilli())
}

func testConcurrentRequests(t *testing.T, backend ratelimit.Backend, requests int) {
	clock := newFakeClock()
	limiter := ratelimit.NewLimiter(backend, ratelimit.WithClock(clock.Now))

	var successes atomic.Int64
	var wg sync.WaitGroup
	wg.Add(requests)
	for i := 0; i < requests; i++ {
		go func() {
			defer wg.Done()
			res, err := limiter.Check(context.Background(), "10.0.0.1")
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if res.Success {
				successes.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(min(requests, ratelimit.DefaultLimit)), successes.Load())
}

func TestMemoryBackendWindow(t *testing.T) {
	testWindowProperty(t, ratelimit.NewMemoryBackend(0))
}

func TestMemoryBackendRemainingDecreases(t *testing.T) {
	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryBackend(0), ratelimit.WithLimit(5), ratelimit.WithWindow(time.Minute))

	previous := 5
	for i := 0; i < 5; i++ {
		res, err := limiter.Check(context.Background(), "client")
		require.NoError(t, err)
		require.True(t, res.Success)
		assert.Equal(t, previous-1, res.Remaining)
		previous = res.Remaining
	}
}

func TestMemoryBackendConcurrentRequests(t *testing.T) {
	for _, requests := range []int{5, ratelimit.DefaultLimit, 200} {
		testConcurrentRequests(t, ratelimit.NewMemoryBackend(0), requests)
	}
}

func TestMemoryBackendSweep(t *testing.T) {
	clock := newFakeClock()
	backend := ratelimit.NewMemoryBackend(0)
	limiter := ratelimit.NewLimiter(backend, ratelimit.WithClock(clock.Now))

	for _, id := range []string{"a", "b", "c"} {
		_, err := limiter.Check(context.Background(), id)
		require.NoError(t, err)
	}
	clock.Advance(30 * time.Second)
	_, err := limiter.Check(context.Background(), "d")
	require.NoError(t, err)

	assert.Equal(t, 0, backend.Sweep(clock.Now()))
	assert.Equal(t, 4, backend.Len())

	clock.Advance(30 * time.Second)
	assert.Equal(t, 3, backend.Sweep(clock.Now()))
	assert.Equal(t, 1, backend.Len())
}

func TestMemoryBackendMaxEntries(t *testing.T) {
	clock := newFakeClock()
	backend := ratelimit.NewMemoryBackend(2)
	limiter := ratelimit.NewLimiter(backend, ratelimit.WithClock(clock.Now))
	ctx := context.Background()

	_, err := limiter.Check(ctx, "first")
	require.NoError(t, err)
	clock.Advance(time.Second)
	_, err = limiter.Check(ctx, "second")
	require.NoError(t, err)
	clock.Advance(time.Second)
	_, err = limiter.Check(ctx, "third")
	require.NoError(t, err)

	assert.Equal(t, 2, backend.Len())

	// "first" was evicted, so it starts over with a full quota
	res, err := limiter.Check(ctx, "first")
	require.NoError(t, err)
	assert.Equal(t, ratelimit.DefaultLimit-1, res.Remaining)

	res, err = limiter.Check(ctx, "third")
	require.NoError(t, err)
	assert.Equal(t, ratelimit.DefaultLimit-2, res.Remaining)
}

func TestRetryAfter(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, 1, ratelimit.Result{Reset: now.Add(10 * time.Millisecond)}.RetryAfter(now))
	assert.Equal(t, 60, ratelimit.Result{Reset: now.Add(time.Minute)}.RetryAfter(now))
	assert.Equal(t, 0, ratelimit.Result{Reset: now}.RetryAfter(now))
	assert.Equal(t, 0, ratelimit.Result{Reset: now.Add(-time.Second)}.RetryAfter(now))
}
