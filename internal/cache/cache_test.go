package cache

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSetRoundTrip(t *testing.T) {
	c := New()
	c.Set("k", 42, time.Minute)

	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, 42, v)
}

func TestGetExpiredEntry(t *testing.T) {
	c := New()
	now := time.Now()
	c.now = func() time.Time { return now }

	c.Set("k", "v", 5*time.Second)

	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)

	// Advance past the TTL — the entry must be gone.
	now = now.Add(6 * time.Second)
	_, ok = c.Get("k")
	assert.False(t, ok)
}

func TestInvalidatePrefix(t *testing.T) {
	c := New()
	c.Set("recon:2026-01-01T09:00:00", 1, time.Minute)
	c.Set("recon:2026-01-02T09:00:00", 2, time.Minute)
	c.Set("stock:2026-01-01T09:00:00", 3, time.Minute)

	c.InvalidatePrefix("recon:")

	_, ok := c.Get("recon:2026-01-01T09:00:00")
	assert.False(t, ok)
	_, ok = c.Get("recon:2026-01-02T09:00:00")
	assert.False(t, ok)
	_, ok = c.Get("stock:2026-01-01T09:00:00")
	assert.True(t, ok)
}

func TestDoCachesResult(t *testing.T) {
	c := New()
	var calls int32

	for i := 0; i < 3; i++ {
		v, err := c.Do("k", time.Minute, func() (interface{}, error) {
			atomic.AddInt32(&calls, 1)
			return "result", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "result", v)
	}
	assert.Equal(t, int32(1), calls, "fn should run once within the TTL")
}

func TestDoCoalescesConcurrentCallers(t *testing.T) {
	c := New()
	var calls int32
	release := make(chan struct{})

	const n = 10
	results := make([]interface{}, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			v, err := c.Do("k", time.Minute, func() (interface{}, error) {
				atomic.AddInt32(&calls, 1)
				<-release
				return &struct{ n int }{n: 7}, nil
			})
			require.NoError(t, err)
			results[i] = v
		}(i)
	}

	// Let the goroutines pile up on the in-flight call before releasing it.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls, "concurrent callers must share one fetch")
	for i := 1; i < n; i++ {
		assert.Same(t, results[0], results[i], "every caller gets the same object")
	}
}

func TestDoErrorNotCached(t *testing.T) {
	c := New()
	var calls int32
	boom := errors.New("upstream down")

	_, err := c.Do("k", time.Minute, func() (interface{}, error) {
		atomic.AddInt32(&calls, 1)
		return nil, boom
	})
	require.ErrorIs(t, err, boom)

	v, err := c.Do("k", time.Minute, func() (interface{}, error) {
		atomic.AddInt32(&calls, 1)
		return "recovered", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "recovered", v)
	assert.Equal(t, int32(2), calls, "a failed fetch must not poison the cache")
}
