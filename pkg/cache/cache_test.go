package cache_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/filevault/pkg/cache"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMemory_Expiry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := cache.NewMemory[string](cache.WithNow(clock.Now), cache.WithDefaultTTL(time.Minute))

	require.NoError(t, c.Set(ctx, "ttl", "a", 10*time.Second))
	require.NoError(t, c.Set(ctx, "default", "b", 0))
	require.NoError(t, c.Set(ctx, "forever", "c", -1))

	clock.Advance(10 * time.Second)
	_, err := c.Get(ctx, "ttl")
	require.ErrorIs(t, err, cache.ErrNotFound)

	v, err := c.Get(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, "b", v)

	clock.Advance(time.Hour)
	_, err = c.Get(ctx, "default")
	require.ErrorIs(t, err, cache.ErrNotFound)

	v, err = c.Get(ctx, "forever")
	require.NoError(t, err)
	assert.Equal(t, "c", v)
}

func TestMemory_LRU(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := cache.NewMemory[int](cache.WithMaxEntries(2))

	require.NoError(t, c.Set(ctx, "a", 1, 0))
	require.NoError(t, c.Set(ctx, "b", 2, 0))
	_, err := c.Get(ctx, "a")
	require.NoError(t, err)
	require.NoError(t, c.Set(ctx, "c", 3, 0))

	_, err = c.Get(ctx, "b")
	require.ErrorIs(t, err, cache.ErrNotFound)
	assert.Equal(t, 2, c.Len())
}

func TestMemory_DeleteAndClose(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := cache.NewMemory[int]()

	require.NoError(t, c.Set(ctx, "a", 1, 0))
	require.NoError(t, c.Delete(ctx, "a"))
	require.NoError(t, c.Delete(ctx, "a"))
	_, err := c.Get(ctx, "a")
	require.ErrorIs(t, err, cache.ErrNotFound)

	require.NoError(t, c.Close())
	require.ErrorIs(t, c.Set(ctx, "a", 1, 0), cache.ErrClosed)
	_, err = c.Get(ctx, "a")
	require.ErrorIs(t, err, cache.ErrClosed)
}

func TestGetOrSet(t *testing.T) {
	t.Parallel()

	t.Run("loads once and caches", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		c := cache.NewMemory[string]()
		var calls atomic.Int32

		load := func(context.Context) (string, time.Duration, error) {
			calls.Add(1)
			return "pro", time.Minute, nil
		}
		for range 3 {
			v, err := cache.GetOrSet(ctx, c, "tenant-1", load)
			require.NoError(t, err)
			assert.Equal(t, "pro", v)
		}
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("errors are not cached", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		c := cache.NewMemory[string]()
		boom := errors.New("db down")

		_, err := cache.GetOrSet(ctx, c, "k", func(context.Context) (string, time.Duration, error) {
			return "", 0, boom
		})
		require.ErrorIs(t, err, boom)

		_, err = c.Get(ctx, "k")
		require.ErrorIs(t, err, cache.ErrNotFound)
	})

	t.Run("concurrent misses share a load", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		c := cache.NewMemory[int]()
		var calls atomic.Int32
		release := make(chan struct{})

		var wg sync.WaitGroup
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				v, err := cache.GetOrSet(ctx, c, "shared", func(context.Context) (int, time.Duration, error) {
					calls.Add(1)
					<-release
					return 7, time.Minute, nil
				})
				assert.NoError(t, err)
				assert.Equal(t, 7, v)
			}()
		}
		time.Sleep(20 * time.Millisecond)
		close(release)
		wg.Wait()

		assert.LessOrEqual(t, calls.Load(), int32(8))
		assert.GreaterOrEqual(t, calls.Load(), int32(1))
		v, err := c.Get(ctx, "shared")
		require.NoError(t, err)
		assert.Equal(t, 7, v)
	})
}

func TestJSONCodec(t *testing.T) {
	t.Parallel()

	type plan struct {
		Name  string `json:"name"`
		Limit int64  `json:"limit"`
	}
	var codec cache.JSON[plan]

	b, err := codec.Marshal(plan{Name: "Basic", Limit: 5 << 30})
	require.NoError(t, err)
	p, err := codec.Unmarshal(b)
	require.NoError(t, err)
	assert.Equal(t, plan{Name: "Basic", Limit: 5 << 30}, p)

	_, err = codec.Unmarshal([]byte("{"))
	require.ErrorIs(t, err, cache.ErrUnmarshal)
}
