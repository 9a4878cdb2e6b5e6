package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/filevault/pkg/redis"
)

func TestOptions(t *testing.T) {
	t.Parallel()

	t.Run("empty url", func(t *testing.T) {
		t.Parallel()
		_, err := redis.Options(redis.Config{})
		require.ErrorIs(t, err, redis.ErrEmptyConnectionURL)
	})

	t.Run("wrong scheme", func(t *testing.T) {
		t.Parallel()
		for _, u := range []string{"http://localhost:6379", "localhost:6379", "tcp://localhost:6379"} {
			_, err := redis.Options(redis.Config{URL: u})
			assert.ErrorIs(t, err, redis.ErrFailedToParseURL, u)
		}
	})

	t.Run("applies overrides", func(t *testing.T) {
		t.Parallel()
		opts, err := redis.Options(redis.Config{
			URL:         "redis://:secret@cache.internal:6380/2",
			PoolSize:    25,
			DialTimeout: time.Second,
		})
		require.NoError(t, err)
		assert.Equal(t, "cache.internal:6380", opts.Addr)
		assert.Equal(t, "secret", opts.Password)
		assert.Equal(t, 2, opts.DB)
		assert.Equal(t, 25, opts.PoolSize)
		assert.Equal(t, time.Second, opts.DialTimeout)
	})

	t.Run("tls scheme", func(t *testing.T) {
		t.Parallel()
		opts, err := redis.Options(redis.Config{URL: "rediss://cache.internal:6379/0"})
		require.NoError(t, err)
		assert.NotNil(t, opts.TLSConfig)
	})
}

func TestHealthcheck_NilClient(t *testing.T) {
	t.Parallel()

	require.ErrorIs(t, redis.Healthcheck(nil)(context.Background()), redis.ErrHealthcheckFailed)
}
