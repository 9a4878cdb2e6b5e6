package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"
)

// Cache is a typed key-value store with expiry.
type Cache[V any] interface {
	// Get returns ErrNotFound for a missing or expired key.
	Get(ctx context.Context, key string) (V, error)
	Set(ctx context.Context, key string, value V, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Codec converts values for byte-oriented backends.
type Codec[V any] interface {
	Marshal(v V) ([]byte, error)
	Unmarshal(data []byte) (V, error)
}

// JSON is the default Codec.
type JSON[V any] struct{}

func (JSON[V]) Marshal(v V) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Join(ErrMarshal, err)
	}
	return b, nil
}

func (JSON[V]) Unmarshal(data []byte) (V, error) {
	var v V
	if err := json.Unmarshal(data, &v); err != nil {
		return v, errors.Join(ErrUnmarshal, err)
	}
	return v, nil
}

var flights singleflight.Group

type loaded[V any] struct {
	val V
	ttl time.Duration
}

// GetOrSet returns the cached value for key or loads, caches and returns
// it. Concurrent misses on the same cache and key share one load. Loader
// errors are returned and nothing is cached; cache write errors are ignored.
func GetOrSet[V any](ctx context.Context, c Cache[V], key string, load func(context.Context) (V, time.Duration, error)) (V, error) {
	if v, err := c.Get(ctx, key); err == nil {
		return v, nil
	}

	res, err, _ := flights.Do(fmt.Sprintf("%p:%s", c, key), func() (any, error) {
		v, ttl, err := load(ctx)
		if err != nil {
			return nil, err
		}
		_ = c.Set(ctx, key, v, ttl)
		return loaded[V]{val: v, ttl: ttl}, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return res.(loaded[V]).val, nil
}
