package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

type memEntry[V any] struct {
	expiresAt time.Time
	value     V
	key       string
}

// Memory is an in-process cache with lazy expiry and LRU eviction once
// MaxEntries is reached.
type Memory[V any] struct {
	items      map[string]*list.Element
	order      *list.List
	now        func() time.Time
	defaultTTL time.Duration
	maxEntries int
	mu         sync.Mutex
	closed     bool
}

// MemoryOption configures Memory.
type MemoryOption func(*memoryConfig)

type memoryConfig struct {
	now        func() time.Time
	defaultTTL time.Duration
	maxEntries int
}

// WithDefaultTTL applies to Set calls with a zero TTL. Default: 1h.
func WithDefaultTTL(d time.Duration) MemoryOption {
	return func(c *memoryConfig) { c.defaultTTL = d }
}

// WithMaxEntries bounds the cache; zero means unbounded.
func WithMaxEntries(n int) MemoryOption {
	return func(c *memoryConfig) { c.maxEntries = n }
}

// WithNow replaces the time source used for expiry.
func WithNow(now func() time.Time) MemoryOption {
	return func(c *memoryConfig) {
		if now != nil {
			c.now = now
		}
	}
}

func NewMemory[V any](opts ...MemoryOption) *Memory[V] {
	cfg := memoryConfig{now: time.Now, defaultTTL: time.Hour}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Memory[V]{
		items:      make(map[string]*list.Element),
		order:      list.New(),
		now:        cfg.now,
		defaultTTL: cfg.defaultTTL,
		maxEntries: cfg.maxEntries,
	}
}

func (m *Memory[V]) Get(_ context.Context, key string) (V, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var zero V
	if m.closed {
		return zero, ErrClosed
	}
	el, ok := m.items[key]
	if !ok {
		return zero, ErrNotFound
	}
	e := el.Value.(*memEntry[V])
	if !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt) {
		m.remove(el)
		return zero, ErrNotFound
	}
	m.order.MoveToFront(el)
	return e.value, nil
}

func (m *Memory[V]) Set(_ context.Context, key string, value V, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if ttl == 0 {
		ttl = m.defaultTTL
	}
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = m.now().Add(ttl)
	}

	if el, ok := m.items[key]; ok {
		e := el.Value.(*memEntry[V])
		e.value, e.expiresAt = value, expiresAt
		m.order.MoveToFront(el)
		return nil
	}

	if m.maxEntries > 0 && len(m.items) >= m.maxEntries {
		if oldest := m.order.Back(); oldest != nil {
			m.remove(oldest)
		}
	}
	m.items[key] = m.order.PushFront(&memEntry[V]{key: key, value: value, expiresAt: expiresAt})
	return nil
}

func (m *Memory[V]) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if el, ok := m.items[key]; ok {
		m.remove(el)
	}
	return nil
}

// Len counts entries, including expired ones not yet evicted.
func (m *Memory[V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

func (m *Memory[V]) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.items = nil
	m.order.Init()
	return nil
}

func (m *Memory[V]) remove(el *list.Element) {
	m.order.Remove(el)
	delete(m.items, el.Value.(*memEntry[V]).key)
}

var _ Cache[int] = (*Memory[int])(nil)
