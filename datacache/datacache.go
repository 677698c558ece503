// Package datacache is the view-facing face of ttlcache: named presets for
// common data lifetimes and a Binding that tracks one key's load state.
package datacache

import (
	"context"
	"sync"
	"time"

	"github.com/spdeepak/offlinecache/ttlcache"
)

// Presets for common use cases.
var (
	// Realtime is for short-lived, fast-changing data.
	Realtime = ttlcache.Options{TTL: 30 * time.Second}
	// Standard is for API responses.
	Standard = ttlcache.Options{TTL: 5 * time.Minute}
	// Static is for data that rarely changes.
	Static = ttlcache.Options{TTL: time.Hour}
	// Session survives restarts for a day. Completed job results use it.
	Session = ttlcache.Options{TTL: 24 * time.Hour, Persist: true}
	// Preferences survives restarts for a week.
	Preferences = ttlcache.Options{TTL: 7 * 24 * time.Hour, Persist: true}
)

// Cache applies one preset to every call on an underlying ttlcache.Cache.
type Cache[T any] struct {
	cache  *ttlcache.Cache[T]
	preset ttlcache.Options
}

func New[T any](cache *ttlcache.Cache[T], preset ttlcache.Options) *Cache[T] {
	return &Cache[T]{cache: cache, preset: preset}
}

func (c *Cache[T]) Get(ctx context.Context, key string) (T, bool) {
	return c.cache.Get(ctx, key, c.preset)
}

func (c *Cache[T]) Set(ctx context.Context, key string, value T) {
	c.cache.Set(ctx, key, value, c.preset)
}

func (c *Cache[T]) GetOrFetch(ctx context.Context, key string, fetch func(context.Context) (T, error)) (T, error) {
	return c.cache.GetOrFetch(ctx, key, fetch, c.preset)
}

// Invalidate drops key from memory and, for persisted presets, from the durable tier.
func (c *Cache[T]) Invalidate(ctx context.Context, key string) bool {
	return c.cache.Delete(ctx, key, c.preset)
}

// State is a snapshot of a Binding.
type State[T any] struct {
	Data    T
	HasData bool
	Loading bool
	Err     error
}

// Binding ties a key and its fetch function together for a view.
type Binding[T any] struct {
	cache *Cache[T]
	key   string
	fetch func(context.Context) (T, error)

	mu    sync.Mutex
	state State[T]
}

// Bind creates a Binding seeded with whatever the cache holds for key.
func (c *Cache[T]) Bind(ctx context.Context, key string, fetch func(context.Context) (T, error)) *Binding[T] {
	b := &Binding[T]{cache: c, key: key, fetch: fetch}
	if data, ok := c.Get(ctx, key); ok {
		b.state = State[T]{Data: data, HasData: true}
	} else {
		b.state.Loading = true
	}
	return b
}

// State returns the current snapshot.
func (b *Binding[T]) State() State[T] {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Load fetches unless the binding already holds data.
func (b *Binding[T]) Load(ctx context.Context) State[T] {
	if state := b.State(); state.HasData {
		return state
	}
	return b.load(ctx)
}

// Refetch drops the cached value and fetches again.
func (b *Binding[T]) Refetch(ctx context.Context) State[T] {
	b.cache.Invalidate(ctx, b.key)
	return b.load(ctx)
}

func (b *Binding[T]) load(ctx context.Context) State[T] {
	b.mu.Lock()
	b.state.Loading = true
	b.state.Err = nil
	b.mu.Unlock()

	data, err := b.cache.GetOrFetch(ctx, b.key, b.fetch)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.state.Loading = false
	if err != nil {
		b.state.Err = err
		return b.state
	}
	b.state.Data = data
	b.state.HasData = true
	return b.state
}
