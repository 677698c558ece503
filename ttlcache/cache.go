// Package ttlcache is a two-tier key/value cache with per-entry expiry for
// foreground code. Values live in a bounded memory tier and can be mirrored
// to a durable tier that survives restarts.
//
// Expired entries are dropped lazily on access or by an explicit Cleanup;
// nothing runs in the background.
package ttlcache

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"sync"
	"time"

	platformerrors "github.com/jmgilman/go/errors"
	"go.uber.org/atomic"
)

const (
	DefaultTTL           = 5 * time.Minute
	DefaultMaxEntries    = 100
	DefaultStoragePrefix = "pavi_cache_"
)

// Config holds cache-wide settings. Zero values take the defaults above.
type Config struct {
	MaxEntries int
	DefaultTTL time.Duration
	// StoragePrefix namespaces keys in the durable tier.
	StoragePrefix string
	// Version tags every entry; entries with another tag are misses.
	Version string
	// Durable is optional; without it Persist options are ignored.
	Durable DurableTier
	Clock   func() time.Time
	Logger  *slog.Logger
}

// Options apply to a single call.
type Options struct {
	// TTL defaults to Config.DefaultTTL.
	TTL time.Duration
	// Persist reads through to, and writes through to, the durable tier.
	Persist bool
}

// Stats is a snapshot of cache effectiveness since the last Clear.
type Stats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	Size    int     `json:"size"`
	HitRate float64 `json:"hitRate"`
}

// Cache is safe for concurrent use. Its memory tier belongs to the process;
// the durable tier may be shared and is not synchronized across processes.
type Cache[T any] struct {
	// mu serializes check-then-act sequences on the memory tier.
	mu      sync.Mutex
	memory  MemoryTier[T]
	durable DurableTier
	cfg     Config

	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a cache with the default memory tier.
func New[T any](cfg Config) *Cache[T] {
	return NewWithMemory(cfg, NewMemoryTier[T]())
}

// NewWithMemory creates a cache over the given memory tier.
func NewWithMemory[T any](cfg Config, memory MemoryTier[T]) *Cache[T] {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultTTL
	}
	if cfg.StoragePrefix == "" {
		cfg.StoragePrefix = DefaultStoragePrefix
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Cache[T]{memory: memory, durable: cfg.Durable, cfg: cfg}
}

// Get returns the value for key if it is present and fresh. With Persist, a
// memory miss falls back to the durable tier and a valid durable entry is
// promoted into memory. Stale entries found on the way are removed.
func (c *Cache[T]) Get(ctx context.Context, key string, opts Options) (T, bool) {
	now := c.cfg.Clock()

	if entry, ok := c.memory.Get(key); ok && !entry.Expired(now, c.cfg.Version) {
		c.hits.Inc()
		return entry.Data, true
	}

	persist := opts.Persist && c.durable != nil
	if persist {
		if entry, ok := c.loadDurable(ctx, key); ok && !entry.Expired(now, c.cfg.Version) {
			c.mu.Lock()
			c.insert(entry)
			c.mu.Unlock()
			c.hits.Inc()
			return entry.Data, true
		}
	}

	c.mu.Lock()
	// a concurrent Set may have replaced the stale entry meanwhile
	if current, ok := c.memory.Get(key); ok && current.Expired(now, c.cfg.Version) {
		c.memory.Delete(key)
	}
	c.mu.Unlock()
	if persist {
		c.deleteDurable(ctx, key)
	}

	c.misses.Inc()
	var zero T
	return zero, false
}

// Set stores value under key. A new key arriving at capacity evicts the
// entry with the oldest insertion time first, whatever its remaining TTL.
func (c *Cache[T]) Set(ctx context.Context, key string, value T, opts Options) {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = c.cfg.DefaultTTL
	}
	entry := Entry[T]{
		Key:        key,
		Data:       value,
		InsertedAt: c.cfg.Clock(),
		TTL:        ttl,
		Version:    c.cfg.Version,
	}

	c.mu.Lock()
	c.insert(entry)
	c.mu.Unlock()

	if opts.Persist && c.durable != nil {
		c.saveDurable(ctx, entry)
	}
}

// insert must be called with mu held.
func (c *Cache[T]) insert(entry Entry[T]) {
	if _, exists := c.memory.Get(entry.Key); !exists && c.memory.Len() >= c.cfg.MaxEntries {
		if evicted, ok := c.memory.Evict(); ok {
			c.cfg.Logger.Debug("Evicted cache entry", slog.String("key", evicted.Key))
		}
	}
	c.memory.Set(entry)
}

// Has reports whether Get would return a value. It counts as a Get in Stats.
func (c *Cache[T]) Has(ctx context.Context, key string, opts Options) bool {
	_, ok := c.Get(ctx, key, opts)
	return ok
}

// Delete removes key from memory and, with Persist, from the durable tier.
// It reports whether the memory tier held the key.
func (c *Cache[T]) Delete(ctx context.Context, key string, opts Options) bool {
	c.mu.Lock()
	existed := c.memory.Delete(key)
	c.mu.Unlock()

	if opts.Persist && c.durable != nil {
		c.deleteDurable(ctx, key)
	}
	return existed
}

// Clear drops every memory entry and resets Stats. With persist it also
// clears this cache's keys from the durable tier.
func (c *Cache[T]) Clear(ctx context.Context, persist bool) {
	c.mu.Lock()
	c.memory.Clear()
	c.hits.Store(0)
	c.misses.Store(0)
	c.mu.Unlock()

	if persist && c.durable != nil {
		if err := c.durable.Clear(ctx, c.cfg.StoragePrefix); err != nil {
			c.cfg.Logger.Error("Failed to clear durable tier", slog.Any("error", storageFailure(err, "clear")))
		}
	}
}

// GetOrFetch returns the cached value or calls fetch and caches its result.
// Concurrent misses on one key each call fetch; the last Set wins. Fetch
// errors are returned and nothing is cached.
func (c *Cache[T]) GetOrFetch(ctx context.Context, key string, fetch func(context.Context) (T, error), opts Options) (T, error) {
	if cached, ok := c.Get(ctx, key, opts); ok {
		return cached, nil
	}

	value, err := fetch(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	c.Set(ctx, key, value, opts)
	return value, nil
}

// InvalidatePattern removes every memory key matching pattern and returns
// how many were removed. The durable tier is left alone.
func (c *Cache[T]) InvalidatePattern(pattern *regexp.Regexp) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, key := range c.memory.Keys() {
		if pattern.MatchString(key) && c.memory.Delete(key) {
			removed++
		}
	}
	return removed
}

// Cleanup removes expired memory entries and returns how many were removed.
func (c *Cache[T]) Cleanup() int {
	now := c.cfg.Clock()

	c.mu.Lock()
	defer c.mu.Unlock()

	var expired []string
	c.memory.Range(func(entry Entry[T]) bool {
		if entry.Expired(now, c.cfg.Version) {
			expired = append(expired, entry.Key)
		}
		return true
	})
	for _, key := range expired {
		c.memory.Delete(key)
	}
	return len(expired)
}

// Keys lists memory keys, oldest first, including expired ones not yet removed.
func (c *Cache[T]) Keys() []string {
	return c.memory.Keys()
}

// Stats returns hit/miss counters and the memory size.
func (c *Cache[T]) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	stats := Stats{Hits: hits, Misses: misses, Size: c.memory.Len()}
	if total := hits + misses; total > 0 {
		stats.HitRate = float64(hits) / float64(total)
	}
	return stats
}

func (c *Cache[T]) loadDurable(ctx context.Context, key string) (Entry[T], bool) {
	raw, ok, err := c.durable.Get(ctx, c.cfg.StoragePrefix+key)
	if err != nil {
		c.cfg.Logger.Error("Failed to read durable tier", slog.String("key", key), slog.Any("error", storageFailure(err, "read")))
		return Entry[T]{}, false
	}
	if !ok {
		return Entry[T]{}, false
	}
	var entry Entry[T]
	if err := json.Unmarshal(raw, &entry); err != nil {
		c.cfg.Logger.Warn("Discarding unreadable durable entry", slog.String("key", key), slog.Any("error", err))
		return Entry[T]{}, false
	}
	return entry, true
}

func (c *Cache[T]) saveDurable(ctx context.Context, entry Entry[T]) {
	raw, err := json.Marshal(entry)
	if err != nil {
		c.cfg.Logger.Error("Failed to encode durable entry", slog.String("key", entry.Key), slog.Any("error", err))
		return
	}
	if err := c.durable.Set(ctx, c.cfg.StoragePrefix+entry.Key, raw); err != nil {
		c.cfg.Logger.Error("Failed to write durable tier", slog.String("key", entry.Key), slog.Any("error", storageFailure(err, "write")))
	}
}

func (c *Cache[T]) deleteDurable(ctx context.Context, key string) {
	if err := c.durable.Delete(ctx, c.cfg.StoragePrefix+key); err != nil {
		c.cfg.Logger.Error("Failed to delete from durable tier", slog.String("key", key), slog.Any("error", storageFailure(err, "delete")))
	}
}

func storageFailure(err error, op string) error {
	return platformerrors.Wrapf(err, platformerrors.CodeDatabase, "durable tier %s failed", op)
}
