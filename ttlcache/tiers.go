package ttlcache

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Entry is one cached value with its freshness metadata.
type Entry[T any] struct {
	Key        string        `json:"key"`
	Data       T             `json:"data"`
	InsertedAt time.Time     `json:"insertedAt"`
	TTL        time.Duration `json:"ttl"`
	Version    string        `json:"version,omitempty"`
}

// Expired reports whether the entry outlived its TTL at now, or was written
// under a different version. Both count as a miss.
func (e Entry[T]) Expired(now time.Time, version string) bool {
	return now.Sub(e.InsertedAt) > e.TTL || e.Version != version
}

// MemoryTier is the volatile, per-process tier. Implementations must be
// safe for concurrent use.
type MemoryTier[T any] interface {
	Get(key string) (Entry[T], bool)
	Set(entry Entry[T])
	Delete(key string) bool
	// Evict removes the entry with the oldest InsertedAt.
	Evict() (Entry[T], bool)
	Len() int
	Keys() []string
	Range(fn func(Entry[T]) bool)
	Clear()
}

// DurableTier is the persistent tier shared between processes. Every call
// may fail; the cache degrades to memory-only when it does.
type DurableTier interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// Clear removes every key starting with prefix.
	Clear(ctx context.Context, prefix string) error
}

// MapTier is a DurableTier held in process memory, for tests and for hosts
// without a persistent store.
type MapTier struct {
	mu     sync.RWMutex
	values map[string][]byte
}

func NewMapTier() *MapTier {
	return &MapTier{values: make(map[string][]byte)}
}

func (m *MapTier) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.values[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), value...), true, nil
}

func (m *MapTier) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = append([]byte(nil), value...)
	return nil
}

func (m *MapTier) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

func (m *MapTier) Clear(_ context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.values {
		if strings.HasPrefix(key, prefix) {
			delete(m.values, key)
		}
	}
	return nil
}

// Len returns the number of stored keys.
func (m *MapTier) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values)
}

var _ DurableTier = (*MapTier)(nil)
