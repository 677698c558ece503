package cache

import (
	"context"
	"slices"
	"sync"
)

// MemoryStore implements Store in process memory. Entries are cloned on the
// way in and out so callers never share buffers with the store.
type MemoryStore struct {
	mutex      sync.RWMutex
	order      []string
	namespaces map[string]*memoryNamespace
}

// NewMemoryStore creates an empty in-memory Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{namespaces: make(map[string]*memoryNamespace)}
}

// Open returns the named namespace, creating it if missing.
func (s *MemoryStore) Open(_ context.Context, name string) (Namespace, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if ns, ok := s.namespaces[name]; ok {
		return ns, nil
	}
	ns := &memoryNamespace{name: name, entries: make(map[string]*ResponseCacheEntry)}
	s.namespaces[name] = ns
	s.order = append(s.order, name)
	return ns, nil
}

// Has reports whether the namespace exists.
func (s *MemoryStore) Has(_ context.Context, name string) (bool, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	_, ok := s.namespaces[name]
	return ok, nil
}

// Delete drops the namespace. Handles opened earlier keep working but are
// detached from the store.
func (s *MemoryStore) Delete(_ context.Context, name string) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.namespaces[name]; !ok {
		return false, nil
	}
	delete(s.namespaces, name)
	s.order = slices.DeleteFunc(s.order, func(n string) bool { return n == name })
	return true, nil
}

// Names lists namespaces in creation order.
func (s *MemoryStore) Names(_ context.Context) ([]string, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return slices.Clone(s.order), nil
}

// Close is a no-op for in-memory, but required by the interface.
func (s *MemoryStore) Close() error {
	return nil
}

type memoryNamespace struct {
	mutex   sync.RWMutex
	name    string
	entries map[string]*ResponseCacheEntry
}

func (ns *memoryNamespace) Name() string {
	return ns.name
}

func (ns *memoryNamespace) Get(_ context.Context, key string) (*ResponseCacheEntry, bool, error) {
	ns.mutex.RLock()
	defer ns.mutex.RUnlock()

	entry, ok := ns.entries[key]
	if !ok {
		return nil, false, nil
	}
	return entry.Clone(), true, nil
}

func (ns *memoryNamespace) Set(_ context.Context, key string, entry *ResponseCacheEntry) error {
	ns.mutex.Lock()
	defer ns.mutex.Unlock()
	ns.entries[key] = entry.Clone()
	return nil
}

func (ns *memoryNamespace) SetAll(_ context.Context, entries map[string]*ResponseCacheEntry) error {
	ns.mutex.Lock()
	defer ns.mutex.Unlock()
	for key, entry := range entries {
		ns.entries[key] = entry.Clone()
	}
	return nil
}

func (ns *memoryNamespace) Delete(_ context.Context, key string) (bool, error) {
	ns.mutex.Lock()
	defer ns.mutex.Unlock()

	_, ok := ns.entries[key]
	delete(ns.entries, key)
	return ok, nil
}

func (ns *memoryNamespace) Keys(_ context.Context) ([]string, error) {
	ns.mutex.RLock()
	defer ns.mutex.RUnlock()

	keys := make([]string, 0, len(ns.entries))
	for key := range ns.entries {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys, nil
}

var _ Store = (*MemoryStore)(nil)
