package ttlcache

import (
	"container/list"
	"sync"
)

// tierItem links the cache key and the entry to the list element.
type tierItem[T any] struct {
	key   string
	entry Entry[T]
}

// memoryTier implements MemoryTier with a list kept in insertion-time order.
type memoryTier[T any] struct {
	mutex sync.RWMutex
	// Doubly linked list, newest InsertedAt at the front
	order   *list.List
	entries map[string]*list.Element
}

// NewMemoryTier creates an empty MemoryTier. Evict always removes the entry
// with the oldest InsertedAt; entries with equal timestamps leave in the
// order they were set.
func NewMemoryTier[T any]() MemoryTier[T] {
	return &memoryTier[T]{
		order:   list.New(),
		entries: make(map[string]*list.Element),
	}
}

// Get returns the entry without touching its position.
func (t *memoryTier[T]) Get(key string) (Entry[T], bool) {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	element, ok := t.entries[key]
	if !ok {
		return Entry[T]{}, false
	}
	return element.Value.(*tierItem[T]).entry, true
}

// Set adds or replaces an entry and files it by its InsertedAt.
func (t *memoryTier[T]) Set(entry Entry[T]) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if element, ok := t.entries[entry.Key]; ok {
		t.order.Remove(element)
	}
	t.entries[entry.Key] = t.insertOrdered(&tierItem[T]{key: entry.Key, entry: entry})
}

// insertOrdered walks from the newest end, so the common case of a fresh
// timestamp is a push to the front.
func (t *memoryTier[T]) insertOrdered(item *tierItem[T]) *list.Element {
	for element := t.order.Front(); element != nil; element = element.Next() {
		if !element.Value.(*tierItem[T]).entry.InsertedAt.After(item.entry.InsertedAt) {
			return t.order.InsertBefore(item, element)
		}
	}
	return t.order.PushBack(item)
}

// Delete removes an entry from the tier.
func (t *memoryTier[T]) Delete(key string) bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	element, ok := t.entries[key]
	if !ok {
		return false
	}
	t.order.Remove(element)
	delete(t.entries, key)
	return true
}

// Evict removes and returns the entry with the oldest InsertedAt.
func (t *memoryTier[T]) Evict() (Entry[T], bool) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	oldest := t.order.Back()
	if oldest == nil {
		return Entry[T]{}, false
	}
	evicted := t.order.Remove(oldest).(*tierItem[T])
	delete(t.entries, evicted.key)
	return evicted.entry, true
}

func (t *memoryTier[T]) Len() int {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return len(t.entries)
}

// Keys returns keys from the oldest to the newest entry.
func (t *memoryTier[T]) Keys() []string {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	keys := make([]string, 0, len(t.entries))
	for element := t.order.Back(); element != nil; element = element.Prev() {
		keys = append(keys, element.Value.(*tierItem[T]).key)
	}
	return keys
}

// Range calls fn from the oldest to the newest entry until fn returns false.
// fn must not call back into the tier.
func (t *memoryTier[T]) Range(fn func(Entry[T]) bool) {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	for element := t.order.Back(); element != nil; element = element.Prev() {
		if !fn(element.Value.(*tierItem[T]).entry) {
			return
		}
	}
}

func (t *memoryTier[T]) Clear() {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.order.Init()
	t.entries = make(map[string]*list.Element)
}
