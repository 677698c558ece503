package cache

import (
	"context"
	"net/http"
	"time"
)

// Store defines the contract for all durable response storage backends.
// A store is partitioned into named namespaces; the worker keeps exactly one
// of them current and deletes the rest on activation.
type Store interface {
	// Open returns a handle to the named namespace, creating it if missing.
	Open(ctx context.Context, name string) (Namespace, error)
	// Has reports whether the named namespace exists.
	Has(ctx context.Context, name string) (bool, error)
	// Delete drops the namespace and every entry in it.
	// It reports whether the namespace existed.
	Delete(ctx context.Context, name string) (bool, error)
	// Names lists the existing namespaces in creation order.
	Names(ctx context.Context) ([]string, error)
	Close() error // For graceful shutdown/cleanup
}

// Namespace is a handle to one named partition of a Store.
type Namespace interface {
	Name() string
	Get(ctx context.Context, key string) (*ResponseCacheEntry, bool, error)
	Set(ctx context.Context, key string, entry *ResponseCacheEntry) error
	// SetAll writes every entry or none of them.
	SetAll(ctx context.Context, entries map[string]*ResponseCacheEntry) error
	Delete(ctx context.Context, key string) (bool, error)
	Keys(ctx context.Context) ([]string, error)
}

// ResponseCacheEntry holds the complete HTTP response data.
// Entries carry no expiry of their own; they live as long as their namespace.
type ResponseCacheEntry struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	CreatedAt  time.Time
}

// OK reports whether the entry carries a 2xx status.
func (e *ResponseCacheEntry) OK() bool {
	return e != nil && e.StatusCode >= http.StatusOK && e.StatusCode < http.StatusMultipleChoices
}

// Clone returns a deep copy so stored entries are never shared with callers.
func (e *ResponseCacheEntry) Clone() *ResponseCacheEntry {
	if e == nil {
		return nil
	}
	return &ResponseCacheEntry{
		StatusCode: e.StatusCode,
		Headers:    e.Headers.Clone(),
		Body:       append([]byte(nil), e.Body...),
		CreatedAt:  e.CreatedAt,
	}
}
