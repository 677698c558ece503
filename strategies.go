package offlinecache

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/spdeepak/offlinecache/cache"
)

// Values of the X-Cache-Status response header.
const (
	statusHit     = "HIT"
	statusMiss    = "MISS"
	statusOffline = "OFFLINE"
)

// outcome is the response a strategy settled on.
type outcome struct {
	entry  *cache.ResponseCacheEntry
	status string
}

func (w *Worker) run(ctx context.Context, strategy Strategy, ns cache.Namespace, request *http.Request, key string, navigation bool) outcome {
	switch strategy {
	case CacheFirst:
		return w.cacheFirst(ctx, ns, request, key)
	case StaleWhileRevalidate:
		return w.staleWhileRevalidate(ctx, ns, request, key)
	default:
		return w.networkFirst(ctx, ns, request, key, navigation)
	}
}

// cacheFirst serves a stored entry without touching the network.
func (w *Worker) cacheFirst(ctx context.Context, ns cache.Namespace, request *http.Request, key string) outcome {
	if cached, ok := w.lookup(ctx, ns, key); ok {
		return outcome{entry: cached, status: statusHit}
	}

	entry, err := w.fetcher.Fetch(ctx, request)
	if err != nil {
		w.logger.Debug("Cache-first fetch failed", slog.String("cacheKey", key), slog.Any("error", err))
		return outcome{entry: synthetic(http.StatusServiceUnavailable, "Network error"), status: statusOffline}
	}
	if w.cacheable(entry) {
		w.put(ctx, ns, key, entry)
	}
	return outcome{entry: entry, status: statusMiss}
}

// networkFirst prefers a fresh response and falls back to storage, then to
// the offline document for navigations.
func (w *Worker) networkFirst(ctx context.Context, ns cache.Namespace, request *http.Request, key string, navigation bool) outcome {
	entry, err := w.fetcher.Fetch(ctx, request)
	if err == nil {
		if w.cacheable(entry) {
			w.put(ctx, ns, key, entry)
			return outcome{entry: entry, status: statusMiss}
		}
		// An error status still beats nothing; only a stored copy is better.
		if cached, ok := w.lookup(ctx, ns, key); ok && !entry.OK() {
			return outcome{entry: cached, status: statusHit}
		}
		return outcome{entry: entry, status: statusMiss}
	}

	w.logger.Debug("Network-first fetch failed", slog.String("cacheKey", key), slog.Any("error", err))
	if cached, ok := w.lookup(ctx, ns, key); ok {
		return outcome{entry: cached, status: statusHit}
	}
	if navigation {
		if offline, ok := w.lookup(ctx, ns, w.cfg.OfflinePath); ok {
			return outcome{entry: offline, status: statusOffline}
		}
	}
	return outcome{entry: synthetic(http.StatusServiceUnavailable, "Offline"), status: statusOffline}
}

// staleWhileRevalidate answers from storage right away and refreshes the
// entry in the background. The refresh outlives the request and is never
// cancelled; its write may overwrite a newer one.
func (w *Worker) staleWhileRevalidate(ctx context.Context, ns cache.Namespace, request *http.Request, key string) outcome {
	cached, hit := w.lookup(ctx, ns, key)

	bgCtx := context.WithoutCancel(ctx)
	fresh := make(chan *cache.ResponseCacheEntry, 1)
	w.background.Add(1)
	go func(request *http.Request) {
		defer w.background.Done()
		defer func() {
			// recover to avoid uncaught goroutine panic
			if p := recover(); p != nil {
				w.logger.Error("Revalidation panicked", slog.String("cacheKey", key), slog.Any("panic", p))
				fresh <- nil
			}
		}()

		entry, err := w.fetcher.Fetch(bgCtx, request)
		if err != nil {
			w.logger.Debug("Revalidation fetch failed", slog.String("cacheKey", key), slog.Any("error", err))
			fresh <- nil
			return
		}
		if w.cacheable(entry) {
			w.put(bgCtx, ns, key, entry)
		}
		fresh <- entry
	}(request.Clone(bgCtx))

	if hit {
		return outcome{entry: cached, status: statusHit}
	}
	if entry := <-fresh; entry != nil {
		return outcome{entry: entry, status: statusMiss}
	}
	return outcome{entry: synthetic(http.StatusServiceUnavailable, "Offline"), status: statusOffline}
}

// lookup reads key from ns. Storage failures count as a miss.
func (w *Worker) lookup(ctx context.Context, ns cache.Namespace, key string) (*cache.ResponseCacheEntry, bool) {
	if ns == nil {
		return nil, false
	}
	entry, ok, err := ns.Get(ctx, key)
	if err != nil {
		w.logger.Error("Failed to read cached response", slog.String("cacheKey", key), slog.Any("error", storageFailure(err, "read")))
		return nil, false
	}
	return entry, ok
}

// put stores a copy of entry. Storage failures are logged and dropped.
func (w *Worker) put(ctx context.Context, ns cache.Namespace, key string, entry *cache.ResponseCacheEntry) {
	if ns == nil {
		return
	}
	if err := ns.Set(ctx, key, w.storedCopy(entry)); err != nil {
		w.logger.Error("Failed to cache response", slog.String("cacheKey", key), slog.Any("error", storageFailure(err, "write")))
	}
}

func synthetic(status int, body string) *cache.ResponseCacheEntry {
	return &cache.ResponseCacheEntry{
		StatusCode: status,
		Headers:    http.Header{"Content-Type": {"text/plain; charset=utf-8"}},
		Body:       []byte(body),
	}
}
