package offlinecache

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/spdeepak/offlinecache/cache"
)

// fakeNetwork serves canned responses by path and can be switched offline.
type fakeNetwork struct {
	mu      sync.Mutex
	pages   map[string]*cache.ResponseCacheEntry
	offline bool
	calls   map[string]int
}

func newFakeNetwork() *fakeNetwork {
	network := &fakeNetwork{
		pages: make(map[string]*cache.ResponseCacheEntry),
		calls: make(map[string]int),
	}
	network.serve("/", http.StatusOK, "home v1")
	network.serve(OfflinePath, http.StatusOK, "<h1>You are offline</h1>")
	network.serve("/manifest.json", http.StatusOK, `{"name":"PAVI"}`)
	return network
}

func (n *fakeNetwork) Fetch(_ context.Context, request *http.Request) (*cache.ResponseCacheEntry, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.calls[request.URL.Path]++
	if n.offline {
		return nil, networkFailure(errors.New("connection refused"), request.URL.String())
	}
	entry, ok := n.pages[request.URL.Path]
	if !ok {
		return &cache.ResponseCacheEntry{StatusCode: http.StatusNotFound, Headers: http.Header{}, Body: []byte("not found")}, nil
	}
	return entry.Clone(), nil
}

func (n *fakeNetwork) serve(path string, status int, body string) {
	n.serveWithHeaders(path, status, body, http.Header{"Content-Type": {"text/plain"}})
}

func (n *fakeNetwork) serveWithHeaders(path string, status int, body string, headers http.Header) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pages[path] = &cache.ResponseCacheEntry{StatusCode: status, Headers: headers, Body: []byte(body)}
}

func (n *fakeNetwork) remove(path string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.pages, path)
}

func (n *fakeNetwork) setOffline(offline bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.offline = offline
}

func (n *fakeNetwork) count(path string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[path]
}

func quietConfig() *Config {
	cfg := DefaultConfig()
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return cfg
}

func newActiveWorker(t *testing.T, network Fetcher, cfg *Config) (*Worker, *cache.MemoryStore) {
	t.Helper()

	if cfg == nil {
		cfg = quietConfig()
	}
	store := cache.NewMemoryStore()
	worker := NewWorker(store, network, cfg)
	if err := worker.Start(context.Background()); err != nil {
		t.Fatalf("start worker: %v", err)
	}
	if worker.State() != StateActivated {
		t.Fatalf("state = %s, want %s", worker.State(), StateActivated)
	}
	t.Cleanup(worker.Wait)
	return worker, store
}

var passthrough = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("passthrough"))
})

func serve(worker *Worker, request *http.Request) *httptest.ResponseRecorder {
	recorder := httptest.NewRecorder()
	worker.Middleware(passthrough).ServeHTTP(recorder, request)
	return recorder
}

func get(worker *Worker, target string) *httptest.ResponseRecorder {
	return serve(worker, httptest.NewRequest(http.MethodGet, target, nil))
}

func navigate(worker *Worker, target string) *httptest.ResponseRecorder {
	request := httptest.NewRequest(http.MethodGet, target, nil)
	request.Header.Set("Sec-Fetch-Mode", "navigate")
	return serve(worker, request)
}
