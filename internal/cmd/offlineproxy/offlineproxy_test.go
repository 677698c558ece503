package offlineproxy

import (
	"bufio"
	"context"
	"flag"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spdeepak/offlinecache"
	"github.com/spdeepak/offlinecache/cache"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("offlineproxy", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}
	if cfg.HTTPAddr != "localhost:8090" {
		t.Fatalf("HTTPAddr = %q, want %q", cfg.HTTPAddr, "localhost:8090")
	}
	if cfg.CacheName != offlinecache.CacheName {
		t.Fatalf("CacheName = %q, want %q", cfg.CacheName, offlinecache.CacheName)
	}
	if cfg.FetchTimeout != 30*time.Second {
		t.Fatalf("FetchTimeout = %v, want %v", cfg.FetchTimeout, 30*time.Second)
	}
	if cfg.MaxBodyBytes != 10<<20 {
		t.Fatalf("MaxBodyBytes = %d, want %d", cfg.MaxBodyBytes, 10<<20)
	}
	if cfg.MaxFetchBytes != 64<<20 {
		t.Fatalf("MaxFetchBytes = %d, want %d", cfg.MaxFetchBytes, 64<<20)
	}
	if cfg.InstallRetry != 10*time.Second {
		t.Fatalf("InstallRetry = %v, want %v", cfg.InstallRetry, 10*time.Second)
	}
}

func TestParseConfigEnvAndFlags(t *testing.T) {
	t.Setenv("PAVI_OFFLINE_UPSTREAM_URL", "http://pavi.internal:3000")
	t.Setenv("PAVI_OFFLINE_CACHE_NAME", "pavi-cache-v2")

	fs := flag.NewFlagSet("offlineproxy", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"-cache-name", "pavi-cache-v3", "-fetch-timeout", "2s"})
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}
	if cfg.UpstreamURL != "http://pavi.internal:3000" {
		t.Fatalf("UpstreamURL = %q, want %q", cfg.UpstreamURL, "http://pavi.internal:3000")
	}
	if cfg.CacheName != "pavi-cache-v3" {
		t.Fatalf("CacheName = %q, want %q", cfg.CacheName, "pavi-cache-v3")
	}
	if cfg.FetchTimeout != 2*time.Second {
		t.Fatalf("FetchTimeout = %v, want %v", cfg.FetchTimeout, 2*time.Second)
	}
}

func TestParseConfigRejectsBadEnv(t *testing.T) {
	t.Setenv("PAVI_OFFLINE_FETCH_TIMEOUT", "forever")

	fs := flag.NewFlagSet("offlineproxy", flag.ContinueOnError)
	if _, err := ParseConfig(fs, nil); err == nil {
		t.Fatal("expected error")
	}
}

func newUpstream(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, "<h1>PAVI</h1>")
	})
	mux.HandleFunc("GET /offline", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, "<h1>You are offline</h1>")
	})
	mux.HandleFunc("GET /manifest.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"name":"PAVI"}`)
	})
	mux.HandleFunc("GET /api/jobs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `[{"uuid":"job-1","status":"COMPLETED"}]`)
	})
	mux.HandleFunc("POST /api/jobs", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"uuid":"job-2"}`)
	})
	return httptest.NewServer(mux)
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()

	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, string(body)
}

func TestProxyServesCachedResponsesWhenUpstreamIsDown(t *testing.T) {
	ctx := context.Background()
	upstream := newUpstream(t)

	p, err := newProxy(ctx, Config{
		UpstreamURL:  upstream.URL,
		CacheName:    offlinecache.CacheName,
		DBPath:       filepath.Join(t.TempDir(), "nested", "offline.db"),
		FetchTimeout: 5 * time.Second,
		MaxBodyBytes: 10 << 20,
	})
	if err != nil {
		t.Fatalf("newProxy() error = %v", err)
	}
	defer p.Close()

	p.start(ctx)
	waitForState(t, p.worker, offlinecache.StateActivated)

	front := httptest.NewServer(p.handler)
	defer front.Close()

	resp, body := get(t, front.URL+"/api/jobs")
	if resp.Header.Get("X-Cache-Status") != "MISS" {
		t.Fatalf("X-Cache-Status = %q, want MISS", resp.Header.Get("X-Cache-Status"))
	}
	if !strings.Contains(body, "job-1") {
		t.Fatalf("body = %q", body)
	}

	submit, err := http.Post(front.URL+"/api/jobs", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	_ = submit.Body.Close()
	if submit.StatusCode != http.StatusCreated {
		t.Fatalf("POST status = %d, want %d", submit.StatusCode, http.StatusCreated)
	}
	if submit.Header.Get("X-Cache-Status") != "" {
		t.Fatal("POST must not be intercepted")
	}

	upstream.Close()
	p.worker.Wait()

	resp, body = get(t, front.URL+"/api/jobs")
	if resp.Header.Get("X-Cache-Status") != "HIT" {
		t.Fatalf("X-Cache-Status = %q, want HIT", resp.Header.Get("X-Cache-Status"))
	}
	if !strings.Contains(body, "job-1") {
		t.Fatalf("body = %q", body)
	}

	req, err := http.NewRequest(http.MethodGet, front.URL+"/result/job-9", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	offline, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET offline: %v", err)
	}
	defer offline.Body.Close()
	offlineBody, _ := io.ReadAll(offline.Body)
	if !strings.Contains(string(offlineBody), "You are offline") {
		t.Fatalf("offline body = %q", offlineBody)
	}
}

func waitForState(t *testing.T, worker *offlinecache.Worker, want offlinecache.State) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for worker.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("state = %s, want %s", worker.State(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestProxyRetriesInstallUntilUpstreamIsReady(t *testing.T) {
	ctx := context.Background()
	var ready atomic.Bool
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !ready.Load() {
			http.Error(w, "starting", http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, "live")
	}))
	defer upstream.Close()

	p, err := newProxy(ctx, Config{
		UpstreamURL:  upstream.URL,
		CacheName:    offlinecache.CacheName,
		DBPath:       filepath.Join(t.TempDir(), "offline.db"),
		FetchTimeout: 5 * time.Second,
		InstallRetry: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("newProxy() error = %v", err)
	}
	defer p.Close()

	p.start(ctx)
	front := httptest.NewServer(p.handler)
	defer front.Close()

	resp, _ := get(t, front.URL+"/help")
	if resp.Header.Get("X-Cache-Status") != "" {
		t.Fatal("request must pass through while the worker is not active")
	}

	ready.Store(true)
	waitForState(t, p.worker, offlinecache.StateActivated)

	resp, body := get(t, front.URL+"/help")
	if resp.Header.Get("X-Cache-Status") == "" {
		t.Fatal("request should be intercepted once installed")
	}
	if body != "live" {
		t.Fatalf("body = %q, want %q", body, "live")
	}
}

func TestProxyCloseStopsInstallRetries(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer upstream.Close()

	p, err := newProxy(context.Background(), Config{
		UpstreamURL:  upstream.URL,
		CacheName:    offlinecache.CacheName,
		DBPath:       filepath.Join(t.TempDir(), "offline.db"),
		FetchTimeout: time.Second,
		InstallRetry: time.Hour,
	})
	if err != nil {
		t.Fatalf("newProxy() error = %v", err)
	}
	p.start(context.Background())

	closed := make(chan struct{})
	go func() {
		p.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("Close() did not stop the install loop")
	}
}

func TestServerShutdownEndsEventStreams(t *testing.T) {
	worker := offlinecache.NewWorker(cache.NewMemoryStore(), nil, nil)
	httpServer := newHTTPServer("127.0.0.1:0", worker.Handler(http.NotFoundHandler()))

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		_ = httpServer.Serve(listener)
	}()

	resp, err := http.Get("http://" + listener.Addr().String() + offlinecache.ControlPrefix + "/events")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()
	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	if err != nil || !strings.HasPrefix(line, "data: ") {
		t.Fatalf("hello = (%q, %v)", line, err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
}

func TestNewProxyRejectsRelativeUpstream(t *testing.T) {
	_, err := newProxy(context.Background(), Config{
		UpstreamURL: "localhost",
		DBPath:      filepath.Join(t.TempDir(), "offline.db"),
	})
	if err == nil {
		t.Fatal("expected error for relative upstream")
	}
}
