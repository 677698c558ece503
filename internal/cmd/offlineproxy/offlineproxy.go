// Package offlineproxy parses proxy flags and runs the offline cache in
// front of the PAVI web client.
package offlineproxy

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spdeepak/offlinecache"
	"github.com/spdeepak/offlinecache/internal/config"
	"github.com/spdeepak/offlinecache/internal/telemetry"
	"github.com/spdeepak/offlinecache/storage/sqlite"
)

const (
	serviceName     = "pavi-offline-proxy"
	shutdownTimeout = 5 * time.Second
)

// Config holds the proxy command configuration.
type Config struct {
	HTTPAddr     string        `env:"PAVI_OFFLINE_HTTP_ADDR" envDefault:"localhost:8090"`
	UpstreamURL  string        `env:"PAVI_OFFLINE_UPSTREAM_URL" envDefault:"http://localhost:3000"`
	Origin       string        `env:"PAVI_OFFLINE_ORIGIN"`
	CacheName    string        `env:"PAVI_OFFLINE_CACHE_NAME" envDefault:"pavi-cache-v1"`
	DBPath       string        `env:"PAVI_OFFLINE_DB_PATH" envDefault:"data/pavi-offline.db"`
	FetchTimeout time.Duration `env:"PAVI_OFFLINE_FETCH_TIMEOUT" envDefault:"30s"`
	MaxBodyBytes int64         `env:"PAVI_OFFLINE_MAX_BODY_BYTES" envDefault:"10485760"`

	// MaxFetchBytes bounds upstream bodies read by the cache; larger ones fail the fetch.
	MaxFetchBytes int64         `env:"PAVI_OFFLINE_MAX_FETCH_BYTES" envDefault:"67108864"`
	InstallRetry  time.Duration `env:"PAVI_OFFLINE_INSTALL_RETRY" envDefault:"10s"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "HTTP listen address")
	fs.StringVar(&cfg.UpstreamURL, "upstream", cfg.UpstreamURL, "PAVI web client base URL")
	fs.StringVar(&cfg.Origin, "origin", cfg.Origin, "Public origin whose requests are cached")
	fs.StringVar(&cfg.CacheName, "cache-name", cfg.CacheName, "Current cache namespace")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "SQLite cache database path")
	fs.DurationVar(&cfg.FetchTimeout, "fetch-timeout", cfg.FetchTimeout, "Upstream fetch timeout")
	fs.DurationVar(&cfg.InstallRetry, "install-retry", cfg.InstallRetry, "Delay between install attempts")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// proxy is the assembled offline proxy.
type proxy struct {
	store        *sqlite.Store
	worker       *offlinecache.Worker
	handler      http.Handler
	installRetry time.Duration

	cancel     context.CancelFunc
	installing sync.WaitGroup
}

func newProxy(ctx context.Context, cfg Config) (*proxy, error) {
	upstream, err := url.Parse(cfg.UpstreamURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream url: %w", err)
	}
	fetcher, err := offlinecache.NewHTTPFetcher(cfg.UpstreamURL, cfg.FetchTimeout)
	if err != nil {
		return nil, fmt.Errorf("init fetcher: %w", err)
	}
	fetcher.MaxBodyBytes = cfg.MaxFetchBytes

	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	store, err := sqlite.Open(ctx, cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open cache store: %w", err)
	}

	workerCfg := offlinecache.DefaultConfig()
	workerCfg.CacheName = cfg.CacheName
	workerCfg.Origin = cfg.Origin
	workerCfg.MaxBodyBytes = cfg.MaxBodyBytes
	worker := offlinecache.NewWorker(store, fetcher, workerCfg)

	// requests the worker does not intercept go straight upstream
	passthrough := httputil.NewSingleHostReverseProxy(upstream)

	installRetry := cfg.InstallRetry
	if installRetry <= 0 {
		installRetry = 10 * time.Second
	}
	return &proxy{
		store:        store,
		worker:       worker,
		handler:      worker.Handler(passthrough),
		installRetry: installRetry,
	}, nil
}

// start installs and activates the worker in the background, retrying until
// it succeeds or ctx is done. Requests pass through until then.
func (p *proxy) start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.installing.Add(1)
	go func() {
		defer p.installing.Done()
		p.install(ctx)
	}()
}

func (p *proxy) install(ctx context.Context) {
	ticker := time.NewTicker(p.installRetry)
	defer ticker.Stop()

	for {
		var err error
		switch p.worker.State() {
		case offlinecache.StateActivated:
			return
		case offlinecache.StateInstalled:
			err = p.worker.Activate(ctx)
		default:
			err = p.worker.Start(ctx)
		}
		if err == nil {
			return
		}
		slog.Warn("Offline cache not active, serving passthrough",
			slog.Duration("retryIn", p.installRetry), slog.Any("error", err))

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *proxy) Close() {
	if p.cancel != nil {
		p.cancel()
	}
	p.installing.Wait()
	p.worker.Wait()
	if err := p.store.Close(); err != nil {
		slog.Error("Failed to close cache store", slog.Any("error", err))
	}
}

// newHTTPServer builds the proxy server. Shutdown cancels the context of
// every request so long-lived event streams end instead of holding it open.
func newHTTPServer(addr string, handler http.Handler) *http.Server {
	baseCtx, cancel := context.WithCancel(context.Background())
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return baseCtx
		},
	}
	httpServer.RegisterOnShutdown(cancel)
	return httpServer
}

// Run starts the offline proxy and blocks until ctx is done.
func Run(ctx context.Context, cfg Config) error {
	shutdownTracing, err := telemetry.Setup(ctx, serviceName)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			slog.Error("Failed to flush traces", slog.Any("error", err))
		}
	}()

	p, err := newProxy(ctx, cfg)
	if err != nil {
		return err
	}
	defer p.Close()
	p.start(ctx)

	httpServer := newHTTPServer(cfg.HTTPAddr, p.handler)

	serveErr := make(chan error, 1)
	slog.Info("Offline proxy listening", slog.String("addr", cfg.HTTPAddr), slog.String("upstream", cfg.UpstreamURL))
	go func() {
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		err := httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}
