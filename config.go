package offlinecache

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
)

const (
	// CacheName is the current namespace. Bumping it retires every older
	// namespace on the next activation.
	CacheName = "pavi-cache-v1"
	// OfflinePath is served to navigation requests when nothing else is available.
	OfflinePath = "/offline"
	// SyncTag identifies the reconnection signal raised by the foreground.
	SyncTag = "job-sync"
)

// PrecacheAssets are fetched into the current namespace at install time.
var PrecacheAssets = []string{
	"/",
	OfflinePath,
	"/manifest.json",
}

// Config holds the worker settings.
type Config struct {
	// CacheName is the namespace kept on activation.
	CacheName string
	// OfflinePath must be part of Precache.
	OfflinePath string
	// Precache is the install manifest.
	Precache []string
	// Rules pick a strategy per request path, first match wins.
	Rules Rules
	// Origin restricts interception to one host. Empty intercepts every host.
	Origin string
	// SyncTag is the reconnection tag that triggers an online broadcast.
	SyncTag string
	// SkipWaiting activates the worker right after a successful install.
	SkipWaiting  bool
	KeyGenerator func(*http.Request) string
	// ShouldCache decides whether a response with given status code should be cached.
	ShouldCache func(statusCode int) bool
	// MaxBodyBytes - do not cache bodies larger than this.
	MaxBodyBytes int64
	// StripHeaders removes headers before storing (hop-by-hop etc).
	StripHeaders func(http.Header) http.Header
	Notifier     Notifier
	Logger       *slog.Logger
	Clock        func() time.Time
	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider
}

// DefaultConfig provides defaults.
func DefaultConfig() *Config {
	return &Config{
		CacheName:    CacheName,
		OfflinePath:  OfflinePath,
		Precache:     append([]string(nil), PrecacheAssets...),
		Rules:        DefaultRules(),
		SyncTag:      SyncTag,
		SkipWaiting:  true,
		KeyGenerator: DefaultKeyGenerator,
		ShouldCache: func(statusCode int) bool {
			// Only cache successful responses by default
			return statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices
		},
		MaxBodyBytes: 10 << 20,
		StripHeaders: stripHopByHop,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c *Config) withDefaults() *Config {
	defaults := DefaultConfig()
	if c == nil {
		return defaults
	}
	cfg := *c
	if cfg.CacheName == "" {
		cfg.CacheName = defaults.CacheName
	}
	if cfg.OfflinePath == "" {
		cfg.OfflinePath = defaults.OfflinePath
	}
	if cfg.Precache == nil {
		cfg.Precache = defaults.Precache
	}
	if cfg.Rules == nil {
		cfg.Rules = defaults.Rules
	}
	if cfg.SyncTag == "" {
		cfg.SyncTag = defaults.SyncTag
	}
	if cfg.KeyGenerator == nil {
		cfg.KeyGenerator = defaults.KeyGenerator
	}
	if cfg.ShouldCache == nil {
		cfg.ShouldCache = defaults.ShouldCache
	}
	if cfg.StripHeaders == nil {
		cfg.StripHeaders = defaults.StripHeaders
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &cfg
}

// DefaultKeyGenerator keys an entry by its request URL. Only same-origin
// requests are stored, so path and query identify the resource.
func DefaultKeyGenerator(r *http.Request) string {
	return r.URL.RequestURI()
}

func stripHopByHop(header http.Header) http.Header {
	// Clone so caller can mutate safely.
	headerClone := header.Clone()
	if headerClone == nil {
		headerClone = make(http.Header)
	}

	for _, k := range []string{
		"Connection", "Proxy-Connection", "Keep-Alive",
		"Proxy-Authenticate", "Proxy-Authorization", "TE",
		"Trailer", "Transfer-Encoding", "Upgrade",
		"Set-Cookie",
	} {
		headerClone.Del(k)
	}
	// Also remove hop-by-hop values referenced by Connection header
	if conn := header.Get("Connection"); conn != "" {
		for _, token := range strings.Split(conn, ",") {
			token = strings.TrimSpace(token)
			if token != "" {
				headerClone.Del(token)
			}
		}
	}
	return headerClone
}
