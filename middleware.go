package offlinecache

import (
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Middleware intercepts same-origin GET requests once the worker is active
// and answers them with the strategy selected for the request path. All
// other requests reach next untouched. An intercepted request always gets a
// response: a stored one, a fresh one, the offline document or a 503.
func (w *Worker) Middleware(next http.Handler) http.Handler {
	origin := originHost(w.cfg.Origin)

	return http.HandlerFunc(func(responseWriter http.ResponseWriter, request *http.Request) {
		// Only intercept GET requests
		if request.Method != http.MethodGet || w.State() != StateActivated {
			next.ServeHTTP(responseWriter, request)
			return
		}
		if origin != "" && !strings.EqualFold(requestHost(request), origin) {
			next.ServeHTTP(responseWriter, request)
			return
		}

		// Generate a key for a given request
		cacheKey := w.cfg.KeyGenerator(request)
		if cacheKey == "" {
			next.ServeHTTP(responseWriter, request)
			return
		}

		strategy := w.cfg.Rules.Select(request.URL.Path)
		navigation := isNavigation(request)
		ctx, span := w.tracer.Start(request.Context(), "offlinecache.dispatch",
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("cache.strategy", strategy.String()),
				attribute.String("cache.key", cacheKey),
				attribute.Bool("http.route.navigation", navigation),
			),
		)
		defer span.End()

		result := func() (result outcome) {
			defer func() {
				if p := recover(); p != nil {
					w.logger.Error("Strategy panicked", slog.String("cacheKey", cacheKey), slog.Any("panic", p))
					result = outcome{entry: synthetic(http.StatusServiceUnavailable, "Offline"), status: statusOffline}
				}
			}()
			// a fresh namespace handle per request; no handle is shared between events
			ns, err := w.namespace(ctx)
			if err != nil {
				w.logger.Error("Failed to open namespace", slog.String("cacheName", w.cfg.CacheName), slog.Any("error", err))
			}
			return w.run(ctx, strategy, ns, request.WithContext(ctx), cacheKey, navigation)
		}()
		span.SetAttributes(
			attribute.String("cache.status", result.status),
			attribute.Int("http.response.status_code", result.entry.StatusCode),
		)

		// Serve the response -> must set headers BEFORE WriteHeader
		for headerKey, headerValues := range result.entry.Headers {
			for _, headerValue := range headerValues {
				responseWriter.Header().Add(headerKey, headerValue)
			}
		}
		responseWriter.Header().Set("X-Cache-Status", result.status)
		responseWriter.Header().Set("X-Cache-Strategy", strategy.String())
		responseWriter.WriteHeader(result.entry.StatusCode)
		if len(result.entry.Body) > 0 {
			_, _ = responseWriter.Write(result.entry.Body)
		}
	})
}

// isNavigation reports whether the request loads a top-level document.
func isNavigation(request *http.Request) bool {
	if mode := request.Header.Get("Sec-Fetch-Mode"); mode != "" {
		return strings.EqualFold(mode, "navigate")
	}
	return strings.Contains(request.Header.Get("Accept"), "text/html")
}

// sameOrigin reports whether target may be stored in the namespace. Relative
// URLs always qualify; absolute ones only when they name the configured origin.
func (w *Worker) sameOrigin(target string) bool {
	parsed, err := url.Parse(target)
	if err != nil {
		return false
	}
	if parsed.Host == "" && parsed.Scheme == "" {
		return true
	}
	origin := originHost(w.cfg.Origin)
	return origin != "" && strings.EqualFold(stripDefaultPort(parsed.Host), origin)
}

func originHost(origin string) string {
	origin = strings.TrimSpace(origin)
	if origin == "" {
		return ""
	}
	if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
		return parsed.Host
	}
	return origin
}

func requestHost(request *http.Request) string {
	if request.URL.Host != "" {
		return request.URL.Host
	}
	return stripDefaultPort(request.Host)
}

func stripDefaultPort(host string) string {
	if h, port, err := net.SplitHostPort(host); err == nil && (port == "80" || port == "443") {
		return h
	}
	return host
}
