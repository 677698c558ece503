package offlinecache

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spdeepak/offlinecache/cache"
)

// Fetcher is the network as seen by the strategies. An error means no
// response was produced at all; HTTP error statuses are returned as entries.
type Fetcher interface {
	Fetch(ctx context.Context, request *http.Request) (*cache.ResponseCacheEntry, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, request *http.Request) (*cache.ResponseCacheEntry, error)

func (f FetcherFunc) Fetch(ctx context.Context, request *http.Request) (*cache.ResponseCacheEntry, error) {
	return f(ctx, request)
}

// HandlerFetcher treats an in-process handler as the network. A handler
// panic counts as a network failure.
type HandlerFetcher struct {
	Handler http.Handler
}

func (f HandlerFetcher) Fetch(ctx context.Context, request *http.Request) (entry *cache.ResponseCacheEntry, err error) {
	reqClone := request.Clone(ctx)
	recorder := NewResponseRecorder()

	defer func() {
		// recover handler panics so the strategy can fall back
		if p := recover(); p != nil {
			entry = nil
			err = networkFailure(fmt.Errorf("handler panic: %v", p), request.URL.String())
		}
	}()

	f.Handler.ServeHTTP(recorder, reqClone)
	return recorder.Entry(time.Now()), nil
}

// HTTPFetcher forwards requests to an upstream origin. The client's Timeout
// bounds every fetch; a zero Timeout waits indefinitely.
type HTTPFetcher struct {
	Client   *http.Client
	Upstream *url.URL
	// MaxBodyBytes caps how much of a response body is read. A larger body
	// fails the fetch. Zero means no limit.
	MaxBodyBytes int64
}

// NewHTTPFetcher builds an HTTPFetcher for upstream with the given timeout.
func NewHTTPFetcher(upstream string, timeout time.Duration) (*HTTPFetcher, error) {
	base, err := url.Parse(strings.TrimSpace(upstream))
	if err != nil {
		return nil, invalidInput(err, "parse upstream url")
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, invalidInput(nil, "upstream url must be absolute")
	}
	return &HTTPFetcher{
		Client:   &http.Client{Timeout: timeout},
		Upstream: base,
	}, nil
}

func (f *HTTPFetcher) Fetch(ctx context.Context, request *http.Request) (*cache.ResponseCacheEntry, error) {
	target := *f.Upstream
	target.Path = strings.TrimSuffix(target.Path, "/") + request.URL.Path
	target.RawPath = ""
	target.RawQuery = request.URL.RawQuery

	outbound, err := http.NewRequestWithContext(ctx, request.Method, target.String(), nil)
	if err != nil {
		return nil, networkFailure(err, target.String())
	}
	outbound.Header = stripHopByHop(request.Header)

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(outbound)
	if err != nil {
		return nil, networkFailure(err, target.String())
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	reader := io.Reader(resp.Body)
	if f.MaxBodyBytes > 0 {
		reader = io.LimitReader(resp.Body, f.MaxBodyBytes+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, networkFailure(err, target.String())
	}
	if f.MaxBodyBytes > 0 && int64(len(body)) > f.MaxBodyBytes {
		return nil, networkFailure(fmt.Errorf("response body exceeds %d bytes", f.MaxBodyBytes), target.String())
	}
	return &cache.ResponseCacheEntry{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header.Clone(),
		Body:       body,
		CreatedAt:  time.Now(),
	}, nil
}
