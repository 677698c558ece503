package offlinecache

import (
	"bytes"
	"net/http"
	"sync"
	"time"

	"github.com/spdeepak/offlinecache/cache"
)

// ResponseRecorder captures a response written by a handler that acts as the
// network for HandlerFetcher.
type ResponseRecorder struct {
	mu          sync.Mutex
	status      int
	header      http.Header
	body        *bytes.Buffer
	wroteHeader bool
}

func NewResponseRecorder() *ResponseRecorder {
	return &ResponseRecorder{
		status: http.StatusOK,
		header: make(http.Header),
		body:   &bytes.Buffer{},
	}
}

// Header implements http.ResponseWriter
func (r *ResponseRecorder) Header() http.Header {
	return r.header
}

// Write implements http.ResponseWriter
func (r *ResponseRecorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wroteHeader = true
	return r.body.Write(p)
}

// WriteHeader implements http.ResponseWriter. Only the first call counts,
// matching net/http.
func (r *ResponseRecorder) WriteHeader(status int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.wroteHeader {
		return
	}
	r.wroteHeader = true
	r.status = status
}

// Body returns the recorded body bytes.
func (r *ResponseRecorder) Body() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.body.Bytes()
}

func (r *ResponseRecorder) StatusCode() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Entry snapshots the recorded response.
func (r *ResponseRecorder) Entry(now time.Time) *cache.ResponseCacheEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return &cache.ResponseCacheEntry{
		StatusCode: r.status,
		Headers:    r.header.Clone(),
		Body:       append([]byte(nil), r.body.Bytes()...), // copy
		CreatedAt:  now,
	}
}
