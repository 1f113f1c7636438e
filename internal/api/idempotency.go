package api

import (
	"bytes"
	"net/http"
	"strings"
	"sync"
	"time"
)

const idempotencyHeader = "Idempotency-Key"

type cachedResponse struct {
	status  int
	body    []byte
	pending bool
	at      time.Time
}

// idempotencyCache replays the first response for a repeated Idempotency-Key
// so a CLI resending queued writes cannot apply them twice.
type idempotencyCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]*cachedResponse
}

func newIdempotencyCache(ttl time.Duration, now func() time.Time) *idempotencyCache {
	return &idempotencyCache{ttl: ttl, now: now, entries: map[string]*cachedResponse{}}
}

func (c *idempotencyCache) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get(idempotencyHeader))
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}
		key = r.Method + " " + r.URL.Path + " " + key

		entry, ok := c.reserve(key)
		if !ok {
			if entry == nil {
				writeError(w, http.StatusConflict, "request with this idempotency key is in progress")
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Idempotent-Replay", "true")
			w.WriteHeader(entry.status)
			_, _ = w.Write(entry.body)
			return
		}

		rec := &recordingWriter{ResponseWriter: w, status: http.StatusOK}
		defer func() {
			if p := recover(); p != nil {
				c.finish(key, http.StatusInternalServerError, nil)
				panic(p)
			}
		}()
		next.ServeHTTP(rec, r)
		c.finish(key, rec.status, rec.buf.Bytes())
	})
}

// reserve claims key for a new request. It returns the finished entry and
// false for a replay, or nil and false while another request holds the key.
func (c *idempotencyCache) reserve(key string) (*cachedResponse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for k, e := range c.entries {
		if !e.pending && now.Sub(e.at) > c.ttl {
			delete(c.entries, k)
		}
	}
	if e, ok := c.entries[key]; ok {
		if e.pending {
			return nil, false
		}
		copied := *e
		return &copied, false
	}
	c.entries[key] = &cachedResponse{pending: true, at: now}
	return nil, true
}

// finish stores the response. Server errors are dropped so the caller can
// retry with the same key.
func (c *idempotencyCache) finish(key string, status int, body []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if status >= http.StatusInternalServerError {
		delete(c.entries, key)
		return
	}
	c.entries[key] = &cachedResponse{
		status: status,
		body:   append([]byte(nil), body...),
		at:     c.now(),
	}
}

type recordingWriter struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
}

func (w *recordingWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *recordingWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	return w.ResponseWriter.Write(p)
}
