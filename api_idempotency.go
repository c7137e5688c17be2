package main

import (
	"bytes"
	"crypto/sha256"
	"io"
	"net/http"
	"sync"
	"time"
)

const idempotencyHeader = "Idempotency-Key"

type idemState int

const (
	idemStart    idemState = iota // caller runs the request, then complete or abandon
	idemReplay                    // cached response returned
	idemInFlight                  // same key still running
	idemMismatch                  // key reused for a different request
)

type idempotencyResult struct {
	status int
	body   []byte
}

type idempotencyEntry struct {
	createdAt time.Time
	reqHash   [32]byte
	inFlight  bool
	result    idempotencyResult
}

// idempotencyCache remembers submit responses by Idempotency-Key so a
// retried POST does not submit a second transaction.
type idempotencyCache struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	entries    map[string]*idempotencyEntry
}

func newIdempotencyCache(ttl time.Duration, maxEntries int) *idempotencyCache {
	return &idempotencyCache{
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[string]*idempotencyEntry),
	}
}

func (c *idempotencyCache) begin(now time.Time, key string, reqHash [32]byte) (idemState, idempotencyResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pruneLocked(now)

	if e, ok := c.entries[key]; ok {
		switch {
		case e.reqHash != reqHash:
			return idemMismatch, idempotencyResult{}
		case e.inFlight:
			return idemInFlight, idempotencyResult{}
		default:
			return idemReplay, e.result
		}
	}

	c.entries[key] = &idempotencyEntry{createdAt: now, reqHash: reqHash, inFlight: true}
	c.evictLocked()
	return idemStart, idempotencyResult{}
}

func (c *idempotencyCache) complete(now time.Time, key string, reqHash [32]byte, status int, body []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return
	}
	if e.reqHash != reqHash {
		delete(c.entries, key)
		return
	}
	e.createdAt = now
	e.inFlight = false
	e.result = idempotencyResult{status: status, body: append([]byte(nil), body...)}
}

func (c *idempotencyCache) abandon(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// pruneLocked drops expired completed entries; in-flight ones stay until
// their request finishes.
func (c *idempotencyCache) pruneLocked(now time.Time) {
	if c.ttl <= 0 {
		return
	}
	for k, e := range c.entries {
		if !e.inFlight && now.Sub(e.createdAt) > c.ttl {
			delete(c.entries, k)
		}
	}
}

// evictLocked trims the oldest completed entries down to maxEntries.
func (c *idempotencyCache) evictLocked() {
	for c.maxEntries > 0 && len(c.entries) > c.maxEntries {
		var oldestKey string
		var oldest time.Time
		for k, e := range c.entries {
			if e.inFlight {
				continue
			}
			if oldestKey == "" || e.createdAt.Before(oldest) {
				oldestKey, oldest = k, e.createdAt
			}
		}
		if oldestKey == "" {
			return
		}
		delete(c.entries, oldestKey)
	}
}

func (c *idempotencyCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// bodyRecorder tees the response so it can be cached.
type bodyRecorder struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
}

func (r *bodyRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *bodyRecorder) Write(p []byte) (int, error) {
	r.buf.Write(p)
	return r.ResponseWriter.Write(p)
}

// idempotent wraps a submit handler. Requests without an Idempotency-Key
// pass straight through. The key is scoped to the acting wallet and the
// route, and a replay returns the first response byte for byte. Server
// errors are not cached.
func (s *APIServer) idempotent(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(idempotencyHeader)
		if key == "" {
			next(w, r)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "failed to read request body")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		h := sha256.New()
		h.Write([]byte(r.URL.Path))
		h.Write([]byte{0})
		h.Write([]byte(r.Header.Get("Authorization")))
		h.Write([]byte{0})
		h.Write(body)
		var reqHash [32]byte
		copy(reqHash[:], h.Sum(nil))

		state, cached := s.idem.begin(time.Now(), key, reqHash)
		switch state {
		case idemReplay:
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Idempotent-Replayed", "true")
			w.WriteHeader(cached.status)
			w.Write(cached.body)
			return
		case idemInFlight:
			writeError(w, http.StatusConflict, "request with this idempotency key is in progress")
			return
		case idemMismatch:
			writeError(w, http.StatusConflict, "idempotency key reuse with different request")
			return
		}

		rec := &bodyRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		if rec.status >= http.StatusInternalServerError {
			s.idem.abandon(key)
			return
		}
		s.idem.complete(time.Now(), key, reqHash, rec.status, rec.buf.Bytes())
	})
}
