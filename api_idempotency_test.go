package main

import (
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestIdempotencyReplaysFirstResponse(t *testing.T) {
	s, l := mustCreateTestAPI(t, APIConfig{})
	handler := s.Handler()
	info := mustCreateAPIWallet(t, handler)
	headers := bearer(info.Address)
	headers[idempotencyHeader] = "memory-1"
	body := []byte(`{"content":"remember this once"}`)

	first := mustMakeHTTPJSONRequest(t, handler, http.MethodPost, "/transactions/memory", body, headers)
	if first.Code != http.StatusCreated {
		t.Fatalf("first: expected 201, got %d: %s", first.Code, first.Body.String())
	}
	second := mustMakeHTTPJSONRequest(t, handler, http.MethodPost, "/transactions/memory", body, headers)
	if second.Code != http.StatusCreated {
		t.Fatalf("replay: expected 201, got %d", second.Code)
	}
	if second.Header().Get("Idempotent-Replayed") != "true" {
		t.Fatal("replay not marked")
	}
	if first.Body.String() != second.Body.String() {
		t.Fatalf("replay body differs:\n%s\n%s", first.Body.String(), second.Body.String())
	}
	if got := l.Mempool().Size(); got != 1 {
		t.Fatalf("replay submitted again: mempool size %d", got)
	}
}

func TestIdempotencyKeyReuseWithDifferentBody(t *testing.T) {
	s, _ := mustCreateTestAPI(t, APIConfig{})
	handler := s.Handler()
	info := mustCreateAPIWallet(t, handler)
	headers := bearer(info.Address)
	headers[idempotencyHeader] = "k"

	rr := mustMakeHTTPJSONRequest(t, handler, http.MethodPost, "/transactions/memory", []byte(`{"content":"a"}`), headers)
	if rr.Code != http.StatusCreated {
		t.Fatalf("first: expected 201, got %d", rr.Code)
	}
	rr = mustMakeHTTPJSONRequest(t, handler, http.MethodPost, "/transactions/memory", []byte(`{"content":"b"}`), headers)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "idempotency key reuse") {
		t.Fatalf("unexpected body: %s", rr.Body.String())
	}
}

func TestIdempotencyCachesValidationFailures(t *testing.T) {
	s, l := mustCreateTestAPI(t, APIConfig{})
	handler := s.Handler()
	info := mustCreateAPIWallet(t, handler)
	headers := bearer(info.Address)
	headers[idempotencyHeader] = "empty"
	body := []byte(`{"content":"   "}`)

	first := mustMakeHTTPJSONRequest(t, handler, http.MethodPost, "/transactions/memory", body, headers)
	if first.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", first.Code)
	}
	second := mustMakeHTTPJSONRequest(t, handler, http.MethodPost, "/transactions/memory", body, headers)
	if second.Code != http.StatusBadRequest || second.Header().Get("Idempotent-Replayed") != "true" {
		t.Fatalf("expected replayed 400, got %d", second.Code)
	}
	if got := l.Mempool().Size(); got != 0 {
		t.Fatalf("mempool size = %d, want 0", got)
	}
}

func TestIdempotencyCacheStates(t *testing.T) {
	c := newIdempotencyCache(time.Minute, 10)
	now := time.Now()
	hashA := [32]byte{1}
	hashB := [32]byte{2}

	if state, _ := c.begin(now, "k", hashA); state != idemStart {
		t.Fatalf("first begin = %v, want start", state)
	}
	if state, _ := c.begin(now, "k", hashA); state != idemInFlight {
		t.Fatalf("concurrent begin = %v, want in-flight", state)
	}
	if state, _ := c.begin(now, "k", hashB); state != idemMismatch {
		t.Fatalf("different request = %v, want mismatch", state)
	}

	c.complete(now, "k", hashA, http.StatusCreated, []byte(`{"ok":true}`))
	state, cached := c.begin(now, "k", hashA)
	if state != idemReplay || cached.status != http.StatusCreated || string(cached.body) != `{"ok":true}` {
		t.Fatalf("unexpected replay: state=%v result=%+v", state, cached)
	}

	if state, _ := c.begin(now.Add(2*time.Minute), "k", hashA); state != idemStart {
		t.Fatalf("expired key = %v, want start", state)
	}
	c.abandon("k")
	if got := c.size(); got != 0 {
		t.Fatalf("size after abandon = %d, want 0", got)
	}
}

func TestIdempotencyEvictionSkipsInFlight(t *testing.T) {
	c := newIdempotencyCache(time.Hour, 2)
	now := time.Now()

	c.begin(now, "running-1", [32]byte{1})
	c.begin(now, "running-2", [32]byte{2})
	c.begin(now, "running-3", [32]byte{3})

	// Nothing completed yet, so nothing is evictable.
	if got := c.size(); got != 3 {
		t.Fatalf("size = %d, want 3", got)
	}

	c.complete(now, "running-1", [32]byte{1}, http.StatusCreated, nil)
	c.begin(now.Add(time.Second), "running-4", [32]byte{4})

	if state, _ := c.begin(now, "running-1", [32]byte{1}); state != idemStart {
		t.Fatalf("completed entry should have been evicted first, got %v", state)
	}
	for _, key := range []string{"running-2", "running-3", "running-4"} {
		if state, _ := c.begin(now, key, [32]byte{9}); state != idemMismatch {
			t.Fatalf("in-flight %s was evicted", key)
		}
	}
}
