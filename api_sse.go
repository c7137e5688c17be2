package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// handleEvents streams committed blocks via Server-Sent Events.
// Event types: connected, new_block
// GET /events
func (s *APIServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Disable write timeout for this long-lived connection.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		writeError(w, http.StatusInternalServerError, "failed to initialize SSE stream")
		return
	}

	blockCh, unsubscribe := s.ledger.SubscribeBlocks()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	chain := s.ledger.Chain()
	if err := sendSSE(w, flusher, "connected", map[string]any{
		"chain_height": chain.Height(),
		"head":         chain.HeadHash(),
	}); err != nil {
		s.log.Debug("SSE connected event write failed", "error", err)
		return
	}

	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case block, ok := <-blockCh:
			if !ok {
				return
			}
			if err := sendSSE(w, flusher, "new_block", map[string]any{
				"index":     block.Header.Index,
				"hash":      block.Hash,
				"timestamp": block.Header.Timestamp,
				"tx_count":  len(block.Transactions) - 1,
			}); err != nil {
				return
			}

		case <-keepalive.C:
			if _, err := fmt.Fprintf(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// sendSSE writes a single SSE event.
func sendSSE(w http.ResponseWriter, flusher http.Flusher, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
