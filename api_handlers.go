package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"memledger/core"
	"memledger/wallet"
)

// ============================================================================
// Wallets
// ============================================================================

// handleCreateWallet generates a wallet, or imports the given key.
// POST /wallets
func (s *APIServer) handleCreateWallet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PrivateKey string `json:"private_key"`
	}
	if !decodeOptionalBody(w, r, &req) {
		return
	}

	info, err := s.ledger.CreateWallet(strings.TrimSpace(req.PrivateKey))
	if err != nil {
		if errors.Is(err, core.ErrInvalidKey) {
			writeError(w, http.StatusBadRequest, "invalid private key")
			return
		}
		s.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

// handleBalance returns the confirmed balance of any address.
// GET /wallets/{address}/balance
func (s *APIServer) handleBalance(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")
	balance, err := s.ledger.GetBalance(address)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"address": address,
		"balance": balance,
	})
}

// ============================================================================
// Submission
// ============================================================================

// handleTransfer sends coins from the bearer wallet.
// POST /transactions
func (s *APIServer) handleTransfer(w http.ResponseWriter, r *http.Request) {
	wal := s.requireWallet(w, r)
	if wal == nil {
		return
	}

	var req struct {
		Recipient string         `json:"recipient"`
		Amount    *core.Amount   `json:"amount"`
		Data      map[string]any `json:"data"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Recipient == "" || req.Amount == nil {
		writeError(w, http.StatusBadRequest, "recipient and amount are required")
		return
	}

	txID, err := s.ledger.SubmitTransfer(wal.Address(), req.Recipient, *req.Amount, req.Data)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "Transaction submitted",
		"tx_id":   txID,
	})
}

// handleMemory anchors a memory record.
// POST /transactions/memory
func (s *APIServer) handleMemory(w http.ResponseWriter, r *http.Request) {
	wal := s.requireWallet(w, r)
	if wal == nil {
		return
	}

	var req struct {
		Content      string         `json:"content"`
		EmbeddingRef string         `json:"embedding_ref"`
		ContentType  string         `json:"content_type"`
		Metadata     map[string]any `json:"metadata"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	receipt, err := s.ledger.SubmitMemory(wal.Address(), wallet.MemoryRecord{
		Content:      req.Content,
		EmbeddingRef: req.EmbeddingRef,
		ContentType:  req.ContentType,
		Metadata:     req.Metadata,
	})
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message":   "Memory transaction submitted",
		"tx_id":     receipt.TxID,
		"memory_id": receipt.MemoryID,
	})
}

// handleFeedback anchors a feedback record.
// POST /transactions/feedback
func (s *APIServer) handleFeedback(w http.ResponseWriter, r *http.Request) {
	wal := s.requireWallet(w, r)
	if wal == nil {
		return
	}

	var req struct {
		ResponseID   string   `json:"response_id"`
		FeedbackType string   `json:"feedback_type"`
		Rating       *float64 `json:"rating"`
		Comment      string   `json:"comment"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	txID, err := s.ledger.SubmitFeedback(wal.Address(), wallet.FeedbackRecord{
		ResponseID:   req.ResponseID,
		FeedbackType: req.FeedbackType,
		Rating:       req.Rating,
		Comment:      req.Comment,
	})
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "Feedback transaction submitted",
		"tx_id":   txID,
	})
}

// handlePending lists mempool transactions oldest first.
// GET /transactions/pending
func (s *APIServer) handlePending(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ledger.ListPending())
}

// ============================================================================
// Mining
// ============================================================================

// handleMine seals the pending transactions, rewarding the bearer wallet.
// POST /mine
func (s *APIServer) handleMine(w http.ResponseWriter, r *http.Request) {
	wal := s.requireWallet(w, r)
	if wal == nil {
		return
	}

	res, err := s.ledger.Mine(r.Context(), wal.Address())
	if err != nil {
		if errors.Is(err, ErrNothingToMine) {
			writeError(w, http.StatusBadRequest, "No transactions to mine")
			return
		}
		s.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":     "New block mined",
		"block_hash":  res.BlockHash,
		"block_index": res.BlockIndex,
		"tx_count":    res.TxCount,
	})
}

// handleMiningStatus reports miner counters.
// GET /mining
func (s *APIServer) handleMiningStatus(w http.ResponseWriter, r *http.Request) {
	miner := s.ledger.Miner()
	stats := miner.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"running":      miner.IsRunning(),
		"threads":      miner.Threads(),
		"hashrate":     miner.HashRate(),
		"hash_count":   stats.HashCount,
		"blocks_found": stats.BlocksFound,
		"difficulty":   s.ledger.Config().Difficulty,
	})
}

// ============================================================================
// Chain
// ============================================================================

// handleChain returns every block from genesis to head.
// GET /chain
func (s *APIServer) handleChain(w http.ResponseWriter, r *http.Request) {
	view, err := s.ledger.GetChain()
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleChainValid re-verifies the chain.
// GET /chain/valid
func (s *APIServer) handleChainValid(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"valid":  s.ledger.IsChainValid(),
		"length": s.ledger.Chain().Length(),
	})
}

// handleBlock returns a block by hash.
// GET /block/{hash}
func (s *APIServer) handleBlock(w http.ResponseWriter, r *http.Request) {
	hash := strings.ToLower(r.PathValue("hash"))
	if !core.IsHexDigest(hash) {
		writeError(w, http.StatusBadRequest, "hash must be 64 hex characters")
		return
	}
	block, err := s.ledger.GetBlock(hash)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, block)
}

// handleHealth is the liveness probe.
// GET /health
func (s *APIServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ledger.Health())
}

// ============================================================================
// Helpers
// ============================================================================

// statusFor maps a ledger error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrValidation), errors.Is(err, core.ErrInvalidKey):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrConsensus):
		return http.StatusConflict
	case errors.Is(err, core.ErrSealExhausted),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeLedgerError writes err with its mapped status. Internal failures are
// logged in full and answered with a generic message.
func (s *APIServer) writeLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.log.Error("request failed",
			"id", requestIDFrom(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"error", err)
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

// decodeBody decodes a JSON request body, keeping numbers as json.Number.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// decodeOptionalBody is decodeBody that accepts an empty body.
func decodeOptionalBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
