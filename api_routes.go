package main

import "net/http"

func (s *APIServer) registerRoutes(mux *http.ServeMux) {
	// Wallets
	mux.HandleFunc("POST /wallets", s.handleCreateWallet)
	mux.HandleFunc("GET /wallets/{address}/balance", s.handleBalance)

	// Submission (wallet selected by bearer address)
	mux.Handle("POST /transactions", s.idempotent(s.handleTransfer))
	mux.Handle("POST /transactions/memory", s.idempotent(s.handleMemory))
	mux.Handle("POST /transactions/feedback", s.idempotent(s.handleFeedback))
	mux.HandleFunc("GET /transactions/pending", s.handlePending)

	// Mining
	mux.HandleFunc("POST /mine", s.handleMine)
	mux.HandleFunc("GET /mining", s.handleMiningStatus)

	// Chain
	mux.HandleFunc("GET /chain", s.handleChain)
	mux.HandleFunc("GET /chain/valid", s.handleChainValid)
	mux.HandleFunc("GET /block/{hash}", s.handleBlock)

	// Operations
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /events", s.handleEvents)
	if s.config.Metrics {
		mux.Handle("GET /metrics", s.ledger.Metrics().Handler())
	}
}
