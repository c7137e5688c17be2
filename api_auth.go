package main

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"memledger/core"
	"memledger/wallet"
)

const apiTokenHeader = "X-Api-Token"

// generateToken creates a 32-byte random hex token.
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// writeCookie writes the API token to <dataDir>/api.cookie with 0600 perms.
func writeCookie(dataDir, token string) error {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dataDir, DefaultAPICookieName), []byte(token), 0600)
}

// readCookie returns the token a running daemon wrote, or "" if there is none.
func readCookie(dataDir string) string {
	data, err := os.ReadFile(filepath.Join(dataDir, DefaultAPICookieName))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func deleteCookie(dataDir string) {
	os.Remove(filepath.Join(dataDir, DefaultAPICookieName))
}

// tokenMiddleware rejects requests without the daemon's API token. The
// health probe stays open.
func tokenMiddleware(token string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		provided := r.Header.Get(apiTokenHeader)
		if subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireWallet resolves the acting wallet from "Authorization: Bearer
// <address>". It writes the error response and returns nil when the header
// is missing or names no registered wallet.
func (s *APIServer) requireWallet(w http.ResponseWriter, r *http.Request) *wallet.Wallet {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		writeError(w, http.StatusUnauthorized, "missing or invalid authorization header")
		return nil
	}
	address := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	if err := core.ValidateAddress(address); err != nil {
		writeError(w, http.StatusUnauthorized, "missing or invalid authorization header")
		return nil
	}
	wal, err := s.ledger.Wallet(address)
	if err != nil {
		writeError(w, http.StatusNotFound, "wallet not found")
		return nil
	}
	return wal
}
