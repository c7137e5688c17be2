package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"memledger/core"
	"memledger/wallet"
)

// testLedgerConfig mines at difficulty 1 so tests seal in a few hashes.
func testLedgerConfig() LedgerConfig {
	cfg := DefaultLedgerConfig()
	cfg.Difficulty = 1
	cfg.Miner.Threads = 2
	return cfg
}

func mustCreateTestStore(t *testing.T, dataDir string) *BoltStorage {
	t.Helper()

	store, err := NewBoltStorage(dataDir)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	return store
}

func mustCreateTestLedger(t *testing.T) *Ledger {
	t.Helper()
	return mustOpenTestLedger(t, mustCreateTestStore(t, t.TempDir()))
}

func mustOpenTestLedger(t *testing.T, store Store) *Ledger {
	t.Helper()

	l, err := NewLedger(store, testLedgerConfig())
	if err != nil {
		_ = store.Close()
		t.Fatalf("failed to create ledger: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func mustCreateWallet(t *testing.T, l *Ledger) *wallet.Wallet {
	t.Helper()

	info, err := l.CreateWallet("")
	if err != nil {
		t.Fatalf("failed to create wallet: %v", err)
	}
	w, err := l.Wallet(info.Address)
	if err != nil {
		t.Fatalf("wallet not registered: %v", err)
	}
	return w
}

func mustSubmitMemory(t *testing.T, l *Ledger, w *wallet.Wallet, content string) *core.Transaction {
	t.Helper()

	tx, err := w.CreateMemoryTransaction(wallet.MemoryRecord{Content: content})
	if err != nil {
		t.Fatalf("failed to build memory tx: %v", err)
	}
	if err := l.SubmitTransaction(tx); err != nil {
		t.Fatalf("failed to submit memory tx: %v", err)
	}
	return tx
}

func mustMine(t *testing.T, l *Ledger, address string) *core.Block {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	block, err := l.MineBlock(ctx, address)
	if err != nil {
		t.Fatalf("failed to mine block: %v", err)
	}
	return block
}

var fundCounter atomic.Int64

// mustFund credits one block reward to w by anchoring a memory record and
// mining it.
func mustFund(t *testing.T, l *Ledger, w *wallet.Wallet) {
	t.Helper()

	n := fundCounter.Add(1)
	mustSubmitMemory(t, l, w, fmt.Sprintf("funding %s #%d", w.Address(), n))
	mustMine(t, l, w.Address())
}

func mustBalance(t *testing.T, l *Ledger, address string) core.Amount {
	t.Helper()

	balance, err := l.GetBalance(address)
	if err != nil {
		t.Fatalf("failed to read balance: %v", err)
	}
	return balance
}

func assertHeadUnchanged(t *testing.T, l *Ledger, wantHash string, wantHeight uint64) {
	t.Helper()

	if got := l.Chain().Height(); got != wantHeight {
		t.Fatalf("head height changed: got %d, want %d", got, wantHeight)
	}
	if got := l.Chain().HeadHash(); got != wantHash {
		t.Fatalf("head hash changed: got %.16s, want %.16s", got, wantHash)
	}

	storeHash, found, err := l.Chain().Store().GetHead()
	if err != nil || !found {
		t.Fatalf("expected stored head to exist (found=%v err=%v)", found, err)
	}
	if storeHash != wantHash {
		t.Fatalf("stored head changed: got %.16s, want %.16s", storeHash, wantHash)
	}
}

// failingStore rejects CommitBlock while fail is set.
type failingStore struct {
	Store
	fail atomic.Bool
}

var errInjectedCommit = errors.New("injected commit failure")

func (s *failingStore) CommitBlock(commit *BlockCommit) error {
	if s.fail.Load() {
		return errInjectedCommit
	}
	return s.Store.CommitBlock(commit)
}

func mustCreateTestAPI(t *testing.T, cfg APIConfig) (*APIServer, *Ledger) {
	t.Helper()

	l := mustCreateTestLedger(t)
	if cfg.DataDir == "" {
		cfg.DataDir = t.TempDir()
	}
	return NewAPIServer(l, cfg), l
}

func mustMakeHTTPJSONRequest(
	t *testing.T,
	handler http.Handler,
	method, path string,
	body []byte,
	headers map[string]string,
) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func bearer(address string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + address}
}

func testAddress(t *testing.T) string {
	t.Helper()

	w, err := wallet.Generate()
	if err != nil {
		t.Fatalf("failed to generate wallet: %v", err)
	}
	defer w.Zero()
	return w.Address()
}
