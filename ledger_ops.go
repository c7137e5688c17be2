package main

import (
	"context"
	"fmt"

	"memledger/core"
	"memledger/wallet"
)

// Operations the assistant backend calls. Each is a thin composition of
// wallet construction and ledger admission; the HTTP layer maps them 1:1.

// WalletInfo is returned when a wallet is created or imported.
type WalletInfo struct {
	Address    string      `json:"address"`
	PrivateKey string      `json:"private_key"`
	Balance    core.Amount `json:"balance"`
}

// BlockSummary is the collaborator view of a block.
type BlockSummary struct {
	Hash         string              `json:"hash"`
	PreviousHash string              `json:"previous_hash"`
	Index        uint64              `json:"index"`
	Timestamp    int64               `json:"timestamp"`
	Difficulty   int                 `json:"difficulty"`
	Nonce        uint64              `json:"nonce"`
	MerkleRoot   string              `json:"merkle_root"`
	Transactions []*core.Transaction `json:"transactions"`
}

// ChainView is the full chain as returned by GetChain.
type ChainView struct {
	Length int            `json:"length"`
	Blocks []BlockSummary `json:"blocks"`
}

// MineResult reports a committed block. TxCount excludes the reward.
type MineResult struct {
	BlockHash  string `json:"block_hash"`
	BlockIndex uint64 `json:"block_index"`
	TxCount    int    `json:"tx_count"`
}

// MemoryReceipt identifies an anchored memory record. The memory id is the
// transaction id.
type MemoryReceipt struct {
	TxID     string `json:"tx_id"`
	MemoryID string `json:"memory_id"`
}

func summarizeBlock(b *core.Block) BlockSummary {
	txs := b.Transactions
	if txs == nil {
		txs = []*core.Transaction{}
	}
	return BlockSummary{
		Hash:         b.Hash,
		PreviousHash: b.Header.PreviousHash,
		Index:        b.Header.Index,
		Timestamp:    b.Header.Timestamp,
		Difficulty:   b.Header.Difficulty,
		Nonce:        b.Header.Nonce,
		MerkleRoot:   b.Header.MerkleRoot,
		Transactions: txs,
	}
}

// CreateWallet generates a wallet, or imports privateKeyHex when given, and
// registers it so later calls can act for its address.
func (l *Ledger) CreateWallet(privateKeyHex string) (*WalletInfo, error) {
	var (
		w   *wallet.Wallet
		err error
	)
	if privateKeyHex == "" {
		w, err = wallet.Generate()
	} else {
		w, err = wallet.Import(privateKeyHex)
	}
	if err != nil {
		return nil, err
	}
	w = l.wallets.Add(w)

	balance, err := l.GetBalance(w.Address())
	if err != nil {
		return nil, err
	}
	l.log.Info("wallet registered", "address", w.Address())
	return &WalletInfo{
		Address:    w.Address(),
		PrivateKey: w.ExportPrivateKey(),
		Balance:    balance,
	}, nil
}

// RegisterWallet adds an already-loaded wallet (for example from a keystore).
func (l *Ledger) RegisterWallet(w *wallet.Wallet) *wallet.Wallet {
	return l.wallets.Add(w)
}

// Wallet looks up a registered wallet.
func (l *Ledger) Wallet(address string) (*wallet.Wallet, error) {
	w, ok := l.wallets.Get(address)
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrWalletNotFound, address)
	}
	return w, nil
}

// SubmitTransfer sends amount from the registered wallet to recipient.
func (l *Ledger) SubmitTransfer(from, recipient string, amount core.Amount, data map[string]any) (string, error) {
	w, err := l.Wallet(from)
	if err != nil {
		return "", err
	}
	payload, err := core.NormalizePayload(data)
	if err != nil {
		return "", err
	}
	tx, err := l.BuildAndSubmitTransfer(w, recipient, amount, payload)
	if err != nil {
		return "", err
	}
	return tx.TxID, nil
}

// SubmitMemory anchors a memory record for the registered wallet.
func (l *Ledger) SubmitMemory(from string, rec wallet.MemoryRecord) (*MemoryReceipt, error) {
	w, err := l.Wallet(from)
	if err != nil {
		return nil, err
	}
	tx, err := w.CreateMemoryTransaction(rec)
	if err != nil {
		return nil, err
	}
	if err := l.SubmitTransaction(tx); err != nil {
		return nil, err
	}
	return &MemoryReceipt{TxID: tx.TxID, MemoryID: tx.TxID}, nil
}

// SubmitFeedback anchors a feedback record for the registered wallet.
func (l *Ledger) SubmitFeedback(from string, rec wallet.FeedbackRecord) (string, error) {
	w, err := l.Wallet(from)
	if err != nil {
		return "", err
	}
	tx, err := w.CreateFeedbackTransaction(rec)
	if err != nil {
		return "", err
	}
	if err := l.SubmitTransaction(tx); err != nil {
		return "", err
	}
	return tx.TxID, nil
}

// Mine mines the pending transactions, paying the reward to the registered
// wallet.
func (l *Ledger) Mine(ctx context.Context, address string) (*MineResult, error) {
	w, err := l.Wallet(address)
	if err != nil {
		return nil, err
	}
	block, err := l.MineBlock(ctx, w.Address())
	if err != nil {
		return nil, err
	}
	return &MineResult{
		BlockHash:  block.Hash,
		BlockIndex: block.Header.Index,
		TxCount:    len(block.Transactions) - 1,
	}, nil
}

// GetChain returns every block from genesis to head.
func (l *Ledger) GetChain() (*ChainView, error) {
	blocks, err := l.chain.Blocks()
	if err != nil {
		return nil, err
	}
	view := &ChainView{Length: len(blocks), Blocks: make([]BlockSummary, len(blocks))}
	for i, b := range blocks {
		view.Blocks[i] = summarizeBlock(b)
	}
	return view, nil
}

// GetBlock returns one block by hash.
func (l *Ledger) GetBlock(hash string) (*BlockSummary, error) {
	block, err := l.chain.GetBlock(hash)
	if err != nil {
		return nil, err
	}
	if block == nil {
		return nil, fmt.Errorf("%w: %s", core.ErrBlockNotFound, hash)
	}
	summary := summarizeBlock(block)
	return &summary, nil
}

// ListPending returns mempool transactions oldest first.
func (l *Ledger) ListPending() []*core.Transaction {
	return l.Pending()
}

// HealthStatus is the liveness summary.
type HealthStatus struct {
	Status              string `json:"status"`
	ChainLength         int    `json:"chain_length"`
	PendingTransactions int    `json:"pending_transactions"`
	MinerRunning        bool   `json:"miner_running"`
}

// Health reports chain length and mempool size.
func (l *Ledger) Health() HealthStatus {
	return HealthStatus{
		Status:              "healthy",
		ChainLength:         l.chain.Length(),
		PendingTransactions: l.mempool.Size(),
		MinerRunning:        l.miner.IsRunning(),
	}
}
