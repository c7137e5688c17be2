package main

import (
	"fmt"
	"sync"
	"time"

	"memledger/core"
)

// MempoolConfig configures the mempool
type MempoolConfig struct {
	// MaxSize is the maximum number of transactions
	MaxSize int

	// MaxSizeBytes is the maximum total size in bytes
	MaxSizeBytes int
}

// DefaultMempoolConfig returns sensible defaults
func DefaultMempoolConfig() MempoolConfig {
	return MempoolConfig{
		MaxSize:      5000,
		MaxSizeBytes: 64 * 1024 * 1024, // 64 MB
	}
}

// ErrMempoolFull is returned when the pool is at its count or byte limit.
var ErrMempoolFull = fmt.Errorf("%w: mempool full", core.ErrValidation)

// MempoolEntry represents a transaction in the mempool
type MempoolEntry struct {
	Tx      *core.Transaction
	TxID    string
	Size    int       // canonical encoding length
	AddedAt time.Time // When added to mempool
	Height  uint64    // head index when added
}

// Mempool stores validated, uncommitted transactions in arrival order.
// Validation against chain state is the ledger's job; the pool only tracks
// ids and which outpoints its transactions claim.
type Mempool struct {
	mu sync.RWMutex

	config MempoolConfig

	txByID     map[string]*MempoolEntry
	txByOutput map[string]string // outpoint key -> claiming tx id
	order      []string          // tx ids, oldest first

	totalSize int
}

// NewMempool creates a new mempool
func NewMempool(cfg MempoolConfig) *Mempool {
	return &Mempool{
		config:     cfg,
		txByID:     make(map[string]*MempoolEntry),
		txByOutput: make(map[string]string),
	}
}

// AddTransaction appends a validated transaction.
func (m *Mempool) AddTransaction(tx *core.Transaction, size int, height uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if tx.IsReward() {
		return core.ErrRewardSubmission
	}
	if _, exists := m.txByID[tx.TxID]; exists {
		return fmt.Errorf("%w: %.16s already in mempool", core.ErrDuplicateTx, tx.TxID)
	}
	for _, in := range tx.Inputs {
		if owner, exists := m.txByOutput[in.OutpointKey()]; exists {
			return fmt.Errorf("%w: output %s claimed by pending tx %.16s", core.ErrDoubleSpend, in.OutpointKey(), owner)
		}
	}
	if m.config.MaxSize > 0 && len(m.txByID) >= m.config.MaxSize {
		return ErrMempoolFull
	}
	if m.config.MaxSizeBytes > 0 && m.totalSize+size > m.config.MaxSizeBytes {
		return fmt.Errorf("%w: size limit exceeded", ErrMempoolFull)
	}

	m.txByID[tx.TxID] = &MempoolEntry{
		Tx:      tx,
		TxID:    tx.TxID,
		Size:    size,
		AddedAt: time.Now(),
		Height:  height,
	}
	for _, in := range tx.Inputs {
		m.txByOutput[in.OutpointKey()] = tx.TxID
	}
	m.order = append(m.order, tx.TxID)
	m.totalSize += size
	return nil
}

// removeTxByID drops a tx from the indexes; the caller compacts order.
func (m *Mempool) removeTxByID(txID string) bool {
	entry, exists := m.txByID[txID]
	if !exists {
		return false
	}
	for _, in := range entry.Tx.Inputs {
		if m.txByOutput[in.OutpointKey()] == txID {
			delete(m.txByOutput, in.OutpointKey())
		}
	}
	m.totalSize -= entry.Size
	delete(m.txByID, txID)
	return true
}

func (m *Mempool) compactOrder() {
	kept := m.order[:0]
	for _, id := range m.order {
		if _, ok := m.txByID[id]; ok {
			kept = append(kept, id)
		}
	}
	m.order = kept
}

// RemoveTransactions drops the given ids and reports how many were present.
func (m *Mempool) RemoveTransactions(txIDs []string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for _, id := range txIDs {
		if m.removeTxByID(id) {
			removed++
		}
	}
	if removed > 0 {
		m.compactOrder()
	}
	return removed
}

// OnBlockCommitted removes every transaction the block included. Pool
// entries submitted after the block was assembled stay put.
func (m *Mempool) OnBlockCommitted(block *core.Block) int {
	ids := make([]string, 0, len(block.Transactions))
	for _, tx := range block.Transactions {
		if !tx.IsReward() {
			ids = append(ids, tx.TxID)
		}
	}
	return m.RemoveTransactions(ids)
}

// GetTransaction returns a pending transaction by id.
func (m *Mempool) GetTransaction(txID string) (*core.Transaction, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.txByID[txID]
	if !ok {
		return nil, false
	}
	return entry.Tx, true
}

// HasTransaction checks membership by id.
func (m *Mempool) HasTransaction(txID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.txByID[txID]
	return ok
}

// ClaimedBy reports which pending tx spends the outpoint, if any.
func (m *Mempool) ClaimedBy(outpoint string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.txByOutput[outpoint]
	return id, ok
}

// Snapshot returns the pending transactions oldest first.
func (m *Mempool) Snapshot() []*core.Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	txs := make([]*core.Transaction, 0, len(m.order))
	for _, id := range m.order {
		txs = append(txs, m.txByID[id].Tx)
	}
	return txs
}

// Size returns the number of transactions in mempool
func (m *Mempool) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.txByID)
}

// SizeBytes returns the total size of transactions
func (m *Mempool) SizeBytes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.totalSize
}

// MempoolStats contains mempool statistics
type MempoolStats struct {
	Count       int    `json:"count"`
	SizeBytes   int    `json:"size_bytes"`
	ClaimedOuts int    `json:"claimed_outputs"`
	OldestTx    string `json:"oldest_tx,omitempty"`
	OldestAge   string `json:"oldest_age,omitempty"`
}

// Stats returns current mempool statistics
func (m *Mempool) Stats() MempoolStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := MempoolStats{
		Count:       len(m.txByID),
		SizeBytes:   m.totalSize,
		ClaimedOuts: len(m.txByOutput),
	}
	if len(m.order) > 0 {
		oldest := m.txByID[m.order[0]]
		stats.OldestTx = oldest.TxID
		stats.OldestAge = time.Since(oldest.AddedAt).Truncate(time.Second).String()
	}
	return stats
}
