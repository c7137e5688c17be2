package main

import (
	"fmt"
	"log/slog"
	"sync"

	"memledger/core"
)

// cachedBlockWindow is how many recent main-chain blocks stay in memory.
const cachedBlockWindow = 512

// ============================================================================
// Chain State
// ============================================================================

// Chain is the committed main chain: a Store plus an in-memory hash list
// and a window of recent blocks. It knows nothing about the mempool.
type Chain struct {
	mu sync.RWMutex

	store Store

	blocks   map[string]*core.Block // recent blocks cache
	byHeight []string               // index -> hash
	head     *core.Block

	log *slog.Logger
}

// NewChain loads chain state from store, writing the genesis block first
// when the store has no head.
func NewChain(store Store) (*Chain, error) {
	c := &Chain{
		store:  store,
		blocks: make(map[string]*core.Block),
		log:    slog.With("component", "chain"),
	}

	_, found, err := store.GetHead()
	if err != nil {
		return nil, fmt.Errorf("%w: read head: %v", core.ErrPersistence, err)
	}
	if !found {
		genesis, err := core.NewGenesisBlock()
		if err != nil {
			return nil, err
		}
		if err := store.PutBlock(genesis); err != nil {
			return nil, fmt.Errorf("%w: write genesis: %v", core.ErrPersistence, err)
		}
		c.log.Info("created genesis block", "hash", genesis.Hash)
	}

	if err := c.loadFromStorage(); err != nil {
		return nil, fmt.Errorf("failed to load chain state: %w", err)
	}
	return c, nil
}

// loadFromStorage loads chain state from disk
func (c *Chain) loadFromStorage() error {
	headHash, _, err := c.store.GetHead()
	if err != nil {
		return fmt.Errorf("%w: read head: %v", core.ErrPersistence, err)
	}
	hashes, err := c.store.BlockHashes()
	if err != nil {
		return fmt.Errorf("%w: read block index: %v", core.ErrPersistence, err)
	}
	if len(hashes) == 0 || hashes[len(hashes)-1] != headHash {
		return fmt.Errorf("%w: block index does not end at head %.16s", core.ErrPersistence, headHash)
	}

	head, err := c.store.GetBlock(headHash)
	if err != nil {
		return fmt.Errorf("%w: load head: %v", core.ErrPersistence, err)
	}
	if head == nil {
		return fmt.Errorf("%w: head block %.16s missing", core.ErrPersistence, headHash)
	}

	c.byHeight = hashes
	c.head = head
	c.blocks[head.Hash] = head
	return nil
}

// Store returns the underlying store
func (c *Chain) Store() Store {
	return c.store
}

// Close closes the chain storage
func (c *Chain) Close() error {
	if c.store != nil {
		return c.store.Close()
	}
	return nil
}

// Height returns the head block index
func (c *Chain) Height() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.head.Header.Index
}

// Length returns the number of blocks including genesis
func (c *Chain) Length() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byHeight)
}

// Head returns the head block
func (c *Chain) Head() *core.Block {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.head
}

// HeadHash returns the hash of the head block
func (c *Chain) HeadHash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.head.Hash
}

// Hashes returns a copy of the main-chain hash list
func (c *Chain) Hashes() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.byHeight))
	copy(out, c.byHeight)
	return out
}

// GetBlock returns nil, nil for an unknown hash.
func (c *Chain) GetBlock(hash string) (*core.Block, error) {
	c.mu.RLock()
	block, ok := c.blocks[hash]
	c.mu.RUnlock()
	if ok {
		return block, nil
	}

	block, err := c.store.GetBlock(hash)
	if err != nil {
		return nil, fmt.Errorf("%w: load block: %v", core.ErrPersistence, err)
	}
	return block, nil
}

// GetBlockByHeight returns nil, nil past the head.
func (c *Chain) GetBlockByHeight(index uint64) (*core.Block, error) {
	c.mu.RLock()
	if index >= uint64(len(c.byHeight)) {
		c.mu.RUnlock()
		return nil, nil
	}
	hash := c.byHeight[index]
	c.mu.RUnlock()
	return c.GetBlock(hash)
}

// Blocks loads every main-chain block in order.
func (c *Chain) Blocks() ([]*core.Block, error) {
	hashes := c.Hashes()
	out := make([]*core.Block, 0, len(hashes))
	for i, hash := range hashes {
		block, err := c.GetBlock(hash)
		if err != nil {
			return nil, err
		}
		if block == nil {
			return nil, fmt.Errorf("%w: block %d (%.16s) missing", core.ErrPersistence, i, hash)
		}
		out = append(out, block)
	}
	return out, nil
}

// Commit persists a sealed block and its UTXO changes, then advances the
// in-memory head. Nothing changes in memory if the store rejects it.
func (c *Chain) Commit(commit *BlockCommit) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.CommitBlock(commit); err != nil {
		return err
	}

	block := commit.Block
	c.byHeight = append(c.byHeight, block.Hash)
	c.head = block
	c.blocks[block.Hash] = block
	if n := len(c.byHeight); n > cachedBlockWindow {
		delete(c.blocks, c.byHeight[n-cachedBlockWindow-1])
	}
	return nil
}

// ============================================================================
// Verification
// ============================================================================

// ChainViolation is one failed check found by VerifyChain.
type ChainViolation struct {
	Height  uint64 `json:"height"`
	Hash    string `json:"hash"`
	Message string `json:"message"`
}

// VerifyChain re-reads every block from the store, bypassing the cache, and
// reports all violations. progress, if set, is called after each block.
func (c *Chain) VerifyChain(progress func(done, total int)) []ChainViolation {
	hashes, headMsg := c.verifyTargets()
	var violations []ChainViolation
	var prev *core.Block

	if headMsg != "" {
		violations = append(violations, ChainViolation{Height: uint64(len(hashes) - 1), Hash: hashes[len(hashes)-1], Message: headMsg})
	}

	for i, hash := range hashes {
		block, err := c.loadStored(hash)
		switch {
		case err != nil:
			violations = append(violations, ChainViolation{Height: uint64(i), Hash: hash, Message: err.Error()})
		case block == nil:
			violations = append(violations, ChainViolation{Height: uint64(i), Hash: hash, Message: "block missing from store"})
		default:
			if block.Hash != hash {
				violations = append(violations, ChainViolation{Height: uint64(i), Hash: hash, Message: "stored block hash differs from index"})
			}
			if block.Header.Index != uint64(i) {
				violations = append(violations, ChainViolation{Height: uint64(i), Hash: hash, Message: fmt.Sprintf("header index %d at position %d", block.Header.Index, i)})
			}
			if err := core.VerifyBlock(block, prev); err != nil {
				violations = append(violations, ChainViolation{Height: uint64(i), Hash: hash, Message: err.Error()})
			}
		}
		prev = block
		if progress != nil {
			progress(i+1, len(hashes))
		}
	}
	return violations
}

// IsChainValid re-reads the chain from the store and stops at the first
// failure.
func (c *Chain) IsChainValid() bool {
	hashes, headMsg := c.verifyTargets()
	if headMsg != "" {
		return false
	}
	var prev *core.Block
	for _, hash := range hashes {
		block, err := c.loadStored(hash)
		if err != nil || block == nil || block.Hash != hash {
			return false
		}
		if !core.IsBlockValid(block, prev) {
			return false
		}
		prev = block
	}
	return true
}

// loadStored reads a block from the store, never from the cache.
func (c *Chain) loadStored(hash string) (*core.Block, error) {
	block, err := c.store.GetBlock(hash)
	if err != nil {
		return nil, fmt.Errorf("%w: load block: %v", core.ErrPersistence, err)
	}
	return block, nil
}

// verifyTargets snapshots the main-chain hashes and compares the persisted
// head with the in-memory one. Commit holds the write lock across the store
// write, so both reads see the same commit. headMsg describes any mismatch.
func (c *Chain) verifyTargets() (hashes []string, headMsg string) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	hashes = make([]string, len(c.byHeight))
	copy(hashes, c.byHeight)

	head, found, err := c.store.GetHead()
	switch {
	case err != nil:
		headMsg = fmt.Sprintf("read stored head: %v", err)
	case !found:
		headMsg = "store has no head"
	case head != c.head.Hash:
		headMsg = fmt.Sprintf("stored head %.16s differs from chain head", head)
	}
	return hashes, headMsg
}
