package main

import (
	"testing"

	"memledger/core"

	bolt "go.etcd.io/bbolt"
)

func TestChainWritesGenesisOnce(t *testing.T) {
	dataDir := t.TempDir()
	store := mustCreateTestStore(t, dataDir)
	chain, err := NewChain(store)
	if err != nil {
		t.Fatalf("new chain: %v", err)
	}
	genesisHash := chain.HeadHash()
	if err := chain.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	chain, err = NewChain(mustCreateTestStore(t, dataDir))
	if err != nil {
		t.Fatalf("reopen chain: %v", err)
	}
	defer chain.Close()
	if chain.HeadHash() != genesisHash || chain.Length() != 1 {
		t.Fatalf("reopen rewrote genesis: head=%.16s length=%d", chain.HeadHash(), chain.Length())
	}
}

func TestChainCommitAndLookup(t *testing.T) {
	chain, err := NewChain(mustCreateTestStore(t, t.TempDir()))
	if err != nil {
		t.Fatalf("new chain: %v", err)
	}
	defer chain.Close()

	genesis := chain.Head()
	block := mustSealedChild(t, genesis, testAddress(t))
	if err := chain.Commit(blockCommitFor(block)); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if chain.Height() != 1 || chain.HeadHash() != block.Hash {
		t.Fatalf("head not advanced: height=%d hash=%.16s", chain.Height(), chain.HeadHash())
	}
	byHeight, err := chain.GetBlockByHeight(1)
	if err != nil || byHeight == nil || byHeight.Hash != block.Hash {
		t.Fatalf("GetBlockByHeight(1) = %v (err=%v)", byHeight, err)
	}
	if past, err := chain.GetBlockByHeight(2); err != nil || past != nil {
		t.Fatalf("GetBlockByHeight past head = %v, %v; want nil, nil", past, err)
	}

	blocks, err := chain.Blocks()
	if err != nil || len(blocks) != 2 || blocks[0].Hash != genesis.Hash {
		t.Fatalf("Blocks() returned %d blocks (err=%v)", len(blocks), err)
	}
}

func TestChainCommitFailureKeepsMemoryState(t *testing.T) {
	store := &failingStore{Store: mustCreateTestStore(t, t.TempDir())}
	chain, err := NewChain(store)
	if err != nil {
		t.Fatalf("new chain: %v", err)
	}
	defer chain.Close()

	genesis := chain.Head()
	store.fail.Store(true)
	if err := chain.Commit(blockCommitFor(mustSealedChild(t, genesis, testAddress(t)))); err == nil {
		t.Fatal("expected commit failure")
	}
	if chain.HeadHash() != genesis.Hash || chain.Length() != 1 {
		t.Fatal("in-memory head moved on failed commit")
	}
}

func mustCommitChildren(t *testing.T, chain *Chain, n int) []*core.Block {
	t.Helper()

	prev := chain.Head()
	out := make([]*core.Block, 0, n)
	for i := 0; i < n; i++ {
		next := mustSealedChild(t, prev, testAddress(t))
		if err := chain.Commit(blockCommitFor(next)); err != nil {
			t.Fatalf("commit %d: %v", i, err)
		}
		out = append(out, next)
		prev = next
	}
	return out
}

func TestVerifyChainReportsProgressAndViolations(t *testing.T) {
	store := mustCreateTestStore(t, t.TempDir())
	chain, err := NewChain(store)
	if err != nil {
		t.Fatalf("new chain: %v", err)
	}
	defer chain.Close()
	blocks := mustCommitChildren(t, chain, 3)

	var calls, lastDone, lastTotal int
	violations := chain.VerifyChain(func(done, total int) {
		calls++
		lastDone, lastTotal = done, total
	})
	if len(violations) != 0 {
		t.Fatalf("unexpected violations: %+v", violations)
	}
	if calls != 4 || lastDone != 4 || lastTotal != 4 {
		t.Fatalf("progress calls=%d last=%d/%d, want 4 calls ending 4/4", calls, lastDone, lastTotal)
	}

	// Block 2 is still cached; only the stored copy changes.
	mustRewriteStoredBlock(t, store, blocks[1].Hash, func(b *core.Block) {
		b.Header.Nonce++
	})
	violations = chain.VerifyChain(nil)
	if len(violations) == 0 || violations[0].Height != 2 {
		t.Fatalf("expected violation at height 2, got %+v", violations)
	}
	if chain.IsChainValid() {
		t.Fatal("IsChainValid should fail on the rewritten block")
	}
}

func TestVerifyChainIgnoresCachedCopies(t *testing.T) {
	chain, err := NewChain(mustCreateTestStore(t, t.TempDir()))
	if err != nil {
		t.Fatalf("new chain: %v", err)
	}
	defer chain.Close()
	blocks := mustCommitChildren(t, chain, 2)

	cached, err := chain.GetBlock(blocks[0].Hash)
	if err != nil || cached == nil {
		t.Fatalf("load block 1: %v", err)
	}
	cached.Header.Nonce++
	defer func() { cached.Header.Nonce-- }()

	if !chain.IsChainValid() {
		t.Fatal("verification read the cached block instead of the store")
	}
}

func TestVerifyChainDetectsStoredHeadMismatch(t *testing.T) {
	store := mustCreateTestStore(t, t.TempDir())
	chain, err := NewChain(store)
	if err != nil {
		t.Fatalf("new chain: %v", err)
	}
	defer chain.Close()
	blocks := mustCommitChildren(t, chain, 2)

	err = store.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).Put(metaKeyHead, []byte(blocks[0].Hash))
	})
	if err != nil {
		t.Fatalf("rewrite head: %v", err)
	}

	if chain.IsChainValid() {
		t.Fatal("IsChainValid ignored the moved stored head")
	}
	violations := chain.VerifyChain(nil)
	if len(violations) != 1 || violations[0].Height != 2 {
		t.Fatalf("expected one head violation at height 2, got %+v", violations)
	}
}
