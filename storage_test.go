package main

import (
	"context"
	"errors"
	"testing"

	"memledger/core"
)

var storeBackends = map[string]func(t *testing.T, dataDir string) Store{
	"bolt": func(t *testing.T, dataDir string) Store {
		return mustCreateTestStore(t, dataDir)
	},
	"sqlite": func(t *testing.T, dataDir string) Store {
		t.Helper()
		store, err := NewSQLiteStorage(dataDir)
		if err != nil {
			t.Fatalf("failed to open sqlite store: %v", err)
		}
		return store
	},
}

// forEachStore runs fn against a fresh store of every backend.
func forEachStore(t *testing.T, fn func(t *testing.T, store Store, dataDir string)) {
	for name, open := range storeBackends {
		t.Run(name, func(t *testing.T) {
			dataDir := t.TempDir()
			store := open(t, dataDir)
			defer store.Close()
			fn(t, store, dataDir)
		})
	}
}

// mustSealedChild builds and seals a reward-only child of prev at difficulty 1.
func mustSealedChild(t *testing.T, prev *core.Block, address string) *core.Block {
	t.Helper()

	reward, err := core.NewRewardTransaction(address, core.Coins(50), prev.Header.Index+1, prev.Header.Timestamp+1)
	if err != nil {
		t.Fatalf("failed to build reward: %v", err)
	}
	txs := []*core.Transaction{reward}
	block := &core.Block{
		Header: core.BlockHeader{
			Version:      prev.Header.Version,
			Index:        prev.Header.Index + 1,
			PreviousHash: prev.Hash,
			Timestamp:    prev.Header.Timestamp + 1,
			Difficulty:   1,
			MerkleRoot:   core.MerkleRoot(txs),
		},
		Transactions: txs,
	}
	if err := core.Seal(context.Background(), block, 1<<20); err != nil {
		t.Fatalf("failed to seal block: %v", err)
	}
	return block
}

func mustGenesis(t *testing.T, store Store) *core.Block {
	t.Helper()

	genesis, err := core.NewGenesisBlock()
	if err != nil {
		t.Fatalf("failed to build genesis: %v", err)
	}
	if err := store.PutBlock(genesis); err != nil {
		t.Fatalf("failed to store genesis: %v", err)
	}
	return genesis
}

func TestStoreCommitAdvancesHeadAndUTXOs(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store, _ string) {
		genesis := mustGenesis(t, store)
		block := mustSealedChild(t, genesis, testAddress(t))
		if err := store.CommitBlock(blockCommitFor(block)); err != nil {
			t.Fatalf("commit: %v", err)
		}

		head, found, err := store.GetHead()
		if err != nil || !found || head != block.Hash {
			t.Fatalf("head = %.16s (found=%v err=%v), want %.16s", head, found, err, block.Hash)
		}
		hashes, err := store.BlockHashes()
		if err != nil || len(hashes) != 2 || hashes[0] != genesis.Hash || hashes[1] != block.Hash {
			t.Fatalf("unexpected hash list %v (err=%v)", hashes, err)
		}

		stored, err := store.GetBlock(block.Hash)
		if err != nil || stored == nil {
			t.Fatalf("block missing (err=%v)", err)
		}
		if hash, _ := stored.ComputeHash(); hash != block.Hash {
			t.Fatal("stored block does not hash to its key")
		}

		key := core.OutpointKey(block.Transactions[0].TxID, 0)
		entry, err := store.GetUTXO(key)
		if err != nil || entry == nil || entry.Spent || entry.Output.Amount != core.Coins(50) {
			t.Fatalf("unexpected reward utxo %+v (err=%v)", entry, err)
		}

		if missing, err := store.GetBlock(core.ZeroHash); err != nil || missing != nil {
			t.Fatalf("unknown hash: got %v, %v; want nil, nil", missing, err)
		}
		if missing, err := store.GetUTXO("nope:0"); err != nil || missing != nil {
			t.Fatalf("unknown utxo: got %v, %v; want nil, nil", missing, err)
		}
	})
}

func TestStoreRejectsBadLinkage(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store, _ string) {
		genesis := mustGenesis(t, store)
		address := testAddress(t)
		first := mustSealedChild(t, genesis, address)
		if err := store.CommitBlock(blockCommitFor(first)); err != nil {
			t.Fatalf("commit: %v", err)
		}

		sibling := mustSealedChild(t, genesis, testAddress(t))
		err := store.CommitBlock(blockCommitFor(sibling))
		if !errors.Is(err, ErrHeadLinkage) {
			t.Fatalf("expected linkage error for sibling, got %v", err)
		}

		head, _, _ := store.GetHead()
		if head != first.Hash {
			t.Fatalf("head moved to %.16s", head)
		}
	})
}

func TestStoreSpendIsAtomic(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store, _ string) {
		genesis := mustGenesis(t, store)
		funded := mustSealedChild(t, genesis, testAddress(t))
		if err := store.CommitBlock(blockCommitFor(funded)); err != nil {
			t.Fatalf("commit: %v", err)
		}
		rewardKey := core.OutpointKey(funded.Transactions[0].TxID, 0)

		next := mustSealedChild(t, funded, testAddress(t))
		commit := blockCommitFor(next)
		commit.SpentKeys = []string{rewardKey, "absent:0"}
		if err := store.CommitBlock(commit); !errors.Is(err, ErrOutputMissing) {
			t.Fatalf("expected missing output error, got %v", err)
		}

		// Nothing from the failed batch may be visible.
		entry, err := store.GetUTXO(rewardKey)
		if err != nil || entry == nil || entry.Spent {
			t.Fatalf("reward output changed by failed commit: %+v (err=%v)", entry, err)
		}
		if b, _ := store.GetBlock(next.Hash); b != nil {
			t.Fatal("failed commit left its block behind")
		}
		if head, _, _ := store.GetHead(); head != funded.Hash {
			t.Fatalf("failed commit moved head to %.16s", head)
		}

		commit.SpentKeys = []string{rewardKey}
		if err := store.CommitBlock(commit); err != nil {
			t.Fatalf("valid spend: %v", err)
		}
		entry, _ = store.GetUTXO(rewardKey)
		if entry == nil || !entry.Spent {
			t.Fatal("spent output not flagged")
		}

		after := mustSealedChild(t, next, testAddress(t))
		commit = blockCommitFor(after)
		commit.SpentKeys = []string{rewardKey}
		if err := store.CommitBlock(commit); !errors.Is(err, ErrOutputSpent) {
			t.Fatalf("expected already-spent error, got %v", err)
		}
	})
}

func TestStoreScanAndPutUTXO(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store, _ string) {
		address := testAddress(t)
		for i, amount := range []core.Amount{core.Coins(1), core.Coins(2)} {
			entry := &core.UTXO{
				TxID:        core.ZeroHash,
				OutputIndex: uint32(i),
				Output:      core.TxOutput{Amount: amount, Address: address},
			}
			if err := store.PutUTXO(entry); err != nil {
				t.Fatalf("put utxo: %v", err)
			}
		}

		var total core.Amount
		err := store.ScanUTXOs(func(u *core.UTXO) error {
			total += u.Output.Amount
			return nil
		})
		if err != nil || total != core.Coins(3) {
			t.Fatalf("scan total = %s (err=%v), want 3", total, err)
		}

		stop := errors.New("stop")
		if err := store.ScanUTXOs(func(*core.UTXO) error { return stop }); !errors.Is(err, stop) {
			t.Fatalf("scan should return the callback error, got %v", err)
		}
	})
}

func TestStoreReopenKeepsChain(t *testing.T) {
	for name, open := range storeBackends {
		t.Run(name, func(t *testing.T) {
			dataDir := t.TempDir()
			store := open(t, dataDir)
			genesis := mustGenesis(t, store)
			block := mustSealedChild(t, genesis, testAddress(t))
			if err := store.CommitBlock(blockCommitFor(block)); err != nil {
				t.Fatalf("commit: %v", err)
			}
			if err := store.Close(); err != nil {
				t.Fatalf("close: %v", err)
			}

			reopened := open(t, dataDir)
			defer reopened.Close()
			chain, err := NewChain(reopened)
			if err != nil {
				t.Fatalf("reload chain: %v", err)
			}
			if chain.HeadHash() != block.Hash || chain.Length() != 2 {
				t.Fatalf("reloaded head %.16s length %d", chain.HeadHash(), chain.Length())
			}
			if !chain.IsChainValid() {
				t.Fatal("reloaded chain invalid")
			}
		})
	}
}
