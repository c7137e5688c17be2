package main

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"memledger/core"
)

func testUnsealedBlock(t *testing.T, difficulty int) *core.Block {
	t.Helper()

	genesis, err := core.NewGenesisBlock()
	if err != nil {
		t.Fatalf("failed to build genesis: %v", err)
	}
	reward, err := core.NewRewardTransaction(testAddress(t), core.Coins(50), 1, genesis.Header.Timestamp+1)
	if err != nil {
		t.Fatalf("failed to build reward: %v", err)
	}
	txs := []*core.Transaction{reward}
	return &core.Block{
		Header: core.BlockHeader{
			Version:      genesis.Header.Version,
			Index:        1,
			PreviousHash: genesis.Hash,
			Timestamp:    genesis.Header.Timestamp + 1,
			Difficulty:   difficulty,
			MerkleRoot:   core.MerkleRoot(txs),
		},
		Transactions: txs,
	}
}

func TestMinerSealProducesVerifiableBlock(t *testing.T) {
	miner := NewMiner(MinerConfig{Threads: 4, MaxAttempts: 1 << 20})
	block := testUnsealedBlock(t, 2)

	if err := miner.Seal(context.Background(), block); err != nil {
		t.Fatalf("seal failed: %v", err)
	}
	hash, err := block.ComputeHash()
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	if hash != block.Hash {
		t.Fatalf("stored hash %s does not match recomputed %s", block.Hash, hash)
	}
	if !core.MeetsDifficulty(block.Hash, 2) {
		t.Fatalf("hash %s does not meet difficulty 2", block.Hash)
	}
	if got := miner.Stats().BlocksFound; got != 1 {
		t.Fatalf("blocks found = %d, want 1", got)
	}
}

func TestMinerSealExhaustedLeavesBlockUnchanged(t *testing.T) {
	miner := NewMiner(MinerConfig{Threads: 2, MaxAttempts: 8})
	block := testUnsealedBlock(t, 64)

	err := miner.Seal(context.Background(), block)
	if !errors.Is(err, core.ErrSealExhausted) {
		t.Fatalf("expected seal exhaustion, got %v", err)
	}
	if block.Hash != "" || block.Header.Nonce != 0 {
		t.Fatalf("block mutated on failure: nonce=%d hash=%q", block.Header.Nonce, block.Hash)
	}
}

func TestMinerSealHonorsTimeout(t *testing.T) {
	miner := NewMiner(MinerConfig{Threads: 2, MaxAttempts: 1 << 62, Timeout: 50 * time.Millisecond})
	block := testUnsealedBlock(t, 64)

	start := time.Now()
	err := miner.Seal(context.Background(), block)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("seal ignored its timeout, ran %v", elapsed)
	}
	if block.Hash != "" {
		t.Fatal("block mutated on timeout")
	}
}

func TestMinerSetThreadsClampsToOne(t *testing.T) {
	miner := NewMiner(MinerConfig{Threads: 3})
	if got := miner.Threads(); got != 3 {
		t.Fatalf("threads = %d, want 3", got)
	}
	miner.SetThreads(0)
	if got := miner.Threads(); got != 1 {
		t.Fatalf("threads = %d, want 1", got)
	}
}

func TestMinerStartRunsOnNewWorkAndStops(t *testing.T) {
	miner := NewMiner(MinerConfig{Threads: 1})
	calls := make(chan struct{}, 4)
	var n atomic.Int32

	miner.Start(context.Background(), time.Hour, func(context.Context) error {
		n.Add(1)
		calls <- struct{}{}
		return ErrNothingToMine
	})
	if !miner.IsRunning() {
		t.Fatal("miner should report running after Start")
	}

	miner.NotifyNewWork()
	select {
	case <-calls:
	case <-time.After(5 * time.Second):
		t.Fatal("auto-miner did not react to new work")
	}

	miner.Stop()
	if miner.IsRunning() {
		t.Fatal("miner still running after Stop")
	}
	if n.Load() < 1 {
		t.Fatal("mine callback never ran")
	}
}
