package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"memledger/core"
	"memledger/debug"
	"memledger/protocol/params"
	"memledger/wallet"
)

// ErrNothingToMine is returned by MineBlock when the mempool is empty.
var ErrNothingToMine = fmt.Errorf("%w: nothing to mine", core.ErrValidation)

// LedgerConfig holds the chain rules and subsystem settings for one ledger.
type LedgerConfig struct {
	Difficulty  int
	BlockReward core.Amount
	Mempool     MempoolConfig
	Miner       MinerConfig
}

// DefaultLedgerConfig returns the stock chain rules.
func DefaultLedgerConfig() LedgerConfig {
	return LedgerConfig{
		Difficulty:  params.DefaultDifficulty,
		BlockReward: core.Amount(params.BlockReward),
		Mempool:     DefaultMempoolConfig(),
		Miner:       DefaultMinerConfig(),
	}
}

// Ledger owns all mutable ledger state. One traced mutex serializes
// submissions and the snapshot and commit phases of mining; sealing runs
// without it.
type Ledger struct {
	mu debug.Mutex

	config  LedgerConfig
	chain   *Chain
	mempool *Mempool
	known   map[string]struct{} // tx ids in the chain or the mempool
	wallets *wallet.Registry
	miner   *Miner
	metrics *Metrics
	seal    func(context.Context, *core.Block) error

	subMu sync.Mutex
	subs  map[chan *core.Block]struct{}

	now func() time.Time
	log *slog.Logger
}

// NewLedger opens the chain on store, writing genesis on first use, and
// rebuilds the known-id set from committed blocks.
func NewLedger(store Store, cfg LedgerConfig) (*Ledger, error) {
	if cfg.Difficulty < 0 || cfg.Difficulty > params.MaxDifficulty {
		return nil, fmt.Errorf("%w: difficulty %d out of range", core.ErrValidation, cfg.Difficulty)
	}
	chain, err := NewChain(store)
	if err != nil {
		return nil, err
	}

	l := &Ledger{
		config:  cfg,
		chain:   chain,
		mempool: NewMempool(cfg.Mempool),
		known:   make(map[string]struct{}),
		wallets: wallet.NewRegistry(),
		miner:   NewMiner(cfg.Miner),
		subs:    make(map[chan *core.Block]struct{}),
		now:     time.Now,
		log:     slog.With("component", "ledger"),
	}
	l.mu.SetName("ledger")
	l.seal = l.miner.Seal
	l.metrics = NewMetrics(nil, func() float64 { return float64(l.miner.Stats().HashCount) })

	blocks, err := chain.Blocks()
	if err != nil {
		return nil, err
	}
	for _, block := range blocks {
		for _, tx := range block.Transactions {
			l.known[tx.TxID] = struct{}{}
		}
	}
	l.metrics.chainHeight.Set(float64(chain.Height()))
	l.log.Info("ledger ready", "height", chain.Height(), "head", chain.HeadHash(), "known_txs", len(l.known))
	return l, nil
}

// Close stops the auto-miner, drops held keys and closes the store.
func (l *Ledger) Close() error {
	l.miner.Stop()
	l.wallets.Close()
	l.subMu.Lock()
	for ch := range l.subs {
		close(ch)
		delete(l.subs, ch)
	}
	l.subMu.Unlock()
	return l.chain.Close()
}

func (l *Ledger) Chain() *Chain { return l.chain }
func (l *Ledger) Mempool() *Mempool { return l.mempool }
func (l *Ledger) Miner() *Miner { return l.miner }
func (l *Ledger) Metrics() *Metrics { return l.metrics }
func (l *Ledger) Wallets() *wallet.Registry { return l.wallets }
func (l *Ledger) Config() LedgerConfig { return l.config }

// ============================================================================
// Submission
// ============================================================================

// SubmitTransaction validates tx against chain state and, on success, adds
// it to the mempool. A rejected transaction leaves the ledger unchanged.
func (l *Ledger) SubmitTransaction(tx *core.Transaction) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.submitLocked(tx)
}

func (l *Ledger) submitLocked(tx *core.Transaction) error {
	if err := l.validateLocked(tx); err != nil {
		l.metrics.observeRejected(err)
		l.log.Debug("transaction rejected", "error", err)
		return err
	}

	encoded, err := core.CanonicalJSON(tx)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrMalformedTx, err)
	}
	if err := l.mempool.AddTransaction(tx, len(encoded), l.chain.Height()); err != nil {
		l.metrics.observeRejected(err)
		return err
	}
	l.known[tx.TxID] = struct{}{}
	l.metrics.observeAccepted(tx, l.mempool.Size())
	l.miner.NotifyNewWork()
	l.log.Debug("transaction accepted", "tx", tx.TxID, "type", tx.Type, "mempool", l.mempool.Size())
	return nil
}

// validateLocked runs every admission rule in order. Caller holds l.mu.
func (l *Ledger) validateLocked(tx *core.Transaction) error {
	if tx == nil {
		return fmt.Errorf("%w: nil transaction", core.ErrMalformedTx)
	}
	if err := tx.CheckStructure(); err != nil {
		return err
	}
	if err := tx.VerifyID(); err != nil {
		return err
	}
	if tx.IsReward() {
		return core.ErrRewardSubmission
	}
	if _, dup := l.known[tx.TxID]; dup {
		return fmt.Errorf("%w: %.16s", core.ErrDuplicateTx, tx.TxID)
	}

	// Sender binding and transaction signature.
	if tx.SenderPublicKey == "" || tx.SenderAddress == "" {
		return fmt.Errorf("%w: missing sender key", core.ErrBadSignature)
	}
	derived, err := core.AddressFromPublicKeyHex(tx.SenderPublicKey)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrBadSignature, err)
	}
	if derived != tx.SenderAddress {
		return fmt.Errorf("%w: public key does not match sender address", core.ErrBadSignature)
	}
	payload, err := core.SignablePayload(tx)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrMalformedTx, err)
	}
	if !core.Verify(tx.SenderPublicKey, payload, tx.Signature) {
		return fmt.Errorf("%w: transaction signature", core.ErrBadSignature)
	}

	// Inputs.
	seen := make(map[string]struct{}, len(tx.Inputs))
	var inputTotal core.Amount
	for i, in := range tx.Inputs {
		key := in.OutpointKey()
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: input %d repeats %s", core.ErrDoubleSpend, i, key)
		}
		seen[key] = struct{}{}

		if owner, claimed := l.mempool.ClaimedBy(key); claimed {
			return fmt.Errorf("%w: %s claimed by pending tx %.16s", core.ErrDoubleSpend, key, owner)
		}
		entry, err := l.chain.Store().GetUTXO(key)
		if err != nil {
			return fmt.Errorf("%w: read utxo %s: %v", core.ErrPersistence, key, err)
		}
		if entry == nil {
			return fmt.Errorf("%w: %s", core.ErrMissingUTXO, key)
		}
		if entry.Spent {
			return fmt.Errorf("%w: %s", core.ErrDoubleSpend, key)
		}
		if entry.Output.Address != tx.SenderAddress {
			return fmt.Errorf("%w: input %d not owned by sender", core.ErrBadSignature, i)
		}
		if !core.Verify(tx.SenderPublicKey, payload, in.Signature) {
			return fmt.Errorf("%w: input %d signature", core.ErrBadSignature, i)
		}
		if inputTotal, err = inputTotal.Add(entry.Output.Amount); err != nil {
			return err
		}
	}

	outputTotal, err := tx.TotalOutput()
	if err != nil {
		return err
	}
	switch {
	case tx.IsValueBearing():
		if inputTotal < outputTotal {
			return fmt.Errorf("%w: inputs %s < outputs %s", core.ErrInsufficientBalance, inputTotal, outputTotal)
		}
	case outputTotal != 0:
		// Record transactions never create value.
		return fmt.Errorf("%w: %s outputs must carry zero amount", core.ErrInvalidAmount, tx.Type)
	}
	return nil
}

// SpendableUTXOs lists unspent outputs owned by address that no pending
// transaction already claims.
func (l *Ledger) SpendableUTXOs(address string) ([]*core.UTXO, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.spendableLocked(address)
}

func (l *Ledger) spendableLocked(address string) ([]*core.UTXO, error) {
	var out []*core.UTXO
	err := l.chain.Store().ScanUTXOs(func(u *core.UTXO) error {
		if u.Spent || u.Output.Address != address || u.Output.Amount == 0 {
			return nil
		}
		if _, claimed := l.mempool.ClaimedBy(u.Key()); claimed {
			return nil
		}
		out = append(out, u)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: scan utxos: %v", core.ErrPersistence, err)
	}
	return out, nil
}

// BuildAndSubmitTransfer selects inputs for w, signs a transfer and submits
// it, all under one lock hold so concurrent transfers never pick the same
// outputs.
func (l *Ledger) BuildAndSubmitTransfer(w *wallet.Wallet, recipient string, amount core.Amount, data core.Payload) (*core.Transaction, error) {
	if err := core.ValidateAddress(recipient); err != nil {
		return nil, err
	}
	if amount == 0 {
		return nil, fmt.Errorf("%w: amount must be greater than 0", core.ErrInvalidAmount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	available, err := l.spendableLocked(w.Address())
	if err != nil {
		return nil, err
	}
	inputs, err := wallet.SelectInputs(available, amount)
	if err != nil {
		l.metrics.observeRejected(err)
		return nil, err
	}
	tx, err := w.CreateTransaction(inputs, recipient, amount, data)
	if err != nil {
		return nil, err
	}
	if err := l.submitLocked(tx); err != nil {
		return nil, err
	}
	return tx, nil
}

// ============================================================================
// Mining
// ============================================================================

// MineBlock assembles [reward] + mempool, seals it without holding the
// lock and commits it if the head has not moved meanwhile. On any failure
// the mempool is left as it was.
func (l *Ledger) MineBlock(ctx context.Context, minerAddress string) (*core.Block, error) {
	if err := core.ValidateAddress(minerAddress); err != nil {
		return nil, err
	}

	l.mu.Lock()
	if l.mempool.Size() == 0 {
		l.mu.Unlock()
		return nil, ErrNothingToMine
	}
	head := l.chain.Head()
	pending := l.mempool.Snapshot()
	l.mu.Unlock()

	block, err := l.assemble(head, pending, minerAddress)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	err = l.seal(ctx, block)
	if err != nil {
		l.metrics.observeSeal(time.Since(start).Seconds(), err)
		l.log.Warn("sealing aborted", "index", block.Header.Index, "error", err)
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.chain.HeadHash() != head.Hash {
		l.metrics.observeSeal(time.Since(start).Seconds(), core.ErrStaleHead)
		return nil, fmt.Errorf("%w: sealed on %.16s, head is now %.16s", core.ErrStaleHead, head.Hash, l.chain.HeadHash())
	}

	if err := l.chain.Commit(blockCommitFor(block)); err != nil {
		err = fmt.Errorf("%w: commit block %d: %v", core.ErrPersistence, block.Header.Index, err)
		l.metrics.observeSeal(time.Since(start).Seconds(), err)
		l.log.Error("block commit failed", "index", block.Header.Index, "error", err)
		return nil, err
	}
	l.metrics.observeSeal(time.Since(start).Seconds(), nil)

	l.mempool.OnBlockCommitted(block)
	l.known[block.Transactions[0].TxID] = struct{}{}
	l.metrics.observeCommitted(block, l.mempool.Size())
	l.log.Info("block committed",
		"index", block.Header.Index,
		"hash", block.Hash,
		"txs", len(block.Transactions)-1,
		"nonce", block.Header.Nonce,
		"seal", time.Since(start).Truncate(time.Millisecond))

	l.publish(block)
	return block, nil
}

// assemble builds the unsealed child of head.
func (l *Ledger) assemble(head *core.Block, pending []*core.Transaction, minerAddress string) (*core.Block, error) {
	index := head.Header.Index + 1
	ts := l.now().UnixMilli()
	if ts <= head.Header.Timestamp {
		ts = head.Header.Timestamp + 1
	}

	reward, err := core.NewRewardTransaction(minerAddress, l.config.BlockReward, index, ts)
	if err != nil {
		return nil, err
	}
	txs := make([]*core.Transaction, 0, len(pending)+1)
	txs = append(txs, reward)
	txs = append(txs, pending...)

	return &core.Block{
		Header: core.BlockHeader{
			Version:      params.ChainVersion,
			Index:        index,
			PreviousHash: head.Hash,
			Timestamp:    ts,
			Difficulty:   l.config.Difficulty,
			MerkleRoot:   core.MerkleRoot(txs),
		},
		Transactions: txs,
	}, nil
}

// blockCommitFor lists the outputs a block creates and the outpoints it spends.
func blockCommitFor(block *core.Block) *BlockCommit {
	commit := &BlockCommit{Block: block}
	for _, tx := range block.Transactions {
		commit.NewOutputs = append(commit.NewOutputs, core.OutputsOf(tx, block.Hash)...)
		for _, in := range tx.Inputs {
			commit.SpentKeys = append(commit.SpentKeys, in.OutpointKey())
		}
	}
	return commit
}

// StartAutoMining mines to rewardAddress whenever work is pending, polling
// at interval. Stop it with Miner().Stop() or Close.
func (l *Ledger) StartAutoMining(ctx context.Context, rewardAddress string, interval time.Duration) error {
	if err := core.ValidateAddress(rewardAddress); err != nil {
		return err
	}
	if interval <= 0 {
		return fmt.Errorf("%w: auto-mine interval must be positive", core.ErrValidation)
	}
	l.miner.Start(ctx, interval, func(ctx context.Context) error {
		_, err := l.MineBlock(ctx, rewardAddress)
		return err
	})
	l.log.Info("auto-mining started", "reward_address", rewardAddress, "interval", interval)
	return nil
}

// ============================================================================
// Queries
// ============================================================================

// GetBalance sums the unspent outputs owned by address.
func (l *Ledger) GetBalance(address string) (core.Amount, error) {
	if err := core.ValidateAddress(address); err != nil {
		return 0, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var total core.Amount
	err := l.chain.Store().ScanUTXOs(func(u *core.UTXO) error {
		if u.Spent || u.Output.Address != address {
			return nil
		}
		var err error
		total, err = total.Add(u.Output.Amount)
		return err
	})
	if err != nil {
		if errors.Is(err, core.ErrAmountOverflow) {
			return 0, err
		}
		return 0, fmt.Errorf("%w: scan utxos: %v", core.ErrPersistence, err)
	}
	return total, nil
}

// Pending returns mempool transactions oldest first.
func (l *Ledger) Pending() []*core.Transaction {
	return l.mempool.Snapshot()
}

// IsChainValid re-verifies every committed block.
func (l *Ledger) IsChainValid() bool {
	return l.chain.IsChainValid()
}

// VerifyChain lists every violation found while re-verifying the chain.
func (l *Ledger) VerifyChain(progress func(done, total int)) []ChainViolation {
	return l.chain.VerifyChain(progress)
}

// ============================================================================
// Block notifications
// ============================================================================

// SubscribeBlocks returns a channel receiving each committed block and a
// function that cancels the subscription. Slow subscribers miss blocks
// rather than stall the ledger.
func (l *Ledger) SubscribeBlocks() (<-chan *core.Block, func()) {
	ch := make(chan *core.Block, 16)
	l.subMu.Lock()
	l.subs[ch] = struct{}{}
	l.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.subMu.Lock()
			defer l.subMu.Unlock()
			if _, ok := l.subs[ch]; ok {
				delete(l.subs, ch)
				close(ch)
			}
		})
	}
}

func (l *Ledger) publish(block *core.Block) {
	l.subMu.Lock()
	defer l.subMu.Unlock()
	for ch := range l.subs {
		select {
		case ch <- block:
		default:
		}
	}
}
