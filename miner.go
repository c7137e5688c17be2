package main

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"memledger/core"
	"memledger/protocol/params"

	"golang.org/x/sync/errgroup"
)

// MinerConfig holds mining configuration
type MinerConfig struct {
	// Threads is the number of sealing goroutines (0 = NumCPU)
	Threads int
	// MaxAttempts bounds the total hashes tried for one block
	MaxAttempts uint64
	// Timeout bounds one sealing run (0 = only the caller's context)
	Timeout time.Duration
}

// DefaultMinerConfig seals on every CPU with the default attempt bound.
func DefaultMinerConfig() MinerConfig {
	return MinerConfig{
		Threads:     runtime.NumCPU(),
		MaxAttempts: params.DefaultMaxSealAttempts,
	}
}

// MinerStats holds mining statistics
type MinerStats struct {
	HashCount   uint64
	BlocksFound uint64
	StartTime   time.Time
	LastBlock   time.Time
}

// Miner seals assembled blocks across worker goroutines and can run an
// auto-mining loop. It never touches ledger state itself.
type Miner struct {
	config  MinerConfig
	threads atomic.Int32
	running atomic.Bool

	hashCount   atomic.Uint64
	blocksFound atomic.Uint64
	lastBlockNS atomic.Int64
	startNS     atomic.Int64

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	newWork chan struct{} // wakes the auto-miner when the mempool grows

	log *slog.Logger
}

// NewMiner creates a new miner
func NewMiner(config MinerConfig) *Miner {
	if config.MaxAttempts == 0 {
		config.MaxAttempts = params.DefaultMaxSealAttempts
	}
	m := &Miner{
		config:  config,
		newWork: make(chan struct{}, 1),
		log:     slog.With("component", "miner"),
	}
	m.SetThreads(config.Threads)
	m.startNS.Store(time.Now().UnixNano())
	return m
}

// errNonceFound stops sibling workers once one of them succeeds.
var errNonceFound = errors.New("nonce found")

// Seal searches for a nonce meeting the block difficulty, striding the
// nonce space across Threads() workers. On success the block's nonce and
// hash are set. On exhaustion it returns core.ErrSealExhausted, on
// cancellation or timeout the context error; the block is unchanged then.
func (m *Miner) Seal(ctx context.Context, block *core.Block) error {
	if m.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.config.Timeout)
		defer cancel()
	}

	sealer, err := core.NewSealer(block)
	if err != nil {
		return err
	}

	numThreads := m.Threads()
	stride := uint64(numThreads)
	perWorker := m.config.MaxAttempts / stride
	if m.config.MaxAttempts%stride != 0 {
		perWorker++
	}
	start := block.Header.Nonce

	var (
		once      sync.Once
		wonNonce  uint64
		wonHash   string
		exhausted atomic.Int32
	)
	g, gctx := errgroup.WithContext(ctx)
	for t := 0; t < numThreads; t++ {
		offset := uint64(t)
		g.Go(func() error {
			nonce, hash, err := sealer.Search(gctx, start+offset, stride, perWorker, &m.hashCount)
			switch {
			case err == nil:
				once.Do(func() {
					wonNonce, wonHash = nonce, hash
				})
				return errNonceFound
			case errors.Is(err, core.ErrSealExhausted):
				exhausted.Add(1)
				return nil
			default:
				// Cancelled, either by a sibling win or by the caller.
				return nil
			}
		})
	}

	if err := g.Wait(); !errors.Is(err, errNonceFound) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		m.log.Debug("seal exhausted", "index", block.Header.Index, "attempts", m.config.MaxAttempts, "workers", exhausted.Load())
		return core.ErrSealExhausted
	}

	block.Header.Nonce = wonNonce
	block.Hash = wonHash
	m.blocksFound.Add(1)
	m.lastBlockNS.Store(time.Now().UnixNano())
	return nil
}

// NotifyNewWork tells the auto-miner there is something to mine.
func (m *Miner) NotifyNewWork() {
	select {
	case m.newWork <- struct{}{}:
	default: // already signalled, don't block
	}
}

// Start runs mine every interval, and whenever NotifyNewWork fires, until
// ctx is done or Stop is called. Errors are logged, never fatal.
func (m *Miner) Start(ctx context.Context, interval time.Duration, mine func(context.Context) error) {
	if m.running.Swap(true) {
		return // Already running
	}

	m.hashCount.Store(0)
	m.blocksFound.Store(0)
	m.startNS.Store(time.Now().UnixNano())

	mineCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.mu.Lock()
	m.cancel = cancel
	m.done = done
	m.mu.Unlock()

	go func() {
		defer close(done)
		defer m.running.Store(false)
		defer cancel()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-mineCtx.Done():
				return
			case <-ticker.C:
			case <-m.newWork:
			}

			err := mine(mineCtx)
			switch {
			case err == nil:
			case mineCtx.Err() != nil:
				return
			case errors.Is(err, ErrNothingToMine):
			case errors.Is(err, core.ErrStaleHead), errors.Is(err, core.ErrSealExhausted):
				m.log.Warn("auto-mine attempt abandoned", "error", err)
			default:
				m.log.Error("auto-mine failed", "error", err)
			}
		}
	}()
}

// Stop stops the auto-miner and waits for the loop to exit.
func (m *Miner) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// IsRunning returns true if the auto-miner loop is active
func (m *Miner) IsRunning() bool {
	return m.running.Load()
}

// SetThreads updates the number of sealing workers; later Seal calls use it.
func (m *Miner) SetThreads(n int) {
	if n < 1 {
		n = 1
	}
	m.threads.Store(int32(n))
}

// Threads returns the current thread count
func (m *Miner) Threads() int {
	n := int(m.threads.Load())
	if n < 1 {
		return 1
	}
	return n
}

// Stats returns current mining statistics
func (m *Miner) Stats() MinerStats {
	stats := MinerStats{
		HashCount:   m.hashCount.Load(),
		BlocksFound: m.blocksFound.Load(),
		StartTime:   time.Unix(0, m.startNS.Load()),
	}
	if ns := m.lastBlockNS.Load(); ns != 0 {
		stats.LastBlock = time.Unix(0, ns)
	}
	return stats
}

// HashRate returns the current hash rate (hashes per second)
func (m *Miner) HashRate() float64 {
	stats := m.Stats()
	elapsed := time.Since(stats.StartTime).Seconds()
	if elapsed < 1 {
		return 0
	}
	return float64(stats.HashCount) / elapsed
}
