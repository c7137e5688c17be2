package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"memledger/wallet"

	"golang.org/x/sync/errgroup"
)

// Daemon runs one ledger behind the HTTP API, plus the optional auto-miner.
type Daemon struct {
	config *Config
	ledger *Ledger
	api    *APIServer

	startTime time.Time
	log       *slog.Logger
}

// DaemonStats is a point-in-time summary for the serve banner and logs.
type DaemonStats struct {
	ChainHeight  uint64        `json:"chain_height"`
	HeadHash     string        `json:"head_hash"`
	MempoolSize  int           `json:"mempool_size"`
	Wallets      int           `json:"wallets"`
	Mining       bool          `json:"mining"`
	HashRate     float64       `json:"hashrate"`
	Uptime       time.Duration `json:"uptime"`
	StorageKind  string        `json:"storage"`
	ListenAddr   string        `json:"listen_addr"`
	TokenEnabled bool          `json:"token_auth"`
}

// NewDaemon opens the configured store and builds the ledger. Wallets in
// preload (for example from the keystore) are registered up front.
func NewDaemon(cfg *Config, preload ...*wallet.Wallet) (*Daemon, error) {
	store, err := cfg.OpenStore()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s storage: %w", cfg.Storage, err)
	}

	ledger, err := NewLedger(store, cfg.LedgerConfig())
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	for _, w := range preload {
		ledger.RegisterWallet(w)
	}

	return &Daemon{
		config: cfg,
		ledger: ledger,
		api:    NewAPIServer(ledger, cfg.APIConfig()),
		log:    slog.With("component", "daemon"),
	}, nil
}

func (d *Daemon) Ledger() *Ledger { return d.ledger }
func (d *Daemon) API() *APIServer { return d.api }
func (d *Daemon) Config() *Config { return d.config }

// Run serves until ctx is cancelled, then shuts everything down and closes
// the ledger. ready, if set, is called once the API is listening.
func (d *Daemon) Run(ctx context.Context, ready func()) error {
	d.startTime = time.Now()
	if err := d.api.Start(); err != nil {
		d.ledger.Close()
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	if d.config.MiningAutoInterval > 0 {
		if d.config.MiningRewardAddress == "" {
			d.log.Warn("auto-mining disabled: mining.reward_address is not set")
		} else if err := d.ledger.StartAutoMining(gctx, d.config.MiningRewardAddress, d.config.MiningAutoInterval); err != nil {
			d.api.Stop(context.Background())
			d.ledger.Close()
			return err
		}
	}

	if ready != nil {
		ready()
	}

	g.Go(func() error {
		blocks, unsubscribe := d.ledger.SubscribeBlocks()
		defer unsubscribe()
		for {
			select {
			case <-gctx.Done():
				return nil
			case block, ok := <-blocks:
				if !ok {
					return nil
				}
				d.log.Info("block committed",
					"index", block.Header.Index,
					"hash", block.Hash,
					"txs", len(block.Transactions)-1,
					"mempool", d.ledger.Mempool().Size())
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		d.log.Info("shutting down")
		d.ledger.Miner().Stop()
		return d.api.Stop(context.Background())
	})

	err := g.Wait()
	if cerr := d.ledger.Close(); err == nil {
		err = cerr
	}
	return err
}

// Stats summarizes the running daemon.
func (d *Daemon) Stats() DaemonStats {
	chain := d.ledger.Chain()
	miner := d.ledger.Miner()
	var uptime time.Duration
	if !d.startTime.IsZero() {
		uptime = time.Since(d.startTime).Round(time.Second)
	}
	return DaemonStats{
		ChainHeight:  chain.Height(),
		HeadHash:     chain.HeadHash(),
		MempoolSize:  d.ledger.Mempool().Size(),
		Wallets:      d.ledger.Wallets().Len(),
		Mining:       miner.IsRunning(),
		HashRate:     miner.HashRate(),
		Uptime:       uptime,
		StorageKind:  d.config.Storage,
		ListenAddr:   d.api.Addr(),
		TokenEnabled: d.config.APITokenAuth,
	}
}
