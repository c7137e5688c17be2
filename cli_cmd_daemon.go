package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"memledger/wallet"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

func (c *CLI) serveCommand() *cobra.Command {
	var loadKeystore bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the ledger daemon and its HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var preload []*wallet.Wallet
			if loadKeystore {
				w, err := c.openKeystore()
				if err != nil {
					return err
				}
				preload = append(preload, w)
			}

			d, err := NewDaemon(c.cfg, preload...)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return d.Run(ctx, func() { c.printServeBanner(d) })
		},
	}

	f := cmd.Flags()
	f.String("listen", DefaultAPIListen, "API listen address")
	f.String("storage", "bolt", "storage backend (bolt, sqlite)")
	f.Int("difficulty", 4, "leading zero hex digits required of a block hash")
	f.Int("threads", 0, "sealing goroutines (default NumCPU)")
	f.Duration("auto-mine", 0, "mine pending transactions at this interval (0 = off)")
	f.String("reward-address", "", "address credited by the auto-miner")
	f.Bool("token-auth", false, "require X-Api-Token and write it to the cookie file")
	f.Bool("metrics", true, "serve Prometheus metrics at /metrics")
	f.BoolVar(&loadKeystore, "load-keystore", false, "register the keystore wallet at startup")
	c.bindFlags(f, map[string]string{
		"api.listen":            "listen",
		"storage.backend":       "storage",
		"chain.difficulty":      "difficulty",
		"mining.auto_interval":  "auto-mine",
		"mining.reward_address": "reward-address",
		"api.token_auth":        "token-auth",
		"metrics.enabled":       "metrics",
	})
	// threads=0 means "keep the configured default".
	cmd.PreRunE = func(cmd *cobra.Command, _ []string) error {
		if n, _ := cmd.Flags().GetInt("threads"); n > 0 {
			c.cfg.MiningThreads = n
		}
		return nil
	}
	return cmd
}

func (c *CLI) printServeBanner(d *Daemon) {
	stats := d.Stats()
	c.printf("\n%s\n", c.sectionHead("memledger "+Version))
	c.printField("Listening", stats.ListenAddr)
	c.printField("Storage", stats.StorageKind+" in "+c.cfg.DataDir)
	c.printField("Height", stats.ChainHeight)
	c.printField("Head", stats.HeadHash)
	c.printField("Difficulty", c.cfg.Difficulty)
	c.printField("Threads", d.Ledger().Miner().Threads())
	c.printField("Wallets", stats.Wallets)
	if stats.TokenEnabled {
		c.printField("Token", "written to "+DefaultAPICookieName)
	}
	if c.cfg.MiningAutoInterval > 0 {
		c.printField("Auto-mine", c.cfg.MiningAutoInterval.String())
	}
	c.printf("\n")
}

func (c *CLI) verifyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Re-verify every block in the local store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := c.cfg.OpenStore()
			if err != nil {
				return err
			}
			chain, err := NewChain(store)
			if err != nil {
				store.Close()
				return err
			}
			defer chain.Close()

			bar := progressbar.NewOptions(
				chain.Length(),
				progressbar.OptionSetWriter(c.errOut),
				progressbar.OptionClearOnFinish(),
				progressbar.OptionSetDescription("Verifying blocks..."),
				progressbar.OptionShowCount(),
				progressbar.OptionSetTheme(progressbar.Theme{
					Saucer:        "=",
					SaucerHead:    ">",
					SaucerPadding: " ",
					BarStart:      "[",
					BarEnd:        "]",
				}),
			)
			violations := chain.VerifyChain(func(done, _ int) {
				bar.Set(done)
			})
			bar.Finish()

			if len(violations) == 0 {
				c.printf("\n%s\n", c.sectionHead("Verify"))
				c.printField("Blocks", chain.Length())
				c.printField("Head", chain.HeadHash())
				c.printf("  %s\n", color.GreenString("chain is valid"))
				return nil
			}

			c.printf("\n%s\n", c.errorHead("Verify"))
			for _, v := range violations {
				c.printf("  block %d (%.16s): %s\n", v.Height, v.Hash, v.Message)
			}
			return fmt.Errorf("%d violation(s) found", len(violations))
		},
	}
}

func (c *CLI) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the running daemon's health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			h, err := c.client().Health(ctx)
			if err != nil {
				return err
			}
			c.printf("\n%s\n", c.sectionHead("Node"))
			c.printField("Status", h.Status)
			c.printField("Blocks", h.ChainLength)
			c.printField("Pending", h.PendingTransactions)
			c.printField("Auto-mining", h.MinerRunning)
			return nil
		},
	}
}
