package main

import (
	"fmt"
	"strings"

	"memledger/core"
	"memledger/wallet"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// ============================================================================
// Keystore commands (local, no daemon needed)
// ============================================================================

func (c *CLI) walletCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wallet",
		Short: "Manage the local encrypted wallet",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "new",
			Short: "Create a wallet and save it to the keystore",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				w, err := wallet.Generate()
				if err != nil {
					return err
				}
				defer w.Zero()
				return c.saveNewKeystore(w)
			},
		},
		&cobra.Command{
			Use:   "import [private-key-hex]",
			Short: "Import a private key into the keystore",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				var keyHex string
				if len(args) == 1 {
					keyHex = args[0]
				} else {
					raw, err := c.promptPassword("Private key (hex): ")
					if err != nil {
						return err
					}
					keyHex = string(raw)
				}
				w, err := wallet.Import(keyHex)
				if err != nil {
					return err
				}
				defer w.Zero()
				return c.saveNewKeystore(w)
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Show the keystore wallet's address and public key",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				w, err := c.openKeystore()
				if err != nil {
					return err
				}
				defer w.Zero()
				c.printf("\n%s\n", c.sectionHead("Wallet"))
				c.printField("Address", w.Address())
				c.printField("Public key", w.PublicKeyHex())
				c.printField("File", c.cfg.Keystore)
				return nil
			},
		},
		&cobra.Command{
			Use:   "export",
			Short: "Print the keystore wallet's private key",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				w, err := c.openKeystore()
				if err != nil {
					return err
				}
				defer w.Zero()
				c.printf("\n%s\n", c.errorHead("Private key"))
				c.printf("  %s\n", color.YellowString("Anyone with this key can spend from %s.", w.Address()))
				c.printf("  %s\n", w.ExportPrivateKey())
				return nil
			},
		},
		&cobra.Command{
			Use:   "register",
			Short: "Register the keystore wallet with the running daemon",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				w, err := c.openKeystore()
				if err != nil {
					return err
				}
				defer w.Zero()
				info, err := c.client().CreateWallet(cmd.Context(), w.ExportPrivateKey())
				if err != nil {
					return err
				}
				c.printf("\n%s\n", c.sectionHead("Registered"))
				c.printField("Address", info.Address)
				c.printField("Balance", formatAmount(info.Balance))
				return nil
			},
		},
	)
	return cmd
}

func (c *CLI) saveNewKeystore(w *wallet.Wallet) error {
	if fileExists(c.cfg.Keystore) {
		return fmt.Errorf("wallet already exists at %s", c.cfg.Keystore)
	}
	password, err := c.promptNewPassword()
	if err != nil {
		return err
	}
	defer wipeBytes(password)
	if err := wallet.SaveKeystore(c.cfg.Keystore, password, w); err != nil {
		return err
	}
	c.printf("\n%s\n", c.sectionHead("Wallet saved"))
	c.printField("Address", w.Address())
	c.printField("File", c.cfg.Keystore)
	return nil
}

// ============================================================================
// Daemon commands
// ============================================================================

func (c *CLI) balanceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "balance [address]",
		Short: "Show the confirmed balance of an address",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var address string
			if len(args) == 1 {
				address = args[0]
			} else {
				var err error
				if address, err = c.actingAddress(cmd); err != nil {
					return err
				}
			}
			balance, err := c.client().Balance(cmd.Context(), address)
			if err != nil {
				return err
			}
			c.printf("\n%s\n", c.sectionHead("Balance"))
			c.printField("Address", address)
			c.printField("Balance", formatAmount(balance))
			return nil
		},
	}
	addWalletFlag(cmd)
	return cmd
}

func (c *CLI) sendCommand() *cobra.Command {
	var data, idemKey string
	cmd := &cobra.Command{
		Use:   "send <recipient> <amount>",
		Short: "Transfer coins to another address",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := core.ParseAmount(strings.TrimSpace(args[1]))
			if err != nil {
				return err
			}
			payload, err := parseJSONObject(data)
			if err != nil {
				return fmt.Errorf("--data: %w", err)
			}
			from, err := c.actingAddress(cmd)
			if err != nil {
				return err
			}
			txID, err := c.client().Transfer(cmd.Context(), from, args[0], amount, payload, idemKey)
			if err != nil {
				return err
			}
			c.printf("\n%s\n", c.sectionHead("Sent"))
			c.printField("Amount", formatAmount(amount))
			c.printField("To", args[0])
			c.printField("Tx", txID)
			return nil
		},
	}
	addWalletFlag(cmd)
	cmd.Flags().StringVar(&data, "data", "", "JSON object attached to the recipient output")
	cmd.Flags().StringVar(&idemKey, "idempotency-key", "", "retry-safe key for this submission")
	return cmd
}

func (c *CLI) memoryCommand() *cobra.Command {
	var embeddingRef, contentType, metadata string
	cmd := &cobra.Command{
		Use:   "memory <content>",
		Short: "Anchor a memory record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			meta, err := parseJSONObject(metadata)
			if err != nil {
				return fmt.Errorf("--metadata: %w", err)
			}
			from, err := c.actingAddress(cmd)
			if err != nil {
				return err
			}
			receipt, err := c.client().Memory(cmd.Context(), from, args[0], embeddingRef, contentType, meta)
			if err != nil {
				return err
			}
			c.printf("\n%s\n", c.sectionHead("Memory"))
			c.printField("Memory id", receipt.MemoryID)
			return nil
		},
	}
	addWalletFlag(cmd)
	cmd.Flags().StringVar(&embeddingRef, "embedding-ref", "", "reference to the record's embedding")
	cmd.Flags().StringVar(&contentType, "content-type", "text/plain", "MIME type of the content")
	cmd.Flags().StringVar(&metadata, "metadata", "", "JSON object of extra fields")
	return cmd
}

func (c *CLI) feedbackCommand() *cobra.Command {
	var comment string
	var rating float64
	cmd := &cobra.Command{
		Use:   "feedback <response-id> <like|dislike|rating|comment>",
		Short: "Anchor feedback on an assistant response",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var ratingPtr *float64
			if cmd.Flags().Changed("rating") {
				ratingPtr = &rating
			}
			from, err := c.actingAddress(cmd)
			if err != nil {
				return err
			}
			txID, err := c.client().Feedback(cmd.Context(), from, args[0], args[1], ratingPtr, comment)
			if err != nil {
				return err
			}
			c.printf("\n%s\n", c.sectionHead("Feedback"))
			c.printField("Tx", txID)
			return nil
		},
	}
	addWalletFlag(cmd)
	cmd.Flags().Float64Var(&rating, "rating", 0, "numeric rating (required for rating feedback)")
	cmd.Flags().StringVar(&comment, "comment", "", "comment text (required for comment feedback)")
	return cmd
}

func (c *CLI) mineCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mine",
		Short: "Mine the pending transactions into a block",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			to, err := c.actingAddress(cmd)
			if err != nil {
				return err
			}
			res, err := c.client().Mine(cmd.Context(), to)
			if err != nil {
				return err
			}
			c.printf("\n%s\n", c.sectionHead("Mined"))
			c.printField("Block", res.BlockIndex)
			c.printField("Hash", res.BlockHash)
			c.printField("Txs", res.TxCount)
			return nil
		},
	}
	addWalletFlag(cmd)
	return cmd
}

func (c *CLI) chainCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "chain",
		Short: "List every block",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			view, err := c.client().Chain(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return c.printJSON(view)
			}
			c.printf("\n%s (%d)\n", c.sectionHead("Chain"), view.Length)
			for _, b := range view.Blocks {
				c.printf("  %6d  %s  %d tx\n", b.Index, b.Hash, len(b.Transactions))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print full blocks as JSON")
	return cmd
}

func (c *CLI) blockCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "block <hash>",
		Short: "Print one block as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			block, err := c.client().Block(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return c.printJSON(block)
		},
	}
}

func (c *CLI) pendingCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "Print the mempool as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			txs, err := c.client().Pending(cmd.Context())
			if err != nil {
				return err
			}
			return c.printJSON(txs)
		},
	}
}
