package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"memledger/core"
	"memledger/wallet"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

const Version = "0.1.0"

// CLI is the memledger command tree. Commands other than serve and verify
// talk to a running daemon through Client.
type CLI struct {
	v       *viper.Viper
	cfgFile string
	noColor bool

	cfg *Config

	in     *bufio.Reader
	out    io.Writer
	errOut io.Writer

	root *cobra.Command
}

// NewCLI builds the command tree.
func NewCLI() *CLI {
	c := &CLI{
		v:      newViper(),
		in:     bufio.NewReader(os.Stdin),
		out:    os.Stdout,
		errOut: os.Stderr,
	}

	root := &cobra.Command{
		Use:           "memledger",
		Short:         "Permissioned single-node UTXO ledger for assistant memory and feedback",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.loadConfig()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&c.cfgFile, "config", "", "config file (yaml, toml or json)")
	pf.BoolVar(&c.noColor, "no-color", false, "disable colored output")
	pf.String("data-dir", DefaultDataDir, "data directory")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.String("log-format", "text", "log format (text, json)")
	pf.String("api", "http://"+DefaultAPIListen, "daemon API base URL for client commands")
	pf.Duration("timeout", 5*time.Minute, "client request timeout")
	pf.String("keystore", "", "encrypted wallet file (default <data-dir>/"+DefaultKeystoreFilename+")")
	c.bindFlags(pf, map[string]string{
		"data_dir":       "data-dir",
		"log.level":      "log-level",
		"log.format":     "log-format",
		"client.api":     "api",
		"client.timeout": "timeout",
		"keystore":       "keystore",
	})

	root.AddCommand(
		c.serveCommand(),
		c.verifyCommand(),
		c.walletCommand(),
		c.balanceCommand(),
		c.sendCommand(),
		c.memoryCommand(),
		c.feedbackCommand(),
		c.mineCommand(),
		c.chainCommand(),
		c.blockCommand(),
		c.pendingCommand(),
		c.statusCommand(),
	)
	applyHelp(root)

	c.root = root
	return c
}

// Execute runs the command named by args.
func (c *CLI) Execute(ctx context.Context, args []string) error {
	c.root.SetArgs(args)
	c.root.SetOut(c.out)
	c.root.SetErr(c.errOut)
	return c.root.ExecuteContext(ctx)
}

func (c *CLI) bindFlags(fs *pflag.FlagSet, keys map[string]string) {
	for key, flag := range keys {
		// BindPFlag only fails for a nil flag, which is a programming error.
		if err := c.v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			panic(fmt.Sprintf("bind %s: %v", flag, err))
		}
	}
}

func (c *CLI) loadConfig() error {
	if err := readConfigFile(c.v, c.cfgFile); err != nil {
		return err
	}
	cfg, err := LoadConfig(c.v)
	if err != nil {
		return err
	}
	c.cfg = cfg
	setupLogging(cfg)
	if c.noColor {
		color.NoColor = true
	}
	return nil
}

func (c *CLI) client() *Client {
	return NewClient(c.cfg.ClientAPI, readCookie(c.cfg.DataDir), c.cfg.ClientTimeout)
}

// ============================================================================
// Output helpers
// ============================================================================

var (
	headColor  = color.New(color.FgHiGreen, color.Bold)
	errorColor = color.New(color.FgHiRed, color.Bold)
	labelColor = color.New(color.FgGreen)
)

func (c *CLI) sectionHead(title string) string {
	return headColor.Sprint("# " + title)
}

func (c *CLI) errorHead(title string) string {
	return errorColor.Sprint("# " + title)
}

func (c *CLI) printf(format string, args ...any) {
	fmt.Fprintf(c.out, format, args...)
}

func (c *CLI) printField(label string, value any) {
	c.printf("  %s %v\n", labelColor.Sprintf("%-13s", label+":"), value)
}

func (c *CLI) printJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatAmount(a core.Amount) string {
	return a.String() + " coins"
}

// parseJSONObject parses a --data/--metadata flag value.
func parseJSONObject(s string) (map[string]any, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("expected a JSON object: %w", err)
	}
	return m, nil
}

// ============================================================================
// Passwords and keystore
// ============================================================================

// promptPassword reads a password with hidden input, falling back to a
// plain line read when stdin is not a terminal.
func (c *CLI) promptPassword(prompt string) ([]byte, error) {
	fmt.Fprint(c.errOut, prompt)

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		password, err := term.ReadPassword(fd)
		fmt.Fprintln(c.errOut)
		return password, err
	}

	line, err := c.in.ReadString('\n')
	if err != nil && !(err == io.EOF && line != "") {
		return nil, err
	}
	return []byte(strings.TrimSpace(line)), nil
}

func (c *CLI) promptNewPassword() ([]byte, error) {
	password, err := c.promptPassword("Enter new password: ")
	if err != nil {
		return nil, err
	}
	if len(password) < 3 {
		wipeBytes(password)
		return nil, fmt.Errorf("password must be at least 3 characters")
	}

	confirm, err := c.promptPassword("Confirm password: ")
	if err != nil {
		wipeBytes(password)
		return nil, err
	}
	match := passwordsMatch(password, confirm)
	wipeBytes(confirm)
	if !match {
		wipeBytes(password)
		return nil, fmt.Errorf("passwords do not match")
	}
	return password, nil
}

// keystorePassword reads MEMLEDGER_WALLET_PASSWORD, or prompts.
func (c *CLI) keystorePassword() ([]byte, error) {
	if pw := os.Getenv(envPrefix + "_WALLET_PASSWORD"); pw != "" {
		return []byte(pw), nil
	}
	return c.promptPassword("Wallet password: ")
}

func (c *CLI) openKeystore() (*wallet.Wallet, error) {
	if !fileExists(c.cfg.Keystore) {
		return nil, fmt.Errorf("no wallet at %s (run 'memledger wallet new')", c.cfg.Keystore)
	}
	password, err := c.keystorePassword()
	if err != nil {
		return nil, err
	}
	defer wipeBytes(password)
	return wallet.LoadKeystore(c.cfg.Keystore, password)
}

// actingAddress returns --wallet if given, otherwise the keystore address.
func (c *CLI) actingAddress(cmd *cobra.Command) (string, error) {
	if addr, _ := cmd.Flags().GetString("wallet"); addr != "" {
		return addr, core.ValidateAddress(addr)
	}
	w, err := c.openKeystore()
	if err != nil {
		return "", err
	}
	defer w.Zero()
	return w.Address(), nil
}

func addWalletFlag(cmd *cobra.Command) {
	cmd.Flags().String("wallet", "", "acting wallet address (default: keystore wallet)")
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
