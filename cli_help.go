package main

import (
	"strings"

	"github.com/spf13/cobra"
)

type helpEntry struct {
	description []string
	useWhen     []string
	examples    []string
	notes       []string
}

// helpDetails holds the long help for commands that need more than Short.
var helpDetails = map[string]helpEntry{
	"serve": {
		description: []string{"Opens the store, writes genesis on first run and serves the JSON API."},
		useWhen:     []string{"you want the assistant backend (or these CLI commands) to reach the ledger"},
		examples: []string{
			"memledger serve --listen 127.0.0.1:5000",
			"memledger serve --storage sqlite --auto-mine 10s --reward-address <addr>",
		},
		notes: []string{
			"Every key can also come from --config or MEMLEDGER_* variables (MEMLEDGER_API_LISTEN, ...).",
			"With --token-auth, clients must send X-Api-Token; the CLI reads it from the cookie file.",
		},
	},
	"verify": {
		description: []string{"Re-checks hashes, linkage, Merkle roots, proof of work and signatures of every block."},
		useWhen:     []string{"you suspect the data directory was edited or restored from an old copy"},
		examples:    []string{"memledger verify --data-dir ./memledger-data"},
		notes:       []string{"Opens the store directly; stop the daemon first when using bolt."},
	},
	"wallet": {
		description: []string{"Creates, imports and inspects the password-encrypted keystore file."},
		examples: []string{
			"memledger wallet new",
			"memledger wallet register",
		},
		notes: []string{"Set MEMLEDGER_WALLET_PASSWORD to skip the password prompt in scripts."},
	},
	"send": {
		description: []string{"Transfers coins from the acting wallet; change returns to the sender."},
		examples: []string{
			"memledger send <recipient> 1.5",
			`memledger send <recipient> 2 --data '{"note":"thanks"}' --idempotency-key pay-42`,
		},
		notes: []string{"Amounts take up to 8 decimal places."},
	},
	"memory": {
		description: []string{"Anchors a memory record; the returned memory id is its transaction id."},
		examples:    []string{`memledger memory "user prefers metric units" --embedding-ref vec:123`},
	},
	"feedback": {
		description: []string{"Anchors feedback on an assistant response."},
		examples: []string{
			"memledger feedback resp-1 like",
			"memledger feedback resp-1 rating --rating 4.5",
		},
	},
	"mine": {
		description: []string{"Seals every pending transaction into one block and credits the reward."},
		notes:       []string{"Fails with 'No transactions to mine' when the mempool is empty."},
	},
}

// renderHelp formats an entry the way the interactive help prints it.
func renderHelp(short string, e helpEntry) string {
	var b strings.Builder
	b.WriteString(short)
	b.WriteString("\n")
	section := func(title string, lines []string, bullet string) {
		if len(lines) == 0 {
			return
		}
		b.WriteString("\n" + title + ":\n")
		for _, line := range lines {
			b.WriteString("  " + bullet + line + "\n")
		}
	}
	section("What it does", e.description, "")
	section("Use this when", e.useWhen, "")
	section("Notes", e.notes, "- ")
	return strings.TrimRight(b.String(), "\n")
}

// applyHelp attaches long help and examples to the named commands.
func applyHelp(root *cobra.Command) {
	for _, cmd := range root.Commands() {
		e, ok := helpDetails[cmd.Name()]
		if !ok {
			continue
		}
		cmd.Long = renderHelp(cmd.Short, e)
		if len(e.examples) > 0 {
			cmd.Example = "  " + strings.Join(e.examples, "\n  ")
		}
	}
}
