package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// airdropCmd implements `airdrop [--amount N]` (spec §6). The catalog has no
// native token balances (spec's Non-goals exclude access control beyond a
// single admin), so airdrop is a devnet-only no-op: it prints the requested
// amount and changes no state (no funds are credited, no page is created);
// kept for command-surface parity with spec.md §6's illustrative CLI.
func airdropCmd() *cobra.Command {
	var amount int
	cmd := &cobra.Command{
		Use:   "airdrop",
		Short: "devnet convenience: no-op acknowledging a requested amount",
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.url != "" {
				return fmt.Errorf("airdrop is only meaningful against the embedded devnet program")
			}
			fmt.Printf("devnet airdrop acknowledged: %d (no on-chain balance model in this catalog)\n", amount)
			return nil
		},
	}
	cmd.Flags().IntVar(&amount, "amount", 0, "requested amount (devnet, advisory only)")
	return cmd
}
