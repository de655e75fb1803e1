package cli

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"
)

// balanceCmd implements `balance [--address KEY]` (spec §6). Reports the
// catalog's admin/total-cartridges summary rather than a token balance
// (there is no balance concept in this data model); --address, when given,
// reports whether that key is the current admin.
func balanceCmd() *cobra.Command {
	var address string
	cmd := &cobra.Command{
		Use:   "balance",
		Short: "show catalog admin and cartridge-count summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := buildTransport()
			if err != nil {
				return err
			}
			root, err := t.ReadRoot(withCtx())
			if err != nil {
				return err
			}
			fmt.Printf("admin=%x pages=%d total_cartridges=%d\n", root.Admin, root.PageCount, root.TotalCartridges)
			if address != "" {
				want, err := hex.DecodeString(address)
				if err != nil || len(want) != 32 {
					return fmt.Errorf("--address must be 32-byte hex")
				}
				isAdmin := hex.EncodeToString(root.Admin[:]) == address
				fmt.Printf("%s is_admin=%v\n", address, isAdmin)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&address, "address", "", "hex-encoded public key to check against the current admin")
	return cmd
}
