package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	core "synnergy-network/core"
)

// initCmd implements `init [--create-page]` (spec §6).
func initCmd() *cobra.Command {
	var createPage bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "initialize the catalog and (optionally) its first page",
		RunE: func(cmd *cobra.Command, args []string) error {
			pub, err := loadOrGenerateKeypair()
			if err != nil {
				return err
			}
			t, err := buildTransport()
			if err != nil {
				return err
			}
			pt, ok := t.(*core.ProgramTransport)
			if !ok {
				return fmt.Errorf("init is only supported against the embedded devnet program; pass no --url")
			}
			addr, err := pt.Program.InitializeCatalog(pub)
			if err != nil {
				return err
			}
			fmt.Printf("catalog initialized at %x, admin=%x\n", addr, pub)
			if createPage {
				pageAddr, err := pt.Program.CreateCatalogPage(pub, 0)
				if err != nil {
					return err
				}
				fmt.Printf("catalog page 0 created at %x\n", pageAddr)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&createPage, "create-page", false, "also create catalog page 0")
	return cmd
}
