package cli

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"
)

// listCmd implements `list [--page N | --all] [--include-retired]` (spec §6).
func listCmd() *cobra.Command {
	var (
		page           int
		all            bool
		includeRetired bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "list finalized cartridges by catalog page",
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := buildTransport()
			if err != nil {
				return err
			}
			root, err := t.ReadRoot(withCtx())
			if err != nil {
				return err
			}
			pages := []uint32{uint32(page)}
			if all {
				pages = pages[:0]
				for i := uint32(0); i < root.PageCount; i++ {
					pages = append(pages, i)
				}
			}
			for _, idx := range pages {
				p, ok, err := t.ReadPage(withCtx(), idx)
				if err != nil {
					return err
				}
				if !ok {
					continue
				}
				for _, e := range p.ValidEntries() {
					if e.Retired() && !includeRetired {
						continue
					}
					fmt.Printf("page=%d content_id=%s blob_size=%d retired=%v\n", idx, hex.EncodeToString(e.ContentID[:]), e.BlobSize, e.Retired())
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&page, "page", 0, "page index to list")
	cmd.Flags().BoolVar(&all, "all", false, "list all pages")
	cmd.Flags().BoolVar(&includeRetired, "include-retired", false, "include entries with the RETIRED flag set")
	return cmd
}
