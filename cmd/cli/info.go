package cli

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"
)

// infoCmd implements `info <content_id_hex>` (spec §6).
func infoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info <content_id_hex>",
		Short: "show manifest details for a content id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseContentIDHex(args[0])
			if err != nil {
				return err
			}
			t, err := buildTransport()
			if err != nil {
				return err
			}
			m, ok, err := t.ReadManifest(withCtx(), id)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no manifest found for %x", id)
			}
			fmt.Printf("content_id=%x\n", m.ContentID)
			fmt.Printf("blob_size=%d chunk_size=%d chunk_count=%d\n", m.BlobSize, m.ChunkSize, m.ChunkCount)
			fmt.Printf("finalized=%v publisher=%x\n", m.Finalized, m.Publisher)
			fmt.Printf("metadata=%s\n", hex.EncodeToString(m.Metadata))
			return nil
		},
	}
	return cmd
}
