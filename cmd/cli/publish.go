package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	core "synnergy-network/core"
)

// publishCmd implements `publish <path> [--chunk-size BYTES] [--metadata
// JSON] [--dry-run]` (spec §6), driving core.Publish (spec §4.5).
func publishCmd() *cobra.Command {
	var (
		chunkSize int
		metadata  string
		dryRun    bool
	)
	cmd := &cobra.Command{
		Use:   "publish <path>",
		Short: "split, upload and finalize a blob as a new cartridge",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			blob, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read blob: %w", err)
			}
			if len(blob) > core.MaxBlobSize {
				return fmt.Errorf("blob exceeds %d bytes", core.MaxBlobSize)
			}

			var metaBytes []byte
			if metadata != "" {
				var v interface{}
				if err := json.Unmarshal([]byte(metadata), &v); err != nil {
					return fmt.Errorf("--metadata must be valid JSON: %w", err)
				}
				metaBytes = []byte(metadata)
			}

			if dryRun {
				cs := uint32(chunkSize)
				if cs == 0 {
					cs = 256 * 1024
				}
				fmt.Printf("dry-run: %d bytes, chunk_size=%d, chunk_count=%d\n", len(blob), cs, core.ChunkCount(uint64(len(blob)), cs))
				return nil
			}

			pub, err := loadOrGenerateKeypair()
			if err != nil {
				return err
			}
			t, err := buildTransport()
			if err != nil {
				return err
			}
			root, err := t.ReadRoot(withCtx())
			if err != nil {
				return err
			}

			result, err := core.Publish(withCtx(), t, pub, blob, root.LatestPageIndex, core.PublishOptions{
				ChunkSize:    uint32(chunkSize),
				Metadata:     metaBytes,
				SkipIfExists: true,
				OnProgress: func(ev core.PublishEvent) {
					switch ev.Phase {
					case core.PhaseChunks:
						fmt.Printf("chunks: %d/%d\n", ev.Written, ev.Total)
					default:
						fmt.Printf("%s\n", ev.Phase)
					}
				},
			})
			if err != nil {
				return err
			}
			if result.AlreadyExists {
				fmt.Printf("already exists: content_id=%x\n", result.ContentID)
				return nil
			}
			fmt.Printf("published content_id=%x manifest=%x transactions=%d\n", result.ContentID, result.ManifestAddress, len(result.TxIDs))
			return nil
		},
	}
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 256*1024, "chunk size in bytes")
	cmd.Flags().StringVar(&metadata, "metadata", "", "JSON metadata, stored verbatim up to 256 bytes")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate and report without submitting any operation")
	return cmd
}
