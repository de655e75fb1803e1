package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	core "synnergy-network/core"
)

// fetchCmd implements `fetch <content_id_hex> [--out PATH] [--no-verify]`
// (spec §4.6), driving core.Fetch backed by the local chunk cache.
func fetchCmd() *cobra.Command {
	var (
		noVerify bool
		out      string
	)
	cmd := &cobra.Command{
		Use:   "fetch <content_id_hex>",
		Short: "read a manifest, fetch its chunks and reconstruct the blob",
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
			cache, err := openCache()
			if err != nil {
				return err
			}
			defer cache.Close()

			blob, err := core.Fetch(withCtx(), t, cache, id, core.FetchOptions{
				VerifyHash: !noVerify,
				OnProgress: func(ev core.FetchEvent) {
					switch ev.Phase {
					case core.FetchChunks:
						fmt.Printf("chunks: %d/%d\n", ev.Loaded, ev.Total)
					default:
						fmt.Printf("%s\n", ev.Phase)
					}
				},
			})
			if err != nil {
				return err
			}
			if blob == nil {
				return fmt.Errorf("no manifest found for content id %s", args[0])
			}

			if out == "" {
				out = args[0] + ".bin"
			}
			if err := os.WriteFile(out, blob, 0644); err != nil {
				return fmt.Errorf("write output: %w", err)
			}
			fmt.Printf("fetched %d bytes -> %s\n", len(blob), out)
			return nil
		},
	}
	cmd.Flags().BoolVar(&noVerify, "no-verify", false, "skip SHA-256 verification against the manifest commitment")
	cmd.Flags().StringVar(&out, "out", "", "output path; defaults to <content_id_hex>.bin")
	return cmd
}
