// Command cartridgevault is the outer CLI entrypoint, mirroring the
// teacher's cmd/synnergy/main.go: a thin main() wiring cobra's root command
// to the cli package's RegisterRoutes aggregation.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"synnergy-network/cmd/cli"
)

func main() {
	root := &cobra.Command{
		Use:   "cartridgevault",
		Short: "publish and fetch content-addressed cartridges on a replicated ledger",
	}
	cli.RegisterRoutes(root)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
