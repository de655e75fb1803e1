// Package cli implements the cartridge-vault command surface of spec §6:
// list, info, publish, init, airdrop, balance, pda. Grounded on the
// teacher's cmd/cli package layout (one file per command group, each
// command calling core directly, RegisterRoutes aggregating everything
// onto the root command).
package cli

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	core "synnergy-network/core"
)

// globalFlags mirrors spec §6's "Global flags": --network, --url, --ws-url,
// --keypair.
type globalFlags struct {
	network  string
	url      string
	wsURL    string
	keypair  string
	cacheDir string
}

var flags globalFlags

// RegisterGlobalFlags attaches the global flags to the root command,
// following the teacher's cmd/synnergy/main.go convention of a single
// root *cobra.Command configured once at startup.
func RegisterGlobalFlags(root *cobra.Command) {
	root.PersistentFlags().StringVar(&flags.network, "network", "devnet", "mainnet|devnet|testnet|localnet")
	root.PersistentFlags().StringVar(&flags.url, "url", "", "RPC endpoint URL (comma-separated for a pool); empty uses the embedded devnet program")
	root.PersistentFlags().StringVar(&flags.wsURL, "ws-url", "", "websocket endpoint for event subscriptions")
	root.PersistentFlags().StringVar(&flags.keypair, "keypair", "", "path to a keypair file; empty generates an ephemeral devnet key")
	root.PersistentFlags().StringVar(&flags.cacheDir, "cache-dir", defaultCacheDir(), "local chunk cache directory")
}

// RegisterRoutes attaches every command group to root, the teacher's
// aggregation pattern (cmd/cli/index.go).
func RegisterRoutes(root *cobra.Command) {
	RegisterGlobalFlags(root)
	root.AddCommand(
		listCmd(),
		infoCmd(),
		publishCmd(),
		fetchCmd(),
		initCmd(),
		airdropCmd(),
		balanceCmd(),
		pdaCmd(),
	)
}

func defaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ".cartridge-cache"
	}
	return filepath.Join(dir, "cartridge-vault")
}

// devnetProgramID is the fixed program identifier used by the embedded
// devnet program (no --url supplied). Real deployments pin one program ID
// across program, client library and decoder (spec §6).
var devnetProgramID = sha256.Sum256([]byte("cartridge-vault/devnet"))

var sharedProgram *core.Program

// buildTransport resolves the global flags into a Transport: an HTTP/JSON-RPC
// pool if --url was given, otherwise a singleton embedded devnet program
// (so repeated `init`/`publish`/`balance` calls in one process share state).
// The devnet program journals to a WAL file in the OS temp directory and
// replays it on open, so its state also carries across process invocations.
func buildTransport() (core.Transport, error) {
	if flags.url != "" {
		return core.NewHTTPTransport(core.HTTPTransportConfig{
			Endpoints: splitCommaList(flags.url),
			Logger:    logrus.StandardLogger(),
		}), nil
	}
	if sharedProgram == nil {
		p, err := core.NewProgram(core.ProgramConfig{
			ProgramID: devnetProgramID,
			WALPath:   filepath.Join(os.TempDir(), "cartridge-vault-devnet.wal"),
			Logger:    logrus.StandardLogger(),
		})
		if err != nil {
			return nil, err
		}
		sharedProgram = p
	}
	return &core.ProgramTransport{Program: sharedProgram}, nil
}

func splitCommaList(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func openCache() (*core.ChunkCache, error) {
	return core.OpenChunkCache(flags.cacheDir, 0, logrus.StandardLogger())
}

// loadOrGenerateKeypair reads a raw 32-byte public key from keypairPath, or
// generates an ephemeral one for devnet use (spec §6 --keypair flag).
func loadOrGenerateKeypair() ([32]byte, error) {
	var pk [32]byte
	if flags.keypair == "" {
		if _, err := rand.Read(pk[:]); err != nil {
			return pk, err
		}
		return pk, nil
	}
	b, err := os.ReadFile(flags.keypair)
	if err != nil {
		return pk, fmt.Errorf("read keypair: %w", err)
	}
	if len(b) < 32 {
		return pk, fmt.Errorf("keypair file too short")
	}
	copy(pk[:], b[:32])
	return pk, nil
}

func withCtx() context.Context { return context.Background() }
