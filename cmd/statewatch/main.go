package main

import (
	"os"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "statewatch",
	Short: "statewatch - contract state tracker",
	Long: `statewatch tracks on-chain state for watched smart contracts. It ingests
blocks and their contract events transactionally and answers point-in-time
view queries through a persisted, proof-carrying cache.`,
	Version: version,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE:  runMigrate,
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest a single block and its contract events",
	Long: `Fetch all logs of the given block that match the watched contracts,
decode them against the registered ABIs, and persist the block together with
its events as one transaction.`,
	RunE: runIngest,
}

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve a view method at a historical block",
	Long: `Resolve the value of a contract view method at the given block hash,
through the persisted cache. On a miss the value is computed against the
upstream node and stored before returning.`,
	RunE: runResolve,
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the configuration JSON schema",
	RunE:  runSchema,
}

var (
	ingestBlockHash   string
	ingestBlockNumber uint64
	ingestCID         string

	resolveKind      string
	resolveMethod    string
	resolveBlockHash string
	resolveArgs      []string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to configuration file")

	ingestCmd.Flags().StringVar(&ingestBlockHash, "block-hash", "", "hash of the block to ingest (required)")
	ingestCmd.Flags().Uint64Var(&ingestBlockNumber, "block-number", 0, "number of the block to ingest (required)")
	ingestCmd.Flags().StringVar(&ingestCID, "cid", "", "optional content identifier stored with the block")
	_ = ingestCmd.MarkFlagRequired("block-hash")
	_ = ingestCmd.MarkFlagRequired("block-number")

	resolveCmd.Flags().StringVar(&resolveKind, "kind", "", "contract kind (required)")
	resolveCmd.Flags().StringVar(&resolveMethod, "method", "", "view method name (required)")
	resolveCmd.Flags().StringVar(&resolveBlockHash, "block-hash", "", "block hash to resolve at (required)")
	resolveCmd.Flags().StringArrayVar(&resolveArgs, "arg", nil,
		"method argument, repeatable (addresses as 0x..., integers as decimals)")
	_ = resolveCmd.MarkFlagRequired("kind")
	_ = resolveCmd.MarkFlagRequired("method")
	_ = resolveCmd.MarkFlagRequired("block-hash")

	rootCmd.AddCommand(migrateCmd, ingestCmd, resolveCmd, schemaCmd)
}
