package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethstatelabs/statewatch/internal/abireg"
	intcommon "github.com/ethstatelabs/statewatch/internal/common"
	"github.com/ethstatelabs/statewatch/internal/config"
	"github.com/ethstatelabs/statewatch/internal/db"
	"github.com/ethstatelabs/statewatch/internal/events"
	"github.com/ethstatelabs/statewatch/internal/hooks"
	"github.com/ethstatelabs/statewatch/internal/ingest"
	"github.com/ethstatelabs/statewatch/internal/logger"
	"github.com/ethstatelabs/statewatch/internal/metrics"
	"github.com/ethstatelabs/statewatch/internal/migrations"
	"github.com/ethstatelabs/statewatch/internal/rpc"
	"github.com/ethstatelabs/statewatch/internal/statecache"
	"github.com/ethstatelabs/statewatch/internal/upstream"
	pkgconfig "github.com/ethstatelabs/statewatch/pkg/config"
	"github.com/ethstatelabs/statewatch/pkg/watcher"
	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"
)

// components holds everything a command needs after wiring.
type components struct {
	cfg      *pkgconfig.Config
	log      *logger.Logger
	database *sql.DB
	client   *rpc.FailoverClient
	registry *abireg.Registry
	pipeline *ingest.Pipeline
	cache    *statecache.Cache
	metrics  *metrics.Server
}

func (c *components) close(ctx context.Context) {
	if c.metrics != nil {
		if err := c.metrics.Stop(ctx); err != nil {
			c.log.Warnf("failed to stop metrics server: %v", err)
		}
	}
	if c.database != nil {
		c.database.Close()
	}
}

// setup loads configuration and wires every component. The hook collaborator
// is nil here: the CLI drives the core directly and domain hooks belong to
// the embedding service.
func setup(ctx context.Context) (*components, error) {
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.NewComponentLoggerFromConfig(intcommon.ComponentWatcher, cfg.Logging)

	if err := migrations.RunMigrations(cfg.DB.Path); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	database, err := db.NewSQLiteDBFromConfig(cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	urls := append([]string{cfg.RPC.URL}, cfg.RPC.FallbackURLs...)
	client, err := rpc.Dial(ctx, urls, cfg.RPC.Timeout.Duration,
		logger.NewComponentLoggerFromConfig(intcommon.ComponentRPC, cfg.Logging))
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to connect to upstream node(s): %w", err)
	}

	registry := abireg.NewRegistry(logger.NewComponentLoggerFromConfig(intcommon.ComponentRegistry, cfg.Logging))
	contracts := make(map[common.Address]string, len(cfg.Contracts))
	var signatures []common.Hash

	for _, contract := range cfg.Contracts {
		abiJSON, err := os.ReadFile(contract.ABIFile)
		if err != nil {
			database.Close()
			return nil, fmt.Errorf("failed to read ABI for kind %s: %w", contract.Kind, err)
		}
		if err := registry.Register(contract.Kind, abiJSON); err != nil {
			database.Close()
			return nil, err
		}

		sigs, err := registry.Signatures(contract.Kind)
		if err != nil {
			database.Close()
			return nil, err
		}
		signatures = append(signatures, sigs...)
		contracts[contract.EthAddress()] = contract.Kind
	}

	parser := events.NewParser(registry,
		logger.NewComponentLoggerFromConfig(intcommon.ComponentParser, cfg.Logging))
	dispatcher := hooks.NewDispatcher(nil, cfg.Checkpoint.Interval, cfg.Checkpoint.EnableStateDiff,
		logger.NewComponentLoggerFromConfig(intcommon.ComponentHooks, cfg.Logging))
	pipeline := ingest.NewPipeline(database, parser, client, client, dispatcher,
		contracts, signatures, cfg.Ingest,
		logger.NewComponentLoggerFromConfig(intcommon.ComponentIngest, cfg.Logging))

	resolver := upstream.NewResolver(registry, client,
		logger.NewComponentLoggerFromConfig(intcommon.ComponentUpstream, cfg.Logging),
		upstream.GetBatchesSpec(), upstream.BalanceOfSpec())
	cache := statecache.New(database, client, resolver,
		logger.NewComponentLoggerFromConfig(intcommon.ComponentStateCache, cfg.Logging))

	c := &components{
		cfg:      cfg,
		log:      log,
		database: database,
		client:   client,
		registry: registry,
		pipeline: pipeline,
		cache:    cache,
	}

	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		c.metrics = metrics.NewServer(cfg.Metrics)
		if err := c.metrics.Start(ctx); err != nil {
			c.close(ctx)
			return nil, fmt.Errorf("failed to start metrics server: %w", err)
		}
		log.Infof("metrics server started on %s%s", cfg.Metrics.ListenAddress, cfg.Metrics.Path)
	}

	return c, nil
}

// signalContext returns a context cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := migrations.RunMigrations(cfg.DB.Path); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	fmt.Println("migrations applied")
	return nil
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	c, err := setup(ctx)
	if err != nil {
		return err
	}
	defer c.close(ctx)

	ref := watcher.BlockRef{
		Hash:   common.HexToHash(ingestBlockHash),
		Number: ingestBlockNumber,
		CID:    ingestCID,
	}

	if err := c.pipeline.IngestBlock(ctx, ref); err != nil {
		return fmt.Errorf("ingesting block %d: %w", ref.Number, err)
	}

	return nil
}

func runResolve(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	c, err := setup(ctx)
	if err != nil {
		return err
	}
	defer c.close(ctx)

	contract, err := contractForKind(c.cfg, resolveKind)
	if err != nil {
		return err
	}

	callArgs, err := parseCallArgs(resolveArgs)
	if err != nil {
		return err
	}

	result, err := c.cache.Resolve(ctx, watcher.Query{
		Kind:      resolveKind,
		Method:    resolveMethod,
		BlockHash: common.HexToHash(resolveBlockHash),
		Contract:  contract,
		Args:      callArgs,
	})
	if err != nil {
		return fmt.Errorf("resolving %s.%s: %w", resolveKind, resolveMethod, err)
	}

	out, err := json.MarshalIndent(map[string]interface{}{
		"value":       json.RawMessage(result.Value),
		"proof":       json.RawMessage(result.Proof),
		"blockNumber": result.BlockNumber,
	}, "", "  ")
	if err != nil {
		return err
	}

	fmt.Println(string(out))
	return nil
}

func runSchema(cmd *cobra.Command, args []string) error {
	schema := jsonschema.Reflect(&pkgconfig.Config{})
	out, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to generate config schema: %w", err)
	}

	fmt.Println(string(out))
	return nil
}

func contractForKind(cfg *pkgconfig.Config, kind string) (common.Address, error) {
	for _, contract := range cfg.Contracts {
		if contract.Kind == kind {
			return contract.EthAddress(), nil
		}
	}
	return common.Address{}, fmt.Errorf("no contract configured for kind %q", kind)
}

// parseCallArgs converts CLI argument strings into ABI call values:
// 0x-prefixed 20-byte values become addresses, decimal strings become
// *big.Int, everything else stays a string.
func parseCallArgs(args []string) ([]interface{}, error) {
	parsed := make([]interface{}, 0, len(args))

	for _, arg := range args {
		switch {
		case strings.HasPrefix(arg, "0x") && len(arg) == 42:
			parsed = append(parsed, common.HexToAddress(arg))
		case isDecimal(arg):
			value, ok := new(big.Int).SetString(arg, 10)
			if !ok {
				return nil, fmt.Errorf("invalid integer argument %q", arg)
			}
			parsed = append(parsed, value)
		default:
			parsed = append(parsed, arg)
		}
	}

	return parsed, nil
}

func isDecimal(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
