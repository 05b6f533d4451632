// Command barstore is the CLI surface over the market-data plane: ingest
// bundles, inspect/validate them, and manage the LRU cache.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/marketdata/internal/catalog"
	"github.com/sawpanic/marketdata/internal/config"
)

const version = "v0.1.0"

var configPath string

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	root := &cobra.Command{
		Use:     "barstore",
		Short:   "Ingest, inspect, and cache OHLCV bundles",
		Version: version,
		Long: `barstore drives the market-data plane: fetching OHLCV bars from
configured providers, validating and writing them into the partitioned
columnar store, and keeping the metadata catalog and LRU cache in sync.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to the barstore YAML config")

	root.AddCommand(newIngestCmd())
	root.AddCommand(newBundleCmd())
	root.AddCommand(newCacheCmd())

	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("barstore command failed")
		os.Exit(1)
	}
}

// loadConfig reads the YAML config named by --config. Every subcommand
// needs it to locate the catalog and bundle root.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// openCatalog opens the catalog database named by the loaded config,
// migrating it in place if needed.
func openCatalog(ctx context.Context, cfg *config.Config) (*catalog.Catalog, error) {
	cat, err := catalog.Open(ctx, cfg.Catalog.Path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	return cat, nil
}
