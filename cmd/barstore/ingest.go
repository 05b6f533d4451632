package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/marketdata/internal/adapters"
	"github.com/sawpanic/marketdata/internal/breaker"
	"github.com/sawpanic/marketdata/internal/cache"
	"github.com/sawpanic/marketdata/internal/config"
	"github.com/sawpanic/marketdata/internal/orchestrator"
	"github.com/sawpanic/marketdata/internal/ratelimit"
	"github.com/sawpanic/marketdata/internal/retry"
	"github.com/sawpanic/marketdata/internal/secrets"
	"github.com/sawpanic/marketdata/internal/store"
)

const dateLayout = "2006-01-02"

func newIngestCmd() *cobra.Command {
	var (
		symbols   []string
		startStr  string
		endStr    string
		frequency string
		provider  string
	)

	cmd := &cobra.Command{
		Use:   "ingest <bundle>",
		Short: "Fetch, validate, and store OHLCV bars for a bundle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd.Context(), args[0], symbols, startStr, endStr, frequency, provider)
		},
	}

	cmd.Flags().StringSliceVar(&symbols, "symbols", nil, "comma-separated symbol list (required)")
	cmd.Flags().StringVar(&startStr, "start", "", "inclusive UTC start date, YYYY-MM-DD (required)")
	cmd.Flags().StringVar(&endStr, "end", "", "inclusive UTC end date, YYYY-MM-DD (required)")
	cmd.Flags().StringVar(&frequency, "frequency", "1d", "bar frequency: 1m, 5m, 15m, 30m, 1h, 1d")
	cmd.Flags().StringVar(&provider, "provider", "", "provider name, keyed in config.yaml providers (required)")
	cmd.MarkFlagRequired("symbols")
	cmd.MarkFlagRequired("start")
	cmd.MarkFlagRequired("end")
	cmd.MarkFlagRequired("provider")

	return cmd
}

func runIngest(ctx context.Context, bundleName string, symbols []string, startStr, endStr, frequency, providerName string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	providerCfg, ok := cfg.Providers[providerName]
	if !ok {
		return fmt.Errorf("no provider %q configured in %s", providerName, configPath)
	}

	start, err := time.Parse(dateLayout, startStr)
	if err != nil {
		return fmt.Errorf("invalid --start %q: %w", startStr, err)
	}
	end, err := time.Parse(dateLayout, endStr)
	if err != nil {
		return fmt.Errorf("invalid --end %q: %w", endStr, err)
	}
	timeframe, err := parseFrequency(frequency)
	if err != nil {
		return err
	}

	cat, err := openCatalog(ctx, cfg)
	if err != nil {
		return err
	}
	defer cat.Close()

	adapter, err := buildAdapter(providerCfg)
	if err != nil {
		return fmt.Errorf("construct adapter %q: %w", providerName, err)
	}

	compression, err := parseCompression(cfg.Store.Compression)
	if err != nil {
		return err
	}

	cacheEngine := cache.New(cat, cfg.Cache.MaxSizeBytes)
	bundleRoot := cfg.Store.BundleRoot + "/" + bundleName
	orch := orchestrator.New(adapter, store.NewWriter(), cat, cacheEngine, bundleRoot, compression, providerCfg.Name)

	var failed []string
	for _, symbol := range symbols {
		job := orchestrator.NewJob(bundleName, symbol, timeframe, start, end)
		result := orch.Run(ctx, job)
		if result.State != orchestrator.StateDone {
			log.Error().Str("symbol", symbol).Err(result.Err).Msg("ingest job failed")
			failed = append(failed, symbol)
			continue
		}
		log.Info().Str("symbol", symbol).Int("rows", result.RowsWritten).Msg("ingest job done")
	}

	if len(failed) > 0 {
		return fmt.Errorf("ingest failed for %d/%d symbols: %s", len(failed), len(symbols), strings.Join(failed, ", "))
	}
	return nil
}

// parseFrequency maps the CLI's --frequency flag to a canonical adapter
// timeframe, rejecting anything outside the supported set up front.
func parseFrequency(frequency string) (adapters.Timeframe, error) {
	switch tf := adapters.Timeframe(frequency); tf {
	case adapters.TF1m, adapters.TF5m, adapters.TF15m, adapters.TF30m, adapters.TF1h, adapters.TF1d:
		return tf, nil
	default:
		return "", fmt.Errorf("unknown --frequency %q: want one of 1m, 5m, 15m, 30m, 1h, 1d", frequency)
	}
}

func parseCompression(s string) (store.Compression, error) {
	switch s {
	case "", "lightweight":
		return store.Lightweight, nil
	case "strong":
		return store.Strong, nil
	default:
		return store.Lightweight, fmt.Errorf("unknown compression %q: want lightweight or strong", s)
	}
}

// buildAdapter constructs the registered adapter for providerCfg.Kind,
// resolving credentials from the environment and failing fast at
// construction when a provider that needs them has none set.
func buildAdapter(providerCfg config.ProviderConfig) (adapters.Adapter, error) {
	env := secrets.NewEnvProvider(providerCfg.Name)

	acfg := adapters.Config{
		Provider: providerCfg.Name,
		BaseURL:  providerCfg.BaseURL,
	}

	switch providerCfg.Kind {
	case "csvfs":
		// No network, no credentials.
	case "equities":
		apiKey, err := config.RequireCredential(env, "api_key")
		if err != nil {
			return nil, err
		}
		apiSecret, err := config.RequireCredential(env, "api_secret")
		if err != nil {
			return nil, err
		}
		acfg.APIKey, acfg.APISecret = apiKey, apiSecret
	default:
		if apiKey, err := env.Get("api_key"); err == nil {
			acfg.APIKey = apiKey
		}
		if apiSecret, err := env.Get("api_secret"); err == nil {
			acfg.APISecret = apiSecret
		}
	}

	if providerCfg.Kind != "csvfs" {
		limiter := ratelimit.NewManager(providerCfg.RPS(), providerCfg.Burst)
		if providerCfg.RequestsPerDay > 0 {
			limiter.AddProviderWithQuota(providerCfg.Name, providerCfg.RPS(), providerCfg.Burst,
				providerCfg.RequestsPerDay, ratelimit.QuotaWindow(providerCfg.QuotaWindow))
		} else {
			limiter.AddProvider(providerCfg.Name, providerCfg.RPS(), providerCfg.Burst)
		}
		retryCfg := retry.DefaultConfig()
		if providerCfg.CircuitTimeoutDuration() > 0 {
			retryCfg.MaxInterval = providerCfg.CircuitTimeoutDuration()
		}
		acfg.Guards = adapters.Guards{
			Limiter:  limiter,
			Breakers: breaker.NewManager(),
			Retry:    retryCfg,
		}
	}

	return adapters.New(providerCfg.Kind, acfg)
}
