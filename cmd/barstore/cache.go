package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/sawpanic/marketdata/internal/cache"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and evict the bundle fetch cache",
	}
	cmd.AddCommand(newCacheStatsCmd(), newCacheCleanCmd(), newCacheListCmd())
	return cmd
}

func newCacheStatsCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache hit/miss counters for the most recent recorded days",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCacheStats(cmd.Context(), days)
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "number of most recent days with recorded activity to show")
	return cmd
}

func runCacheStats(ctx context.Context, days int) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cat, err := openCatalog(ctx, cfg)
	if err != nil {
		return err
	}
	defer cat.Close()

	stats, err := cat.CacheStats(ctx, days)
	if err != nil {
		return fmt.Errorf("cache stats: %w", err)
	}
	if len(stats) == 0 {
		fmt.Println("no cache activity recorded")
		return nil
	}

	fmt.Printf("%-12s %8s %8s %10s %14s\n", "DATE", "HITS", "MISSES", "SIZE", "AVG LATENCY")
	for _, s := range stats {
		fmt.Printf("%-12s %8d %8d %10s %12.1fms\n",
			s.StatDate, s.HitCount, s.MissCount, humanize.Bytes(uint64(s.TotalSizeBytes)), s.AvgFetchLatencyMS)
	}
	return nil
}

func newCacheCleanCmd() *cobra.Command {
	var maxSize string
	var all bool
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Evict cache entries by LRU until under a size ceiling, or evict everything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCacheClean(cmd.Context(), maxSize, all)
		},
	}
	cmd.Flags().StringVar(&maxSize, "max-size", "", "size ceiling, e.g. 4GB, 500MB")
	cmd.Flags().BoolVar(&all, "all", false, "remove every cache entry regardless of size")
	return cmd
}

func runCacheClean(ctx context.Context, maxSize string, all bool) error {
	if !all && maxSize == "" {
		return fmt.Errorf("cache clean requires --max-size SIZE or --all")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cat, err := openCatalog(ctx, cfg)
	if err != nil {
		return err
	}
	defer cat.Close()

	ceiling := cfg.Cache.MaxSizeBytes
	if maxSize != "" {
		parsed, err := humanize.ParseBytes(maxSize)
		if err != nil {
			return fmt.Errorf("invalid --max-size %q: %w", maxSize, err)
		}
		ceiling = int64(parsed)
	}

	engine := cache.New(cat, ceiling)
	var evicted []string
	if all {
		evicted, err = engine.EvictAll(ctx)
	} else {
		evicted, err = engine.Evict(ctx)
	}
	if err != nil {
		return fmt.Errorf("cache clean: %w", err)
	}

	fmt.Printf("evicted %d cache entries\n", len(evicted))
	for _, key := range evicted {
		fmt.Printf("  %s\n", key)
	}
	return nil
}

func newCacheListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every cache entry ordered by last access",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCacheList(cmd.Context())
		},
	}
}

func runCacheList(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cat, err := openCatalog(ctx, cfg)
	if err != nil {
		return err
	}
	defer cat.Close()

	entries, err := cat.ListCacheEntries(ctx)
	if err != nil {
		return fmt.Errorf("cache list: %w", err)
	}
	if len(entries) == 0 {
		fmt.Println("cache is empty")
		return nil
	}

	fmt.Printf("%-40s %-20s %10s %s\n", "CACHE KEY", "BUNDLE", "SIZE", "LAST ACCESSED")
	for _, e := range entries {
		fmt.Printf("%-40s %-20s %10s %s\n",
			e.CacheKey, e.BundleName, humanize.Bytes(uint64(e.SizeBytes)),
			time.Unix(e.LastAccessed, 0).UTC().Format(time.RFC3339))
	}
	return nil
}
