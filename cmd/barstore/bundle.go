package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/sawpanic/marketdata/internal/bar"
	"github.com/sawpanic/marketdata/internal/store"
)

func newBundleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bundle",
		Short: "List, inspect, and validate ingested bundles",
	}
	cmd.AddCommand(newBundleListCmd(), newBundleInfoCmd(), newBundleValidateCmd())
	return cmd
}

func newBundleListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every bundle in the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBundleList(cmd.Context())
		},
	}
}

func runBundleList(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cat, err := openCatalog(ctx, cfg)
	if err != nil {
		return err
	}
	defer cat.Close()

	bundles, err := cat.ListBundles(ctx)
	if err != nil {
		return fmt.Errorf("list bundles: %w", err)
	}
	if len(bundles) == 0 {
		fmt.Println("no bundles ingested yet")
		return nil
	}

	fmt.Printf("%-30s %-12s %s\n", "BUNDLE", "SOURCE", "LAST FETCHED")
	for _, b := range bundles {
		fetched := "never"
		if b.FetchTimestamp > 0 {
			fetched = time.Unix(b.FetchTimestamp, 0).UTC().Format(time.RFC3339)
		}
		fmt.Printf("%-30s %-12s %s\n", b.BundleName, b.SourceType, fetched)
	}
	return nil
}

func newBundleInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <name>",
		Short: "Show provenance, quality, and symbol detail for a bundle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBundleInfo(cmd.Context(), args[0])
		},
	}
}

func runBundleInfo(ctx context.Context, name string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cat, err := openCatalog(ctx, cfg)
	if err != nil {
		return err
	}
	defer cat.Close()

	prov, err := cat.GetProvenance(ctx, name)
	if err != nil {
		return fmt.Errorf("bundle %q: %w", name, err)
	}
	fmt.Printf("bundle:       %s\n", prov.BundleName)
	fmt.Printf("source:       %s (%s)\n", prov.SourceType, prov.SourceURL)
	fmt.Printf("api version:  %s\n", prov.APIVersion)
	fmt.Printf("fetched at:   %s\n", time.Unix(prov.FetchTimestamp, 0).UTC().Format(time.RFC3339))
	fmt.Printf("checksum:     %s\n", prov.Checksum)
	fmt.Printf("timezone:     %s\n", prov.Timezone)

	quality, err := cat.LatestQuality(ctx, name)
	if err == nil {
		status := "PASS"
		if !quality.ValidationPassed {
			status = "FAIL"
		}
		fmt.Printf("rows:         %d (%s .. %s)\n", quality.RowCount,
			time.Unix(quality.StartDate, 0).UTC().Format("2006-01-02"),
			time.Unix(quality.EndDate, 0).UTC().Format("2006-01-02"))
		fmt.Printf("violations:   %d\n", quality.OHLCVViolations)
		fmt.Printf("validation:   %s (as of %s)\n", status,
			time.Unix(quality.ValidationTimestamp, 0).UTC().Format(time.RFC3339))
	}

	symbols, err := cat.Symbols(ctx, name)
	if err != nil {
		return fmt.Errorf("bundle %q symbols: %w", name, err)
	}
	fmt.Printf("symbols:      %d\n", len(symbols))
	for _, s := range symbols {
		fmt.Printf("  %-4d %-16s %-8s %s\n", s.ID, s.Symbol, s.AssetKind, s.Exchange)
	}

	printCompressionSummary(cfg.Store.BundleRoot+"/"+name, store.NewReader())
	return nil
}

// printCompressionSummary reports the average compression ratio across a
// bundle's written partitions.
func printCompressionSummary(bundleRoot string, reader *store.Reader) {
	var files []string
	for _, res := range []bar.Resolution{bar.Daily, bar.Minute} {
		found, err := reader.Files(bundleRoot, res)
		if err != nil {
			return
		}
		files = append(files, found...)
	}
	if len(files) == 0 {
		return
	}

	var compressedTotal, rawTotal int64
	for _, f := range files {
		stats, err := store.FileCompressionStats(f)
		if err != nil {
			continue
		}
		compressedTotal += stats.CompressedSize
		rawTotal += stats.RawSize
	}
	if rawTotal == 0 {
		return
	}
	fmt.Printf("compression:  %.1f%% of raw size across %d file(s)\n",
		100*float64(compressedTotal)/float64(rawTotal), len(files))
}

func newBundleValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <name>",
		Short: "Re-read a bundle's files and confirm the catalog row count matches",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBundleValidate(cmd.Context(), args[0])
		},
	}
}

// runBundleValidate re-scans the bundle's partitions over the date range of
// the catalog's latest quality row and checks the rows found there against
// that row's row_count: a healthy bundle's files contain exactly row_count
// rows in that range.
func runBundleValidate(ctx context.Context, name string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cat, err := openCatalog(ctx, cfg)
	if err != nil {
		return err
	}
	defer cat.Close()

	quality, err := cat.LatestQuality(ctx, name)
	if err != nil {
		return fmt.Errorf("bundle %q: %w", name, err)
	}

	bundleRoot := cfg.Store.BundleRoot + "/" + name
	reader := store.NewReader()
	start := time.Unix(quality.StartDate, 0).UTC()
	end := time.Unix(quality.EndDate, 0).UTC().Add(24 * time.Hour)

	actual := 0
	for _, res := range []bar.Resolution{bar.Daily, bar.Minute} {
		rows, err := reader.Read(bundleRoot, res, nil, start, end)
		if err != nil {
			return fmt.Errorf("scan bundle %q: %w", name, err)
		}
		actual += len(rows)
	}

	if actual != quality.RowCount {
		fmt.Printf("FAIL: bundle %q catalog row_count=%d, files contain %d rows\n",
			name, quality.RowCount, actual)
		return fmt.Errorf("row count mismatch for bundle %q: catalog=%d files=%d", name, quality.RowCount, actual)
	}

	fmt.Printf("PASS: bundle %q, %s rows match catalog\n", name, humanize.Comma(int64(actual)))
	return nil
}
