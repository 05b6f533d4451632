package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/marketdata/internal/bar"
	"github.com/sawpanic/marketdata/internal/errs"
	atomicio "github.com/sawpanic/marketdata/internal/io"
)

// Cataloger is the narrow surface the Writer needs from the metadata
// catalog: one call recording provenance, quality, and symbols for a
// completed write. Defined here, on the consumer side, so store has no
// compile-time dependency on internal/catalog — catalog.Catalog satisfies
// this interface structurally.
type Cataloger interface {
	RecordWrite(ctx context.Context, rec WriteRecord) error
}

// WriteRecord is everything the Writer learned about a completed partition
// write that the catalog needs to persist.
type WriteRecord struct {
	Bundle         string
	SourceType     string
	SourceURL      string
	APIVersion     string
	DataVersion    string
	Timezone       string
	Checksum       string
	RowCount       int
	StartDate      time.Time
	EndDate        time.Time
	MissingDays    []string
	ViolationCount int
	Symbols        []SymbolInfo
}

// SymbolInfo is one symbol observed in a write, for the catalog's symbol
// table upsert.
type SymbolInfo struct {
	Symbol    string
	AssetKind bar.AssetKind
	Exchange  string
}

// WriteOptions controls one Writer.Write call.
type WriteOptions struct {
	Compression Compression
	Catalog     Cataloger // nil disables catalog integration
	Bundle      string
	SourceType  string
	SourceURL   string
	APIVersion  string
	DataVersion string
	Timezone    string
	Exchange    string
	// Symbols maps sid -> provider symbol string, used to infer AssetKind
	// and populate the catalog's symbol table. Optional.
	Symbols map[int64]string
}

// Writer writes canonical bar batches to partitioned, compressed files
// under a bundle root. Each partition lands via temp-file-then-rename, so
// no reader ever observes a partial file.
type Writer struct{}

func NewWriter() *Writer { return &Writer{} }

// Write validates, partitions, and atomically persists rows for a single
// bundle+resolution. A single call may touch only one partition; batches
// spanning several fan out through WriteBatch.
func (w *Writer) Write(ctx context.Context, bundleRoot string, res bar.Resolution, rows []bar.Bar, opts WriteOptions) (string, error) {
	if len(rows) == 0 {
		return "", nil
	}

	sorted := append([]bar.Bar(nil), rows...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })

	year, month, day := sorted[0].Partition(res)
	for _, r := range sorted[1:] {
		y, m, d := r.Partition(res)
		if y != year || m != month || d != day {
			return "", errs.New(errs.IO, "store.Write",
				fmt.Errorf("batch spans multiple partitions; call WriteBatch instead"))
		}
	}

	if detail := validateRows(sorted); detail.Count > 0 {
		return "", errs.New(errs.Validation, "store.Write", detail)
	}

	partDir := partitionDir(bundleRoot, res, year, month, day)
	finalPath := filepath.Join(partDir, "data.bin")

	encoded, err := encodeFile(sorted, res, opts.Compression)
	if err != nil {
		return "", errs.New(errs.IO, "store.Write", err)
	}

	// Concurrent writers targeting the same partition serialize on this
	// rename; the last one to land wins, which is safe because the content
	// is fully determined by (source, range, symbol).
	if err := atomicio.WriteFileAtomic(finalPath, encoded); err != nil {
		return "", errs.New(errs.IO, "store.Write", err)
	}

	checksum, err := checksumFile(finalPath)
	if err != nil {
		return "", errs.New(errs.IO, "store.Write", err)
	}

	log.Info().Str("path", finalPath).Int("rows", len(sorted)).
		Str("compression", opts.Compression.String()).Msg("bar partition written")

	if opts.Catalog != nil {
		rec := WriteRecord{
			Bundle: opts.Bundle,
			SourceType: opts.SourceType, SourceURL: opts.SourceURL,
			APIVersion: opts.APIVersion, DataVersion: opts.DataVersion, Timezone: opts.Timezone,
			Checksum: checksum, RowCount: len(sorted),
			StartDate: sorted[0].Time, EndDate: sorted[len(sorted)-1].Time,
			MissingDays: missingDays(sorted, res),
		}
		for _, symbol := range opts.Symbols {
			rec.Symbols = append(rec.Symbols, SymbolInfo{
				Symbol:    symbol,
				AssetKind: bar.InferAssetKind(symbol),
				Exchange:  opts.Exchange,
			})
		}
		if err := opts.Catalog.RecordWrite(ctx, rec); err != nil {
			return finalPath, errs.New(errs.Catalog, "store.Write", err)
		}
	}

	return finalPath, nil
}

// WriteBatch groups rows by partition and writes each partition with a
// separate atomic rename. All rows across the batch must pass validation
// or none are written: one violating row aborts the whole batch.
func (w *Writer) WriteBatch(ctx context.Context, bundleRoot string, res bar.Resolution, rows []bar.Bar, opts WriteOptions) ([]string, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	if detail := validateRows(rows); detail.Count > 0 {
		return nil, errs.New(errs.Validation, "store.WriteBatch", detail)
	}

	type partKey struct{ year, month, day int }
	grouped := make(map[partKey][]bar.Bar)
	var order []partKey
	for _, r := range rows {
		y, m, d := r.Partition(res)
		k := partKey{y, m, d}
		if _, ok := grouped[k]; !ok {
			order = append(order, k)
		}
		grouped[k] = append(grouped[k], r)
	}

	var paths []string
	for _, k := range order {
		path, err := w.Write(ctx, bundleRoot, res, grouped[k], opts)
		if path != "" {
			paths = append(paths, path)
		}
		if err != nil {
			return paths, err
		}
	}
	return paths, nil
}

// missingDays enumerates the calendar days between a daily batch's first and
// last bar that have no row, for the catalog's quality record. Intraday gaps
// are expected (sessions, liquidity) and not tracked.
func missingDays(rows []bar.Bar, res bar.Resolution) []string {
	if res != bar.Daily || len(rows) < 2 {
		return nil
	}
	have := make(map[string]bool, len(rows))
	for _, r := range rows {
		have[r.Time.UTC().Format("2006-01-02")] = true
	}
	var missing []string
	last := rows[len(rows)-1].Time.UTC()
	for d := rows[0].Time.UTC(); d.Before(last); d = d.Add(24 * time.Hour) {
		if key := d.Format("2006-01-02"); !have[key] {
			missing = append(missing, key)
		}
	}
	return missing
}

// validateRows checks every row's OHLCV invariants and reports the violation
// count plus a small sample for the error message.
func validateRows(rows []bar.Bar) *errs.ValidationDetail {
	detail := &errs.ValidationDetail{}
	for _, r := range rows {
		if err := r.Validate(); err != nil {
			detail.Count++
			if len(detail.Sample) < 3 {
				detail.Sample = append(detail.Sample, fmt.Sprintf("%s sid=%d: %s", r.Time.Format(time.RFC3339), r.Sid, err))
			}
		}
	}
	return detail
}

func partitionDir(bundleRoot string, res bar.Resolution, year, month, day int) string {
	if res == bar.Daily {
		return filepath.Join(bundleRoot, "daily_bars", fmt.Sprintf("year=%04d", year), fmt.Sprintf("month=%02d", month))
	}
	return filepath.Join(bundleRoot, "minute_bars", fmt.Sprintf("year=%04d", year), fmt.Sprintf("month=%02d", month), fmt.Sprintf("day=%02d", day))
}

func checksumFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
