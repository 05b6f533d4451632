// Package catalog implements the transactional metadata store: bundle
// provenance, data quality history, symbol->sid resolution, and the
// cache-entry bookkeeping used by internal/cache. Backed by modernc.org/sqlite
// (pure Go, no cgo) through sqlx.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/sawpanic/marketdata/internal/bar"
	"github.com/sawpanic/marketdata/internal/errs"
	"github.com/sawpanic/marketdata/internal/store"
)

// Catalog is a single-file SQLite-backed metadata store. A *Catalog is safe
// for concurrent use; SQLite itself serializes writers.
type Catalog struct {
	db *sqlx.DB
}

// Open opens (creating if absent) the catalog database at path and migrates
// it to the current schema, backing up any legacy catalog first.
func Open(ctx context.Context, path string) (*Catalog, error) {
	if err := backupLegacyIfNeeded(path); err != nil {
		return nil, errs.New(errs.Catalog, "catalog.Open", err)
	}

	db, err := sqlx.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, errs.New(errs.Catalog, "catalog.Open", err)
	}
	db.SetMaxOpenConns(1) // SQLite: one writer at a time, avoid SQLITE_BUSY thrash

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errs.New(errs.Catalog, "catalog.Open", err)
	}

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, errs.New(errs.Catalog, "catalog.Open", err)
	}

	return &Catalog{db: db}, nil
}

func (c *Catalog) Close() error {
	return c.db.Close()
}

func migrate(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	var count int
	if err := db.GetContext(ctx, &count, `SELECT COUNT(*) FROM schema_version`); err != nil {
		return fmt.Errorf("read schema_version: %w", err)
	}
	if count == 0 {
		if _, err := db.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES (?)`, currentSchemaVersion); err != nil {
			return fmt.Errorf("seed schema_version: %w", err)
		}
	}
	return nil
}

func nowUnix() int64 { return time.Now().Unix() }

// Provenance captures where a bundle's data came from and when it was last
// refreshed.
type Provenance struct {
	BundleName     string `db:"bundle_name"`
	SourceType     string `db:"source_type"`
	SourceURL      string `db:"source_url"`
	APIVersion     string `db:"api_version"`
	FetchTimestamp int64  `db:"fetch_timestamp"`
	DataVersion    string `db:"data_version"`
	Checksum       string `db:"checksum"`
	Timezone       string `db:"timezone"`
	CreatedAt      int64  `db:"created_at"`
	UpdatedAt      int64  `db:"updated_at"`
}

// UpsertProvenance inserts or refreshes a bundle's provenance row.
func (c *Catalog) UpsertProvenance(ctx context.Context, p Provenance) error {
	now := nowUnix()
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO bundle_metadata (
			bundle_name, source_type, source_url, api_version, fetch_timestamp,
			data_version, checksum, timezone, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(bundle_name) DO UPDATE SET
			source_type=excluded.source_type, source_url=excluded.source_url,
			api_version=excluded.api_version, fetch_timestamp=excluded.fetch_timestamp,
			data_version=excluded.data_version, checksum=excluded.checksum,
			timezone=excluded.timezone, updated_at=excluded.updated_at
	`, p.BundleName, p.SourceType, p.SourceURL, p.APIVersion, p.FetchTimestamp,
		p.DataVersion, p.Checksum, p.Timezone, now, now)
	if err != nil {
		return errs.New(errs.Catalog, "catalog.UpsertProvenance", err)
	}
	return nil
}

func (c *Catalog) GetProvenance(ctx context.Context, bundle string) (*Provenance, error) {
	var p Provenance
	err := c.db.GetContext(ctx, &p, `SELECT * FROM bundle_metadata WHERE bundle_name = ?`, bundle)
	if err == sql.ErrNoRows {
		return nil, errs.New(errs.SymbolNotFound, "catalog.GetProvenance", fmt.Errorf("bundle %q not found", bundle))
	}
	if err != nil {
		return nil, errs.New(errs.Catalog, "catalog.GetProvenance", err)
	}
	return &p, nil
}

// BundleSummary is a lightweight listing row.
type BundleSummary struct {
	BundleName     string `db:"bundle_name"`
	SourceType     string `db:"source_type"`
	FetchTimestamp int64  `db:"fetch_timestamp"`
}

func (c *Catalog) ListBundles(ctx context.Context) ([]BundleSummary, error) {
	var rows []BundleSummary
	err := c.db.SelectContext(ctx, &rows,
		`SELECT bundle_name, source_type, fetch_timestamp FROM bundle_metadata ORDER BY bundle_name`)
	if err != nil {
		return nil, errs.New(errs.Catalog, "catalog.ListBundles", err)
	}
	return rows, nil
}

// Quality is one validation pass over a bundle. Rows are append-only; the
// latest row by ValidationTimestamp is the authoritative view of the
// bundle's current status.
type Quality struct {
	ID                  int64  `db:"id"`
	BundleName          string `db:"bundle_name"`
	RowCount            int    `db:"row_count"`
	StartDate           int64  `db:"start_date"`
	EndDate             int64  `db:"end_date"`
	MissingDaysCount    int    `db:"missing_days_count"`
	MissingDaysList     string `db:"missing_days_list"`
	OutlierCount        int    `db:"outlier_count"`
	OHLCVViolations     int    `db:"ohlcv_violations"`
	ValidationTimestamp int64  `db:"validation_timestamp"`
	ValidationPassed    bool   `db:"validation_passed"`
}

func (c *Catalog) InsertQuality(ctx context.Context, q Quality) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO data_quality_metrics (
			bundle_name, row_count, start_date, end_date, missing_days_count,
			missing_days_list, outlier_count, ohlcv_violations, validation_timestamp, validation_passed
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, q.BundleName, q.RowCount, q.StartDate, q.EndDate, q.MissingDaysCount,
		q.MissingDaysList, q.OutlierCount, q.OHLCVViolations, q.ValidationTimestamp, q.ValidationPassed)
	if err != nil {
		return errs.New(errs.Catalog, "catalog.InsertQuality", err)
	}
	return nil
}

func (c *Catalog) LatestQuality(ctx context.Context, bundle string) (*Quality, error) {
	var q Quality
	err := c.db.GetContext(ctx, &q, `
		SELECT * FROM data_quality_metrics
		WHERE bundle_name = ? ORDER BY validation_timestamp DESC LIMIT 1
	`, bundle)
	if err == sql.ErrNoRows {
		return nil, errs.New(errs.NoDataAvailable, "catalog.LatestQuality", fmt.Errorf("no quality history for %q", bundle))
	}
	if err != nil {
		return nil, errs.New(errs.Catalog, "catalog.LatestQuality", err)
	}
	return &q, nil
}

// Symbol is one bundle-local symbol mapped to a dense integer sid (the sid
// is bundle_symbols.id, matching bar.Bar.Sid).
type Symbol struct {
	ID         int64         `db:"id"`
	BundleName string        `db:"bundle_name"`
	Symbol     string        `db:"symbol"`
	AssetKind  bar.AssetKind `db:"asset_type"`
	Exchange   string        `db:"exchange"`
}

// ResolveSid returns the dense sid for bundle+symbol, creating the symbol
// row the first time a symbol is observed within a bundle. A bundle with no
// bundle_metadata row yet gets an empty one, which RecordWrite later fills.
func (c *Catalog) ResolveSid(ctx context.Context, bundle, symbol string, kind bar.AssetKind, exchange string) (int64, error) {
	var id int64
	err := c.db.GetContext(ctx, &id,
		`SELECT id FROM bundle_symbols WHERE bundle_name = ? AND symbol = ?`, bundle, symbol)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, errs.New(errs.Catalog, "catalog.ResolveSid", err)
	}

	now := nowUnix()
	if _, err := c.db.ExecContext(ctx, `
		INSERT INTO bundle_metadata (bundle_name, created_at, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(bundle_name) DO NOTHING
	`, bundle, now, now); err != nil {
		return 0, errs.New(errs.Catalog, "catalog.ResolveSid", err)
	}

	res, err := c.db.ExecContext(ctx, `
		INSERT INTO bundle_symbols (bundle_name, symbol, asset_type, exchange) VALUES (?, ?, ?, ?)
	`, bundle, symbol, string(kind), exchange)
	if err != nil {
		return 0, errs.New(errs.Catalog, "catalog.ResolveSid", err)
	}
	id, err = res.LastInsertId()
	if err != nil {
		return 0, errs.New(errs.Catalog, "catalog.ResolveSid", err)
	}
	return id, nil
}

func (c *Catalog) Symbols(ctx context.Context, bundle string) ([]Symbol, error) {
	var rows []Symbol
	err := c.db.SelectContext(ctx, &rows,
		`SELECT id, bundle_name, symbol, asset_type, exchange FROM bundle_symbols WHERE bundle_name = ? ORDER BY id`, bundle)
	if err != nil {
		return nil, errs.New(errs.Catalog, "catalog.Symbols", err)
	}
	return rows, nil
}

// CacheEntry tracks one cached bundle fetch for LRU eviction (internal/cache).
type CacheEntry struct {
	CacheKey       string `db:"cache_key"`
	BundleName     string `db:"bundle_name"`
	BundlePath     string `db:"bundle_path"`
	FetchTimestamp int64  `db:"fetch_timestamp"`
	SizeBytes      int64  `db:"size_bytes"`
	LastAccessed   int64  `db:"last_accessed"`
}

func (c *Catalog) UpsertCacheEntry(ctx context.Context, e CacheEntry) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO bundle_cache (cache_key, bundle_name, bundle_path, fetch_timestamp, size_bytes, last_accessed)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			bundle_path=excluded.bundle_path, fetch_timestamp=excluded.fetch_timestamp,
			size_bytes=excluded.size_bytes, last_accessed=excluded.last_accessed
	`, e.CacheKey, e.BundleName, e.BundlePath, e.FetchTimestamp, e.SizeBytes, e.LastAccessed)
	if err != nil {
		return errs.New(errs.Catalog, "catalog.UpsertCacheEntry", err)
	}
	return nil
}

func (c *Catalog) GetCacheEntry(ctx context.Context, key string) (*CacheEntry, error) {
	var e CacheEntry
	err := c.db.GetContext(ctx, &e, `SELECT * FROM bundle_cache WHERE cache_key = ?`, key)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.New(errs.Catalog, "catalog.GetCacheEntry", err)
	}
	return &e, nil
}

func (c *Catalog) TouchCacheEntry(ctx context.Context, key string) error {
	_, err := c.db.ExecContext(ctx, `UPDATE bundle_cache SET last_accessed = ? WHERE cache_key = ?`, nowUnix(), key)
	if err != nil {
		return errs.New(errs.Catalog, "catalog.TouchCacheEntry", err)
	}
	return nil
}

// ListCacheEntries returns all entries ordered ascending by last_accessed,
// the eviction order internal/cache walks.
func (c *Catalog) ListCacheEntries(ctx context.Context) ([]CacheEntry, error) {
	var rows []CacheEntry
	err := c.db.SelectContext(ctx, &rows, `SELECT * FROM bundle_cache ORDER BY last_accessed ASC`)
	if err != nil {
		return nil, errs.New(errs.Catalog, "catalog.ListCacheEntries", err)
	}
	return rows, nil
}

func (c *Catalog) DeleteCacheEntry(ctx context.Context, key string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM bundle_cache WHERE cache_key = ?`, key)
	if err != nil {
		return errs.New(errs.Catalog, "catalog.DeleteCacheEntry", err)
	}
	return nil
}

// CacheStatsDaily is one day's aggregated hit/miss counters.
type CacheStatsDaily struct {
	StatDate          string  `db:"stat_date"`
	HitCount          int64   `db:"hit_count"`
	MissCount         int64   `db:"miss_count"`
	TotalSizeBytes    int64   `db:"total_size_bytes"`
	AvgFetchLatencyMS float64 `db:"avg_fetch_latency_ms"`
}

// RecordCacheAccess bumps the day's hit or miss counter and folds latencyMS
// into the running average fetch latency. Hits record a latency of 0. The
// SET expressions all read the pre-update row, so the average uses the
// counter values from before this access.
func (c *Catalog) RecordCacheAccess(ctx context.Context, date string, hit bool, latencyMS float64) error {
	hitInc, missInc := 0, 0
	if hit {
		hitInc = 1
	} else {
		missInc = 1
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO cache_stats_daily (stat_date, hit_count, miss_count, total_size_bytes, avg_fetch_latency_ms)
		VALUES (?, ?, ?, 0, ?)
		ON CONFLICT(stat_date) DO UPDATE SET
			avg_fetch_latency_ms = (avg_fetch_latency_ms * (hit_count + miss_count) + ?) / (hit_count + miss_count + 1),
			hit_count = hit_count + ?,
			miss_count = miss_count + ?
	`, date, hitInc, missInc, latencyMS, latencyMS, hitInc, missInc)
	if err != nil {
		return errs.New(errs.Catalog, "catalog.RecordCacheAccess", err)
	}
	return nil
}

// SetCacheTotalSize records the cache's current total size on the day's
// stats row.
func (c *Catalog) SetCacheTotalSize(ctx context.Context, date string, totalBytes int64) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO cache_stats_daily (stat_date, total_size_bytes) VALUES (?, ?)
		ON CONFLICT(stat_date) DO UPDATE SET total_size_bytes = excluded.total_size_bytes
	`, date, totalBytes)
	if err != nil {
		return errs.New(errs.Catalog, "catalog.SetCacheTotalSize", err)
	}
	return nil
}

func (c *Catalog) CacheStats(ctx context.Context, days int) ([]CacheStatsDaily, error) {
	var rows []CacheStatsDaily
	err := c.db.SelectContext(ctx, &rows,
		`SELECT * FROM cache_stats_daily ORDER BY stat_date DESC LIMIT ?`, days)
	if err != nil {
		return nil, errs.New(errs.Catalog, "catalog.CacheStats", err)
	}
	return rows, nil
}

// DeleteBundle removes a bundle and every dependent row transactionally, in
// the order quality -> cache -> symbols -> bundle_metadata.
func (c *Catalog) DeleteBundle(ctx context.Context, bundle string) error {
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return errs.New(errs.Catalog, "catalog.DeleteBundle", err)
	}
	defer tx.Rollback()

	stmts := []string{
		`DELETE FROM data_quality_metrics WHERE bundle_name = ?`,
		`DELETE FROM bundle_cache WHERE bundle_name = ?`,
		`DELETE FROM bundle_symbols WHERE bundle_name = ?`,
		`DELETE FROM bundle_metadata WHERE bundle_name = ?`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt, bundle); err != nil {
			return errs.New(errs.Catalog, "catalog.DeleteBundle", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return errs.New(errs.Catalog, "catalog.DeleteBundle", err)
	}
	return nil
}

// RecordWrite implements store.Cataloger: it upserts provenance, records a
// quality row, and upserts every observed symbol, all in one transaction —
// either every catalog row updates or none do.
func (c *Catalog) RecordWrite(ctx context.Context, rec store.WriteRecord) error {
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return errs.New(errs.Catalog, "catalog.RecordWrite", err)
	}
	defer tx.Rollback()

	now := nowUnix()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO bundle_metadata (
			bundle_name, source_type, source_url, api_version, fetch_timestamp,
			data_version, checksum, timezone, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(bundle_name) DO UPDATE SET
			source_type=excluded.source_type, source_url=excluded.source_url,
			api_version=excluded.api_version, fetch_timestamp=excluded.fetch_timestamp,
			data_version=excluded.data_version, checksum=excluded.checksum,
			timezone=excluded.timezone, updated_at=excluded.updated_at
	`, rec.Bundle, rec.SourceType, rec.SourceURL, rec.APIVersion, now,
		rec.DataVersion, rec.Checksum, rec.Timezone, now, now)
	if err != nil {
		return errs.New(errs.Catalog, "catalog.RecordWrite", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO data_quality_metrics (
			bundle_name, row_count, start_date, end_date, missing_days_count,
			missing_days_list, outlier_count, ohlcv_violations, validation_timestamp, validation_passed
		) VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?, ?)
	`, rec.Bundle, rec.RowCount, rec.StartDate.Unix(), rec.EndDate.Unix(),
		len(rec.MissingDays), strings.Join(rec.MissingDays, ","),
		rec.ViolationCount, now, rec.ViolationCount == 0)
	if err != nil {
		return errs.New(errs.Catalog, "catalog.RecordWrite", err)
	}

	for _, s := range rec.Symbols {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO bundle_symbols (bundle_name, symbol, asset_type, exchange) VALUES (?, ?, ?, ?)
			ON CONFLICT(bundle_name, symbol) DO UPDATE SET asset_type=excluded.asset_type, exchange=excluded.exchange
		`, rec.Bundle, s.Symbol, string(s.AssetKind), s.Exchange)
		if err != nil {
			return errs.New(errs.Catalog, "catalog.RecordWrite", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errs.New(errs.Catalog, "catalog.RecordWrite", err)
	}
	return nil
}
