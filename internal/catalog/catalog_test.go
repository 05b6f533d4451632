package catalog

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/marketdata/internal/bar"
	"github.com/sawpanic/marketdata/internal/errs"
	"github.com/sawpanic/marketdata/internal/store"
)

func openTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.db")
	c, err := Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestUpsertProvenanceThenGet(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()

	err := c.UpsertProvenance(ctx, Provenance{BundleName: "binance-daily", SourceType: "exchange", SourceURL: "https://api.binance.com"})
	require.NoError(t, err)

	got, err := c.GetProvenance(ctx, "binance-daily")
	require.NoError(t, err)
	assert.Equal(t, "exchange", got.SourceType)

	err = c.UpsertProvenance(ctx, Provenance{BundleName: "binance-daily", SourceType: "exchange", SourceURL: "https://api.binance.com/v3"})
	require.NoError(t, err)
	got, err = c.GetProvenance(ctx, "binance-daily")
	require.NoError(t, err)
	assert.Equal(t, "https://api.binance.com/v3", got.SourceURL)
}

func TestGetProvenanceMissingBundle(t *testing.T) {
	c := openTestCatalog(t)
	_, err := c.GetProvenance(context.Background(), "nope")
	assert.Equal(t, errs.SymbolNotFound, errs.KindOf(err))
}

func TestQualityIsAppendOnlyLatestWins(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()
	require.NoError(t, c.UpsertProvenance(ctx, Provenance{BundleName: "b1"}))

	require.NoError(t, c.InsertQuality(ctx, Quality{BundleName: "b1", RowCount: 10, ValidationTimestamp: 100, ValidationPassed: true}))
	require.NoError(t, c.InsertQuality(ctx, Quality{BundleName: "b1", RowCount: 20, ValidationTimestamp: 200, ValidationPassed: false}))

	latest, err := c.LatestQuality(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, 20, latest.RowCount)
	assert.False(t, latest.ValidationPassed)
}

func TestResolveSidIsStableAndDense(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()
	require.NoError(t, c.UpsertProvenance(ctx, Provenance{BundleName: "b1"}))

	sid1, err := c.ResolveSid(ctx, "b1", "BTC/USDT", bar.Crypto, "binance")
	require.NoError(t, err)
	sid2, err := c.ResolveSid(ctx, "b1", "ETH/USDT", bar.Crypto, "binance")
	require.NoError(t, err)
	assert.NotEqual(t, sid1, sid2)

	again, err := c.ResolveSid(ctx, "b1", "BTC/USDT", bar.Crypto, "binance")
	require.NoError(t, err)
	assert.Equal(t, sid1, again)

	symbols, err := c.Symbols(ctx, "b1")
	require.NoError(t, err)
	assert.Len(t, symbols, 2)
}

func TestCacheEntryLifecycle(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()
	require.NoError(t, c.UpsertProvenance(ctx, Provenance{BundleName: "b1"}))

	err := c.UpsertCacheEntry(ctx, CacheEntry{
		CacheKey: "b1:2023", BundleName: "b1", BundlePath: "/data/b1", SizeBytes: 1024, LastAccessed: 1,
	})
	require.NoError(t, err)

	got, err := c.GetCacheEntry(ctx, "b1:2023")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(1024), got.SizeBytes)

	require.NoError(t, c.TouchCacheEntry(ctx, "b1:2023"))
	got, err = c.GetCacheEntry(ctx, "b1:2023")
	require.NoError(t, err)
	assert.Greater(t, got.LastAccessed, int64(1))

	require.NoError(t, c.DeleteCacheEntry(ctx, "b1:2023"))
	got, err = c.GetCacheEntry(ctx, "b1:2023")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestListCacheEntriesOrdersByLastAccessedAscending(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()
	require.NoError(t, c.UpsertProvenance(ctx, Provenance{BundleName: "b1"}))

	require.NoError(t, c.UpsertCacheEntry(ctx, CacheEntry{CacheKey: "k1", BundleName: "b1", LastAccessed: 300}))
	require.NoError(t, c.UpsertCacheEntry(ctx, CacheEntry{CacheKey: "k2", BundleName: "b1", LastAccessed: 100}))
	require.NoError(t, c.UpsertCacheEntry(ctx, CacheEntry{CacheKey: "k3", BundleName: "b1", LastAccessed: 200}))

	entries, err := c.ListCacheEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "k2", entries[0].CacheKey)
	assert.Equal(t, "k3", entries[1].CacheKey)
	assert.Equal(t, "k1", entries[2].CacheKey)
}

func TestCacheStatsAccumulate(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()

	require.NoError(t, c.RecordCacheAccess(ctx, "2026-07-29", true, 0))
	require.NoError(t, c.RecordCacheAccess(ctx, "2026-07-29", true, 0))
	require.NoError(t, c.RecordCacheAccess(ctx, "2026-07-29", false, 300))
	require.NoError(t, c.SetCacheTotalSize(ctx, "2026-07-29", 4096))

	stats, err := c.CacheStats(ctx, 7)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, int64(2), stats[0].HitCount)
	assert.Equal(t, int64(1), stats[0].MissCount)
	assert.Equal(t, int64(4096), stats[0].TotalSizeBytes)
	assert.InDelta(t, 100.0, stats[0].AvgFetchLatencyMS, 1e-9)
}

func TestDeleteBundleCascades(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()
	require.NoError(t, c.UpsertProvenance(ctx, Provenance{BundleName: "b1"}))
	_, err := c.ResolveSid(ctx, "b1", "BTC/USDT", bar.Crypto, "binance")
	require.NoError(t, err)
	require.NoError(t, c.InsertQuality(ctx, Quality{BundleName: "b1", ValidationTimestamp: 1}))
	require.NoError(t, c.UpsertCacheEntry(ctx, CacheEntry{CacheKey: "k1", BundleName: "b1"}))

	require.NoError(t, c.DeleteBundle(ctx, "b1"))

	_, err = c.GetProvenance(ctx, "b1")
	assert.Equal(t, errs.SymbolNotFound, errs.KindOf(err))
	symbols, err := c.Symbols(ctx, "b1")
	require.NoError(t, err)
	assert.Empty(t, symbols)
	entries, err := c.ListCacheEntries(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRecordWriteUpsertsProvenanceQualityAndSymbols(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()

	rec := store.WriteRecord{
		Bundle: "binance-daily", SourceType: "exchange", RowCount: 2,
		StartDate: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC),
		Symbols:   []store.SymbolInfo{{Symbol: "BTC/USDT", AssetKind: bar.Crypto, Exchange: "binance"}},
	}
	require.NoError(t, c.RecordWrite(ctx, rec))

	prov, err := c.GetProvenance(ctx, "binance-daily")
	require.NoError(t, err)
	assert.Equal(t, "exchange", prov.SourceType)

	q, err := c.LatestQuality(ctx, "binance-daily")
	require.NoError(t, err)
	assert.Equal(t, 2, q.RowCount)

	symbols, err := c.Symbols(ctx, "binance-daily")
	require.NoError(t, err)
	require.Len(t, symbols, 1)
	assert.Equal(t, bar.Crypto, symbols[0].AssetKind)
}

func TestOpenBacksUpLegacyCatalog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.db")

	legacy, err := Open(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, legacy.UpsertProvenance(context.Background(), Provenance{BundleName: "old-bundle"}))
	// Simulate a legacy install by dropping the tables this package added
	// beyond the original provenance+quality shape.
	_, err = legacy.db.Exec(`DROP TABLE bundle_symbols`)
	require.NoError(t, err)
	_, err = legacy.db.Exec(`DROP TABLE bundle_cache`)
	require.NoError(t, err)
	_, err = legacy.db.Exec(`DROP TABLE cache_stats_daily`)
	require.NoError(t, err)
	require.NoError(t, legacy.Close())

	reopened, err := Open(context.Background(), path)
	require.NoError(t, err)
	defer reopened.Close()

	backupsDir := filepath.Join(dir, "backups")
	entries, err := os.ReadDir(backupsDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	manifestBytes, err := os.ReadFile(filepath.Join(backupsDir, entries[0].Name(), "manifest.json"))
	require.NoError(t, err)
	var manifest backupManifest
	require.NoError(t, json.Unmarshal(manifestBytes, &manifest))
	assert.Equal(t, 1, manifest.BundleCount)

	prov, err := reopened.GetProvenance(context.Background(), "old-bundle")
	require.NoError(t, err)
	assert.Equal(t, "old-bundle", prov.BundleName)
}
