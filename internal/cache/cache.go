// Package cache implements the LRU eviction engine over the catalog's
// cache-entry table: bundle fetches are registered as cache entries, hits
// bump last_accessed, and Evict trims the coldest entries until total size
// is under a configured ceiling.
package cache

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/marketdata/internal/catalog"
	"github.com/sawpanic/marketdata/internal/errs"
)

// CacheEntry is an alias for catalog.CacheEntry so callers outside this
// package don't need to import both.
type CacheEntry = catalog.CacheEntry

// Store is the catalog surface the cache engine needs. Unlike
// store.Cataloger (which exists to avoid a store<->catalog import cycle),
// this interface exists purely for test doubles — catalog.Catalog satisfies
// it directly.
type Store interface {
	GetCacheEntry(ctx context.Context, key string) (*CacheEntry, error)
	ListCacheEntries(ctx context.Context) ([]CacheEntry, error)
	UpsertCacheEntry(ctx context.Context, e CacheEntry) error
	TouchCacheEntry(ctx context.Context, key string) error
	DeleteCacheEntry(ctx context.Context, key string) error
	RecordCacheAccess(ctx context.Context, date string, hit bool, latencyMS float64) error
	SetCacheTotalSize(ctx context.Context, date string, totalBytes int64) error
}

// Engine evicts bundle cache entries by ascending last_accessed once the
// total cached size exceeds MaxSizeBytes.
type Engine struct {
	store        Store
	maxSizeBytes int64
}

func New(store Store, maxSizeBytes int64) *Engine {
	return &Engine{store: store, maxSizeBytes: maxSizeBytes}
}

func statDate() string { return time.Now().UTC().Format("2006-01-02") }

// Lookup returns the cache entry for key if one exists and its bundle path
// is still on disk, bumping last_accessed and the day's hit counter (with a
// fetch latency of 0). An entry whose path has vanished is dangling: the
// row is dropped and the lookup is a miss, so the caller re-ingests. Misses
// themselves are counted by RegisterMiss, once the fetch's latency is known.
func (e *Engine) Lookup(ctx context.Context, key string) (*CacheEntry, error) {
	entry, err := e.store.GetCacheEntry(ctx, key)
	if err != nil {
		return nil, errs.New(errs.Catalog, "cache.Lookup", err)
	}
	if entry == nil {
		return nil, nil
	}
	if _, statErr := os.Stat(entry.BundlePath); statErr != nil {
		log.Warn().Str("cache_key", key).Str("path", entry.BundlePath).
			Msg("dropping dangling cache entry, file missing on disk")
		if err := e.store.DeleteCacheEntry(ctx, key); err != nil {
			return nil, errs.New(errs.Catalog, "cache.Lookup", err)
		}
		return nil, nil
	}
	if err := e.store.TouchCacheEntry(ctx, key); err != nil {
		return nil, errs.New(errs.Catalog, "cache.Lookup", err)
	}
	if err := e.store.RecordCacheAccess(ctx, statDate(), true, 0); err != nil {
		return nil, errs.New(errs.Catalog, "cache.Lookup", err)
	}
	return entry, nil
}

// RegisterMiss records a completed fetch after a cache miss: it inserts or
// refreshes the entry, counts the miss with its fetch latency, and updates
// the day's total-size figure.
func (e *Engine) RegisterMiss(ctx context.Context, entry CacheEntry, fetchLatency time.Duration) error {
	now := time.Now().Unix()
	if entry.FetchTimestamp == 0 {
		entry.FetchTimestamp = now
	}
	if entry.LastAccessed == 0 {
		entry.LastAccessed = now
	}
	if err := e.store.UpsertCacheEntry(ctx, entry); err != nil {
		return errs.New(errs.Catalog, "cache.RegisterMiss", err)
	}
	if err := e.store.RecordCacheAccess(ctx, statDate(), false, float64(fetchLatency.Milliseconds())); err != nil {
		return errs.New(errs.Catalog, "cache.RegisterMiss", err)
	}
	return e.updateTotalSize(ctx)
}

func (e *Engine) updateTotalSize(ctx context.Context) error {
	entries, err := e.store.ListCacheEntries(ctx)
	if err != nil {
		return errs.New(errs.Catalog, "cache.updateTotalSize", err)
	}
	var total int64
	for _, entry := range entries {
		total += entry.SizeBytes
	}
	if err := e.store.SetCacheTotalSize(ctx, statDate(), total); err != nil {
		return errs.New(errs.Catalog, "cache.updateTotalSize", err)
	}
	return nil
}

// Evict removes the coldest entries (lowest last_accessed first) until the
// sum of remaining entries' SizeBytes is at or below maxSizeBytes, deleting
// each entry's on-disk bundle path as it goes. Returns the keys evicted.
func (e *Engine) Evict(ctx context.Context) ([]string, error) {
	entries, err := e.store.ListCacheEntries(ctx) // already ordered ascending by last_accessed
	if err != nil {
		return nil, errs.New(errs.Catalog, "cache.Evict", err)
	}

	var total int64
	for _, entry := range entries {
		total += entry.SizeBytes
	}

	var evicted []string
	for _, entry := range entries {
		if total <= e.maxSizeBytes {
			break
		}
		if err := os.RemoveAll(entry.BundlePath); err != nil && !os.IsNotExist(err) {
			return evicted, errs.New(errs.IO, "cache.Evict", err)
		}
		if err := e.store.DeleteCacheEntry(ctx, entry.CacheKey); err != nil {
			return evicted, errs.New(errs.Catalog, "cache.Evict", err)
		}
		total -= entry.SizeBytes
		evicted = append(evicted, entry.CacheKey)
		log.Info().Str("cache_key", entry.CacheKey).Int64("size_bytes", entry.SizeBytes).
			Msg("evicted cache entry")
	}
	if len(evicted) > 0 {
		if err := e.store.SetCacheTotalSize(ctx, statDate(), total); err != nil {
			return evicted, errs.New(errs.Catalog, "cache.Evict", err)
		}
	}
	return evicted, nil
}

// EvictAll removes every cache entry regardless of size, for `cache clean --all`.
func (e *Engine) EvictAll(ctx context.Context) ([]string, error) {
	entries, err := e.store.ListCacheEntries(ctx)
	if err != nil {
		return nil, errs.New(errs.Catalog, "cache.EvictAll", err)
	}

	var evicted []string
	for _, entry := range entries {
		if err := os.RemoveAll(entry.BundlePath); err != nil && !os.IsNotExist(err) {
			return evicted, errs.New(errs.IO, "cache.EvictAll", err)
		}
		if err := e.store.DeleteCacheEntry(ctx, entry.CacheKey); err != nil {
			return evicted, errs.New(errs.Catalog, "cache.EvictAll", err)
		}
		evicted = append(evicted, entry.CacheKey)
	}
	if len(evicted) > 0 {
		if err := e.store.SetCacheTotalSize(ctx, statDate(), 0); err != nil {
			return evicted, errs.New(errs.Catalog, "cache.EvictAll", err)
		}
	}
	return evicted, nil
}
