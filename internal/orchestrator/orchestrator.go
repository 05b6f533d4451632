// Package orchestrator drives one ingestion job through its state machine:
// NEW -> CACHE-LOOKUP -> FETCHING -> VALIDATING -> WRITING -> CATALOGING ->
// DONE/FAILED. Context propagates end to end; each state transition is
// logged with the job id.
package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/marketdata/internal/adapters"
	"github.com/sawpanic/marketdata/internal/bar"
	"github.com/sawpanic/marketdata/internal/cache"
	"github.com/sawpanic/marketdata/internal/catalog"
	"github.com/sawpanic/marketdata/internal/errs"
	"github.com/sawpanic/marketdata/internal/store"
)

// State is one step of the ingestion job's lifecycle.
type State string

const (
	StateNew         State = "new"
	StateCacheLookup State = "cache_lookup"
	StateFetching    State = "fetching"
	StateValidating  State = "validating"
	StateWriting     State = "writing"
	StateCataloging  State = "cataloging"
	StateDone        State = "done"
	StateFailed      State = "failed"
)

// Job describes one ingestion request: fetch bundle/symbol/range at the
// given timeframe from its adapter, validate, write, and catalog.
type Job struct {
	ID         string
	Bundle     string
	Symbol     string
	Timeframe  adapters.Timeframe
	Resolution bar.Resolution
	Start      time.Time
	End        time.Time
}

// Result reports the terminal outcome of a job.
type Result struct {
	JobID          string
	State          State
	RowsWritten    int
	PartitionPaths []string
	Err            error
}

// Orchestrator wires together one adapter, the columnar store, the
// catalog, and the cache engine to run ingestion jobs end to end.
type Orchestrator struct {
	adapter     adapters.Adapter
	writer      *store.Writer
	cat         *catalog.Catalog
	cacheEngine *cache.Engine
	bundleRoot  string
	compression store.Compression
	exchange    string
}

func New(adapter adapters.Adapter, writer *store.Writer, cat *catalog.Catalog, cacheEngine *cache.Engine, bundleRoot string, compression store.Compression, exchange string) *Orchestrator {
	return &Orchestrator{
		adapter: adapter, writer: writer, cat: cat, cacheEngine: cacheEngine,
		bundleRoot: bundleRoot, compression: compression, exchange: exchange,
	}
}

// NewJob constructs a Job with a fresh UUID, so callers don't thread id
// generation through every call site. The storage resolution is derived
// from the timeframe: daily bars for 1d, intraday partitioning for
// everything narrower.
func NewJob(bundle, symbol string, tf adapters.Timeframe, start, end time.Time) Job {
	res := bar.Minute
	if tf == adapters.TF1d {
		res = bar.Daily
	}
	return Job{
		ID: uuid.NewString(), Bundle: bundle, Symbol: symbol,
		Timeframe: tf, Resolution: res, Start: start, End: end,
	}
}

// cacheKey is the deterministic hash over (source, bundle, symbol, range,
// timeframe) identifying a reusable fetch result.
func (o *Orchestrator) cacheKey(job Job) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%s|%d|%d",
		o.adapter.Name(), job.Bundle, job.Symbol, job.Timeframe, job.Start.Unix(), job.End.Unix())))
	return hex.EncodeToString(sum[:])
}

// Run executes a job through every state in order, returning as soon as it
// reaches DONE or FAILED. A job that fails after WRITING has already
// committed partial files to disk without a catalog entry; Run removes
// those files before returning so no uncataloged partition is left behind.
func (o *Orchestrator) Run(ctx context.Context, job Job) Result {
	log.Info().Str("job_id", job.ID).Str("bundle", job.Bundle).Str("symbol", job.Symbol).
		Str("state", string(StateNew)).Msg("ingestion job started")

	if cached := o.lookupCache(ctx, job); cached != nil {
		log.Info().Str("job_id", job.ID).Str("path", cached.BundlePath).Msg("cache hit, skipping fetch")
		return Result{JobID: job.ID, State: StateDone}
	}

	fetchStart := time.Now()
	rows, assetKind, err := o.fetch(ctx, job)
	if err != nil {
		return o.fail(job, err)
	}
	fetchLatency := time.Since(fetchStart)

	if err := o.validate(job, rows); err != nil {
		return o.fail(job, err)
	}

	sid, err := o.resolveSid(ctx, job, assetKind)
	if err != nil {
		return o.fail(job, err)
	}
	for i := range rows {
		rows[i].Sid = sid
	}

	log.Info().Str("job_id", job.ID).Str("state", string(StateWriting)).Int("rows", len(rows)).Msg("writing partitions")
	paths, err := o.writer.WriteBatch(ctx, o.bundleRoot, job.Resolution, rows, store.WriteOptions{
		Compression: o.compression, Catalog: o.cat, Bundle: job.Bundle,
		SourceType: o.adapter.Name(), Exchange: o.exchange,
		Symbols: map[int64]string{sid: job.Symbol},
	})
	if err != nil {
		o.rollback(paths)
		return o.fail(job, err)
	}

	log.Info().Str("job_id", job.ID).Str("state", string(StateCataloging)).Msg("committing to catalog")
	if o.cacheEngine != nil && len(paths) > 0 {
		var size int64
		for _, p := range paths {
			if info, statErr := os.Stat(p); statErr == nil {
				size += info.Size()
			}
		}
		if err := o.cacheEngine.RegisterMiss(ctx, cache.CacheEntry{
			CacheKey: o.cacheKey(job), BundleName: job.Bundle, BundlePath: o.bundleRoot, SizeBytes: size,
		}, fetchLatency); err != nil {
			log.Warn().Str("job_id", job.ID).Err(err).Msg("failed to register cache entry after successful write")
		}
	}

	log.Info().Str("job_id", job.ID).Str("state", string(StateDone)).Msg("ingestion job completed")
	return Result{JobID: job.ID, State: StateDone, RowsWritten: len(rows), PartitionPaths: paths}
}

func (o *Orchestrator) lookupCache(ctx context.Context, job Job) *cache.CacheEntry {
	if o.cacheEngine == nil {
		return nil
	}
	entry, err := o.cacheEngine.Lookup(ctx, o.cacheKey(job))
	if err != nil {
		log.Warn().Str("job_id", job.ID).Err(err).Msg("cache lookup failed, proceeding to fetch")
		return nil
	}
	return entry
}

// fetch runs the adapter and preserves its error Kind: the taxonomy drives
// how the caller treats the failure (SymbolNotFound is per-symbol, Auth is
// fatal, QuotaExceeded defers the job), so re-tagging here would lose that
// distinction.
func (o *Orchestrator) fetch(ctx context.Context, job Job) ([]bar.Bar, bar.AssetKind, error) {
	log.Info().Str("job_id", job.ID).Str("state", string(StateFetching)).Msg("fetching rows")
	rawRows, err := o.adapter.FetchOHLCV(ctx, adapters.FetchRequest{
		Symbol: job.Symbol, Start: job.Start, End: job.End, Timeframe: job.Timeframe,
	})
	if err != nil {
		var tagged *errs.Error
		if errors.As(err, &tagged) {
			return nil, "", tagged.WithBundle(job.Bundle).WithSymbol(job.Symbol)
		}
		return nil, "", errs.New(errs.IO, "orchestrator.fetch", err).WithBundle(job.Bundle).WithSymbol(job.Symbol)
	}

	assetKind := bar.InferAssetKind(job.Symbol)
	rows := make([]bar.Bar, len(rawRows))
	for i, r := range rawRows {
		rows[i] = r.ToBar(0) // sid resolved after fetch, below
	}
	return rows, assetKind, nil
}

func (o *Orchestrator) validate(job Job, rows []bar.Bar) error {
	log.Debug().Str("job_id", job.ID).Str("state", string(StateValidating)).Int("rows", len(rows)).Msg("validating rows")
	detail := &errs.ValidationDetail{}
	for _, r := range rows {
		if err := r.Validate(); err != nil {
			detail.Count++
			if len(detail.Sample) < 3 {
				detail.Sample = append(detail.Sample, fmt.Sprintf("%s: %s", r.Time.Format(time.RFC3339), err))
			}
		}
	}
	if detail.Count > 0 {
		return errs.New(errs.Validation, "orchestrator.validate", detail)
	}
	return nil
}

func (o *Orchestrator) resolveSid(ctx context.Context, job Job, assetKind bar.AssetKind) (int64, error) {
	sid, err := o.cat.ResolveSid(ctx, job.Bundle, job.Symbol, assetKind, o.exchange)
	if err != nil {
		return 0, errs.New(errs.Catalog, "orchestrator.resolveSid", err)
	}
	return sid, nil
}

func (o *Orchestrator) rollback(paths []string) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			log.Warn().Str("path", p).Err(err).Msg("failed to roll back partition file after catalog failure")
		}
	}
}

func (o *Orchestrator) fail(job Job, err error) Result {
	log.Error().Str("job_id", job.ID).Str("state", string(StateFailed)).Err(err).Msg("ingestion job failed")
	return Result{JobID: job.ID, State: StateFailed, Err: err}
}
