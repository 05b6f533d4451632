// Package live rolls a raw tick stream into fixed-width OHLCV bars by
// floor-division bucketing, plus the websocket transport that feeds it.
package live

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/sawpanic/marketdata/internal/bar"
)

// Tick is one raw trade observation fed into the aggregator.
type Tick struct {
	Sid   int64
	Time  time.Time
	Price decimal.Decimal
	Size  decimal.Decimal
}

// bucket accumulates ticks for one (sid, window) pair until it rotates.
type bucket struct {
	start  time.Time
	open   decimal.Decimal
	high   decimal.Decimal
	low    decimal.Decimal
	close  decimal.Decimal
	volume decimal.Decimal
}

// Aggregator floors incoming ticks into fixed-width time buckets per sid and
// emits a completed bar each time a new tick rotates the bucket forward.
// Late ticks — ones whose floor(t/width) is behind the sid's current bucket
// — are dropped with a warning, never backfilled: a bar is immutable once
// its bucket has rotated.
type Aggregator struct {
	width   time.Duration
	mu      sync.Mutex
	buckets map[int64]*bucket
	emit    func(bar.Bar)
}

// New creates an Aggregator with the given fixed bucket width (60s is the
// conventional default) and a callback invoked with each completed bar as
// its bucket rotates.
func New(width time.Duration, emit func(bar.Bar)) *Aggregator {
	return &Aggregator{
		width:   width,
		buckets: make(map[int64]*bucket),
		emit:    emit,
	}
}

func (a *Aggregator) floor(t time.Time) time.Time {
	return t.Truncate(a.width)
}

// Ingest feeds one tick into the aggregator. If the tick starts a new
// bucket for its sid, the prior bucket (if any) is emitted as a completed
// bar first.
func (a *Aggregator) Ingest(tick Tick) {
	a.mu.Lock()
	defer a.mu.Unlock()

	bucketStart := a.floor(tick.Time)
	cur, ok := a.buckets[tick.Sid]

	if ok && bucketStart.Before(cur.start) {
		log.Warn().Int64("sid", tick.Sid).Time("tick_time", tick.Time).
			Time("bucket_start", cur.start).Msg("dropping late tick")
		return
	}

	if !ok || bucketStart.After(cur.start) {
		if ok {
			a.emitLocked(tick.Sid, cur)
		}
		a.buckets[tick.Sid] = &bucket{
			start: bucketStart, open: tick.Price, high: tick.Price,
			low: tick.Price, close: tick.Price, volume: tick.Size,
		}
		return
	}

	if tick.Price.GreaterThan(cur.high) {
		cur.high = tick.Price
	}
	if tick.Price.LessThan(cur.low) {
		cur.low = tick.Price
	}
	cur.close = tick.Price
	cur.volume = cur.volume.Add(tick.Size)
}

func (a *Aggregator) emitLocked(sid int64, b *bucket) {
	a.emit(bar.Bar{
		Time: b.start, Sid: sid,
		Open: b.open, High: b.high, Low: b.low, Close: b.close, Volume: b.volume,
	})
}

// Flush emits every in-progress bucket immediately, for graceful shutdown.
// No zero-volume carry bars are synthesized for sids with no recent ticks;
// downstream consumers tolerate gaps.
func (a *Aggregator) Flush() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for sid, b := range a.buckets {
		a.emitLocked(sid, b)
		delete(a.buckets, sid)
	}
}
