// Package portal is the read-side query surface: point-in-time reads over
// the columnar store, gated by a simulation clock that never lets a query
// see bars timestamped after "now".
package portal

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/sawpanic/marketdata/internal/bar"
	"github.com/sawpanic/marketdata/internal/errs"
	"github.com/sawpanic/marketdata/internal/store"
)

// Reader is the store surface the Portal needs.
type Reader interface {
	Read(bundleRoot string, res bar.Resolution, sids []int64, start, end time.Time) ([]bar.Bar, error)
}

// Field selects which OHLCV column a query returns.
type Field string

const (
	FieldOpen   Field = "open"
	FieldHigh   Field = "high"
	FieldLow    Field = "low"
	FieldClose  Field = "close"
	FieldVolume Field = "volume"
)

func (f Field) valid() bool {
	switch f {
	case FieldOpen, FieldHigh, FieldLow, FieldClose, FieldVolume:
		return true
	}
	return false
}

func fieldValue(b bar.Bar, f Field) decimal.Decimal {
	switch f {
	case FieldOpen:
		return b.Open
	case FieldHigh:
		return b.High
	case FieldLow:
		return b.Low
	case FieldVolume:
		return b.Volume
	default:
		return b.Close
	}
}

// Clock gates every query against a simulation "now". It is strictly
// monotone: moving it backward is a programming error, not a data
// condition, and panics.
type Clock struct {
	now time.Time
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time { return c.now }

// Advance moves the clock forward. Moving it backward panics.
func (c *Clock) Advance(to time.Time) {
	if to.Before(c.now) {
		panic(fmt.Sprintf("portal: simulation clock moved backward: %s -> %s", c.now, to))
	}
	c.now = to
}

// Portal answers point-in-time bar queries, rejecting any request whose
// window would expose data after the simulation clock's current time.
type Portal struct {
	reader     Reader
	bundleRoot string
	clock      *Clock
}

func New(reader Reader, bundleRoot string, clock *Clock) *Portal {
	return &Portal{reader: reader, bundleRoot: bundleRoot, clock: clock}
}

// Spot returns field's value for every requested sid at exactly at,
// keyed by sid. A sid with no bar at that exact instant fails the call
// with NoDataAvailable; an at strictly in the future of the simulation
// clock fails with Lookahead.
func (p *Portal) Spot(ctx context.Context, sids []int64, field Field, at time.Time, res bar.Resolution) (map[int64]decimal.Decimal, error) {
	if !field.valid() {
		return nil, errs.New(errs.InvalidRequest, "portal.Spot", fmt.Errorf("unknown field %q", field))
	}
	if at.After(p.clock.Now()) {
		log.Debug().Time("at", at).Time("now", p.clock.Now()).Msg("lookahead query rejected")
		return nil, errs.New(errs.Lookahead, "portal.Spot",
			fmt.Errorf("at %s is after simulation clock %s", at, p.clock.Now()))
	}

	rows, err := p.reader.Read(p.bundleRoot, res, sids, at, at.Add(time.Microsecond))
	if err != nil {
		return nil, errs.New(errs.IO, "portal.Spot", err)
	}

	out := make(map[int64]decimal.Decimal, len(sids))
	for _, r := range rows {
		if r.Time.Equal(at) {
			out[r.Sid] = fieldValue(r, field)
		}
	}
	for _, sid := range sids {
		if _, ok := out[sid]; !ok {
			return nil, errs.New(errs.NoDataAvailable, "portal.Spot",
				fmt.Errorf("no bar for sid %d at %s", sid, at))
		}
	}
	return out, nil
}

// History returns the last barCount values of field at or before endAt for
// each requested sid, in ascending time order. When fewer than barCount bars
// exist the available ones are returned without padding. An endAt strictly
// in the future of the simulation clock fails with Lookahead.
func (p *Portal) History(ctx context.Context, sids []int64, endAt time.Time, barCount int, field Field, res bar.Resolution) (map[int64][]decimal.Decimal, error) {
	if !field.valid() {
		return nil, errs.New(errs.InvalidRequest, "portal.History", fmt.Errorf("unknown field %q", field))
	}
	if barCount <= 0 {
		return nil, errs.New(errs.InvalidRequest, "portal.History", fmt.Errorf("bar count must be positive, got %d", barCount))
	}
	if endAt.After(p.clock.Now()) {
		log.Debug().Time("end_at", endAt).Time("now", p.clock.Now()).Msg("lookahead query rejected")
		return nil, errs.New(errs.Lookahead, "portal.History",
			fmt.Errorf("endAt %s is after simulation clock %s", endAt, p.clock.Now()))
	}

	rows, err := p.reader.Read(p.bundleRoot, res, sids, time.Time{}, endAt.Add(time.Microsecond))
	if err != nil {
		return nil, errs.New(errs.IO, "portal.History", err)
	}

	bySid := make(map[int64][]bar.Bar, len(sids))
	for _, r := range rows {
		bySid[r.Sid] = append(bySid[r.Sid], r)
	}

	out := make(map[int64][]decimal.Decimal, len(sids))
	for _, sid := range sids {
		bars := bySid[sid]
		sort.Slice(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })
		if len(bars) > barCount {
			bars = bars[len(bars)-barCount:]
		}
		values := make([]decimal.Decimal, 0, len(bars))
		for _, b := range bars {
			values = append(values, fieldValue(b, field))
		}
		out[sid] = values
	}
	return out, nil
}

var _ Reader = (*store.Reader)(nil)
