// Package bar defines the canonical OHLCV row and the bundle/range types that
// flow through every other component of the data plane.
package bar

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Resolution identifies the bar width a Bundle stores.
type Resolution string

const (
	Daily  Resolution = "daily"
	Minute Resolution = "minute"
)

// AssetKind classifies a symbol for partitioning and downstream display.
// Inference is a symbol-shape heuristic: a slash or dash means crypto,
// four-or-more characters ending in two digits means a dated future,
// anything else is an equity.
type AssetKind string

const (
	Equity  AssetKind = "equity"
	Crypto  AssetKind = "crypto"
	Future  AssetKind = "future"
	Unknown AssetKind = "unknown"
)

// InferAssetKind derives an AssetKind from a raw symbol string.
func InferAssetKind(symbol string) AssetKind {
	if symbol == "" {
		return Unknown
	}
	if strings.ContainsAny(symbol, "/-") {
		return Crypto
	}
	if len(symbol) >= 4 {
		last2 := symbol[len(symbol)-2:]
		if last2[0] >= '0' && last2[0] <= '9' && last2[1] >= '0' && last2[1] <= '9' {
			return Future
		}
	}
	return Equity
}

// Bar is the canonical row: exact decimal OHLCV keyed by an internal symbol id.
type Bar struct {
	Time   time.Time
	Sid    int64
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume decimal.Decimal
}

// Partition returns the year/month[/day] values used to route a bar to a file.
func (b Bar) Partition(res Resolution) (year, month, day int) {
	t := b.Time.UTC()
	if res == Daily {
		return t.Year(), int(t.Month()), 0
	}
	return t.Year(), int(t.Month()), t.Day()
}

// Validate checks the OHLCV invariants: high is the true max, low is the true
// min, high >= low, and nothing is negative. A single violating bar fails the
// whole batch at the caller (internal/store), not just this row.
func (b Bar) Validate() error {
	maxOC := b.Open
	if b.Close.GreaterThan(maxOC) {
		maxOC = b.Close
	}
	minOC := b.Open
	if b.Close.LessThan(minOC) {
		minOC = b.Close
	}
	switch {
	case b.High.LessThan(maxOC):
		return errInvalidHigh
	case b.Low.GreaterThan(minOC):
		return errInvalidLow
	case b.High.LessThan(b.Low):
		return errHighLessThanLow
	case b.Open.IsNegative() || b.High.IsNegative() || b.Low.IsNegative() ||
		b.Close.IsNegative() || b.Volume.IsNegative():
		return errNegativeField
	}
	return nil
}

// Range is a half-open time interval [Start, End) used for queries and writes.
type Range struct {
	Start time.Time
	End   time.Time
}

func (r Range) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}

// Bundle names a versioned set of bars for one symbol universe and resolution.
type Bundle struct {
	Name       string
	Resolution Resolution
	SourceType string
}
