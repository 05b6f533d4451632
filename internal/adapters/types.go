// Package adapters implements the provider-agnostic fetch layer: one adapter
// per source, each normalizing raw provider responses into the canonical
// bar.Bar shape and validating them before they ever reach the store.
package adapters

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sawpanic/marketdata/internal/bar"
	"github.com/sawpanic/marketdata/internal/breaker"
	"github.com/sawpanic/marketdata/internal/ratelimit"
	"github.com/sawpanic/marketdata/internal/retry"
)

// Timeframe is a canonical bar width label. Adapters translate their own
// provider-specific timeframe strings to and from this set.
type Timeframe string

const (
	TF1m  Timeframe = "1m"
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF30m Timeframe = "30m"
	TF1h  Timeframe = "1h"
	TF1d  Timeframe = "1d"
)

// FetchRequest is the single contract every adapter implements: a symbol, an
// inclusive UTC time range, and a canonical timeframe.
type FetchRequest struct {
	Symbol    string
	Start     time.Time
	End       time.Time
	Timeframe Timeframe
}

// Row is a normalized OHLCV observation keyed by symbol rather than sid: an
// adapter only ever knows the provider's symbol, never the bundle-local
// dense integer id bar.Bar carries. The orchestrator resolves Symbol -> Sid
// via the catalog's symbol table and converts Row to bar.Bar immediately
// before handing the batch to the store's Writer.
type Row struct {
	Time   time.Time
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume decimal.Decimal
}

// ToBar attaches a resolved sid, producing the canonical row the store
// writes.
func (r Row) ToBar(sid int64) bar.Bar {
	return bar.Bar{
		Time:   r.Time,
		Sid:    sid,
		Open:   r.Open,
		High:   r.High,
		Low:    r.Low,
		Close:  r.Close,
		Volume: r.Volume,
	}
}

// Validate checks the same OHLCV invariants bar.Bar enforces, so an adapter
// can reject a bad row before a sid even exists.
func (r Row) Validate() error {
	return r.ToBar(0).Validate()
}

// Adapter fetches normalized OHLCV rows for one provider. Implementations
// must return rows in strict ascending time order, de-duplicated by time,
// and must have already validated every row.
type Adapter interface {
	Name() string
	FetchOHLCV(ctx context.Context, req FetchRequest) ([]Row, error)
}

// Guards bundles the shared cross-cutting concerns every HTTP-backed adapter
// composes around its fetch: a per-provider rate limiter, circuit breaker,
// and retry schedule. Non-HTTP adapters (csvfs) don't need one.
type Guards struct {
	Limiter  *ratelimit.Manager
	Breakers *breaker.Manager
	Retry    retry.Config
}

// Config is the narrow, explicit construction struct every adapter
// constructor accepts.
type Config struct {
	Provider string
	BaseURL  string
	APIKey   string
	APISecret string
	Guards   Guards
}

// Constructor builds an Adapter from a Config. Registered constructors are
// looked up by a string key at startup — a static string-to-constructor
// table rather than runtime reflection.
type Constructor func(cfg Config) (Adapter, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Constructor{}
)

// Register associates an adapter kind (e.g. "exchange", "csvfs",
// "equities") with its constructor. Called from each adapter's init().
func Register(kind string, ctor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[kind] = ctor
}

// New constructs the adapter registered under kind.
func New(kind string, cfg Config) (Adapter, error) {
	registryMu.RLock()
	ctor, ok := registry[kind]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("adapters: no constructor registered for kind %q", kind)
	}
	return ctor(cfg)
}

// Kinds lists every registered adapter kind, for diagnostics.
func Kinds() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	return out
}
