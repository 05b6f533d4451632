package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/sawpanic/marketdata/internal/errs"
)

func init() {
	Register("exchange", newExchangeAdapter)
}

// exchangeTimeframes maps the canonical Timeframe to a Binance-shaped
// `interval` query parameter.
var exchangeTimeframes = map[Timeframe]string{
	TF1m:  "1m",
	TF5m:  "5m",
	TF15m: "15m",
	TF30m: "30m",
	TF1h:  "1h",
	TF1d:  "1d",
}

// ExchangeAdapter fetches OHLCV klines from a unified crypto-exchange style
// API: symbol/interval/startTime/endTime query params, array-of-arrays
// kline response. Any exchange sharing that wire shape works via BaseURL.
type ExchangeAdapter struct {
	provider string
	client   *GuardedClient
	baseURL  string
}

func newExchangeAdapter(cfg Config) (Adapter, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("adapters.exchange: BaseURL is required")
	}
	return &ExchangeAdapter{
		provider: cfg.Provider,
		client:   NewGuardedClient(cfg.Provider, cfg.Guards),
		baseURL:  cfg.BaseURL,
	}, nil
}

func (a *ExchangeAdapter) Name() string { return a.provider }

// exchangeKline is one row of the array-of-arrays kline wire format:
// [openTime, open, high, low, close, volume, closeTime, ...].
type exchangeKline []json.RawMessage

func (a *ExchangeAdapter) FetchOHLCV(ctx context.Context, req FetchRequest) ([]Row, error) {
	interval, ok := exchangeTimeframes[req.Timeframe]
	if !ok {
		return nil, errs.New(errs.InvalidRequest, "exchange.FetchOHLCV",
			fmt.Errorf("unsupported timeframe %q", req.Timeframe)).WithSymbol(req.Symbol)
	}

	url := fmt.Sprintf("%s/klines?symbol=%s&interval=%s&startTime=%d&endTime=%d&limit=1000",
		a.baseURL, req.Symbol, interval, req.Start.UTC().UnixMilli(), req.End.UTC().UnixMilli())

	var raw []exchangeKline
	if err := a.client.GetJSON(ctx, url, nil, &raw); err != nil {
		if e, ok := err.(*errs.Error); ok {
			return nil, e.WithSymbol(req.Symbol)
		}
		return nil, err
	}

	if len(raw) == 0 {
		return nil, nil
	}

	rows := make([]Row, 0, len(raw))
	for _, k := range raw {
		if len(k) < 6 {
			continue
		}
		var openMS int64
		if err := json.Unmarshal(k[0], &openMS); err != nil {
			return nil, errs.New(errs.Parse, "exchange.FetchOHLCV", err).WithSymbol(req.Symbol)
		}

		open, err := decimalFromWire(k[1])
		if err != nil {
			return nil, errs.New(errs.Parse, "exchange.FetchOHLCV", err).WithSymbol(req.Symbol)
		}
		high, err := decimalFromWire(k[2])
		if err != nil {
			return nil, errs.New(errs.Parse, "exchange.FetchOHLCV", err).WithSymbol(req.Symbol)
		}
		low, err := decimalFromWire(k[3])
		if err != nil {
			return nil, errs.New(errs.Parse, "exchange.FetchOHLCV", err).WithSymbol(req.Symbol)
		}
		closeP, err := decimalFromWire(k[4])
		if err != nil {
			return nil, errs.New(errs.Parse, "exchange.FetchOHLCV", err).WithSymbol(req.Symbol)
		}
		vol, err := decimalFromWire(k[5])
		if err != nil {
			return nil, errs.New(errs.Parse, "exchange.FetchOHLCV", err).WithSymbol(req.Symbol)
		}

		row := Row{
			Time:   time.UnixMilli(openMS).UTC(),
			Open:   open,
			High:   high,
			Low:    low,
			Close:  closeP,
			Volume: vol,
		}
		if err := row.Validate(); err != nil {
			return nil, errs.New(errs.Validation, "exchange.FetchOHLCV", err).WithSymbol(req.Symbol)
		}
		rows = append(rows, row)
	}

	return dedupeAscending(rows), nil
}

// dedupeAscending sorts rows by time ascending and drops repeats, so the
// adapter contract (strict ascending time order, de-duplicated by time)
// holds regardless of what order or duplication the wire gave us.
func dedupeAscending(rows []Row) []Row {
	sort.Slice(rows, func(i, j int) bool { return rows[i].Time.Before(rows[j].Time) })
	out := rows[:0]
	var last time.Time
	first := true
	for _, r := range rows {
		if !first && r.Time.Equal(last) {
			continue
		}
		out = append(out, r)
		last = r.Time
		first = false
	}
	return out
}
