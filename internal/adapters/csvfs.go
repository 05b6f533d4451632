package adapters

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sawpanic/marketdata/internal/errs"
)

func init() {
	Register("csvfs", newCSVFSAdapter)
}

// CSVFSAdapter reads OHLCV rows from one CSV file per symbol under a root
// directory — the offline/test provider. Unlike the HTTP adapters it needs
// no rate limiter or breaker: there is no network suspension point to guard.
//
// Expected layout: <root>/<symbol>.csv with header
// time,open,high,low,close,volume, RFC3339 timestamps, decimal-string fields.
type CSVFSAdapter struct {
	provider string
	root     string
}

func newCSVFSAdapter(cfg Config) (Adapter, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("adapters.csvfs: BaseURL (root directory) is required")
	}
	return &CSVFSAdapter{provider: cfg.Provider, root: cfg.BaseURL}, nil
}

func (a *CSVFSAdapter) Name() string { return a.provider }

func (a *CSVFSAdapter) FetchOHLCV(ctx context.Context, req FetchRequest) ([]Row, error) {
	path := filepath.Join(a.root, req.Symbol+".csv")

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.New(errs.SymbolNotFound, "csvfs.FetchOHLCV", err).WithSymbol(req.Symbol)
		}
		return nil, errs.New(errs.IO, "csvfs.FetchOHLCV", err).WithSymbol(req.Symbol)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, errs.New(errs.Parse, "csvfs.FetchOHLCV", err).WithSymbol(req.Symbol)
	}
	if len(records) == 0 {
		return nil, nil
	}

	header := records[0]
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}
	for _, required := range []string{"time", "open", "high", "low", "close", "volume"} {
		if _, ok := col[required]; !ok {
			return nil, errs.New(errs.Parse, "csvfs.FetchOHLCV",
				fmt.Errorf("missing column %q", required)).WithSymbol(req.Symbol)
		}
	}

	var rows []Row
	for _, rec := range records[1:] {
		if err := ctx.Err(); err != nil {
			return nil, errs.New(errs.IO, "csvfs.FetchOHLCV", err).WithSymbol(req.Symbol)
		}

		ts, err := time.Parse(time.RFC3339, rec[col["time"]])
		if err != nil {
			return nil, errs.New(errs.Parse, "csvfs.FetchOHLCV", err).WithSymbol(req.Symbol)
		}
		ts = ts.UTC()
		if ts.Before(req.Start) || ts.After(req.End) {
			continue
		}

		row := Row{Time: ts}
		fields := []struct {
			name string
			dst  *decimal.Decimal
		}{
			{"open", &row.Open}, {"high", &row.High}, {"low", &row.Low},
			{"close", &row.Close}, {"volume", &row.Volume},
		}
		for _, field := range fields {
			d, err := decimal.NewFromString(rec[col[field.name]])
			if err != nil {
				return nil, errs.New(errs.Parse, "csvfs.FetchOHLCV", err).WithSymbol(req.Symbol)
			}
			*field.dst = d
		}

		if err := row.Validate(); err != nil {
			return nil, errs.New(errs.Validation, "csvfs.FetchOHLCV", err).WithSymbol(req.Symbol)
		}
		rows = append(rows, row)
	}

	return dedupeAscending(rows), nil
}
