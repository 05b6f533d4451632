package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sawpanic/marketdata/internal/errs"
)

func init() {
	Register("equities", newEquitiesAdapter)
}

// equitiesTimeframes maps the canonical Timeframe to an Alpaca-shaped
// `timeframe` query parameter.
var equitiesTimeframes = map[Timeframe]string{
	TF1m:  "1Min",
	TF5m:  "5Min",
	TF15m: "15Min",
	TF30m: "30Min",
	TF1h:  "1Hour",
	TF1d:  "1Day",
}

// EquitiesAdapter fetches historical equity bars from a header-auth, RFC3339
// {t,o,h,l,c,v}-shaped bars API (Alpaca-compatible: APCA-API-KEY-ID /
// APCA-API-SECRET-KEY header pair, range and timeframe as query params).
type EquitiesAdapter struct {
	provider string
	client   *GuardedClient
	baseURL  string
	apiKey   string
	secret   string
}

func newEquitiesAdapter(cfg Config) (Adapter, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("adapters.equities: BaseURL is required")
	}
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, errs.New(errs.Auth, "equities.New",
			fmt.Errorf("API key and secret are required for %s", cfg.Provider))
	}
	return &EquitiesAdapter{
		provider: cfg.Provider,
		client:   NewGuardedClient(cfg.Provider, cfg.Guards),
		baseURL:  cfg.BaseURL,
		apiKey:   cfg.APIKey,
		secret:   cfg.APISecret,
	}, nil
}

func (a *EquitiesAdapter) Name() string { return a.provider }

type equitiesBar struct {
	T string          `json:"t"`
	O json.RawMessage `json:"o"`
	H json.RawMessage `json:"h"`
	L json.RawMessage `json:"l"`
	C json.RawMessage `json:"c"`
	V json.RawMessage `json:"v"`
}

type equitiesResponse struct {
	Bars    []equitiesBar `json:"bars"`
	Message string        `json:"message"`
}

func (a *EquitiesAdapter) FetchOHLCV(ctx context.Context, req FetchRequest) ([]Row, error) {
	tf, ok := equitiesTimeframes[req.Timeframe]
	if !ok {
		return nil, errs.New(errs.InvalidRequest, "equities.FetchOHLCV",
			fmt.Errorf("unsupported timeframe %q", req.Timeframe)).WithSymbol(req.Symbol)
	}

	url := fmt.Sprintf("%s/v2/stocks/%s/bars?start=%s&end=%s&timeframe=%s&limit=10000&adjustment=all",
		a.baseURL, strings.ToUpper(req.Symbol),
		req.Start.UTC().Format(time.RFC3339), req.End.UTC().Format(time.RFC3339), tf)

	headers := map[string]string{
		"APCA-API-KEY-ID":     a.apiKey,
		"APCA-API-SECRET-KEY": a.secret,
	}

	var resp equitiesResponse
	if err := a.client.GetJSON(ctx, url, headers, &resp); err != nil {
		if e, ok := err.(*errs.Error); ok {
			return nil, e.WithSymbol(req.Symbol)
		}
		return nil, err
	}

	if resp.Message != "" {
		msg := strings.ToLower(resp.Message)
		if strings.Contains(msg, "not found") || strings.Contains(msg, "invalid") {
			return nil, errs.New(errs.SymbolNotFound, "equities.FetchOHLCV",
				fmt.Errorf("%s", resp.Message)).WithSymbol(req.Symbol)
		}
		return nil, errs.New(errs.Parse, "equities.FetchOHLCV",
			fmt.Errorf("%s", resp.Message)).WithSymbol(req.Symbol)
	}

	if len(resp.Bars) == 0 {
		return nil, nil
	}

	rows := make([]Row, 0, len(resp.Bars))
	for _, b := range resp.Bars {
		ts, err := time.Parse(time.RFC3339, b.T)
		if err != nil {
			return nil, errs.New(errs.Parse, "equities.FetchOHLCV", err).WithSymbol(req.Symbol)
		}

		open, err := decimalFromWire(b.O)
		if err != nil {
			return nil, errs.New(errs.Parse, "equities.FetchOHLCV", err).WithSymbol(req.Symbol)
		}
		high, err := decimalFromWire(b.H)
		if err != nil {
			return nil, errs.New(errs.Parse, "equities.FetchOHLCV", err).WithSymbol(req.Symbol)
		}
		low, err := decimalFromWire(b.L)
		if err != nil {
			return nil, errs.New(errs.Parse, "equities.FetchOHLCV", err).WithSymbol(req.Symbol)
		}
		closeP, err := decimalFromWire(b.C)
		if err != nil {
			return nil, errs.New(errs.Parse, "equities.FetchOHLCV", err).WithSymbol(req.Symbol)
		}
		vol, err := decimalFromWire(b.V)
		if err != nil {
			return nil, errs.New(errs.Parse, "equities.FetchOHLCV", err).WithSymbol(req.Symbol)
		}

		row := Row{Time: ts.UTC(), Open: open, High: high, Low: low, Close: closeP, Volume: vol}
		if err := row.Validate(); err != nil {
			return nil, errs.New(errs.Validation, "equities.FetchOHLCV", err).WithSymbol(req.Symbol)
		}
		rows = append(rows, row)
	}

	return dedupeAscending(rows), nil
}
