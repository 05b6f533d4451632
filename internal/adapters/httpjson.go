package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sawpanic/marketdata/internal/errs"
	"github.com/sawpanic/marketdata/internal/retry"
)

// GuardedClient is the shared guarded-fetch HTTP client every HTTP-JSON
// adapter composes around: rate limiter wait, circuit breaker, then retry
// with backoff.
type GuardedClient struct {
	provider string
	guards   Guards
	http     *http.Client
}

// NewGuardedClient builds a client for provider using the given Guards and a
// 30s per-request HTTP timeout.
func NewGuardedClient(provider string, guards Guards) *GuardedClient {
	return &GuardedClient{
		provider: provider,
		guards:   guards,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

// GetJSON performs a guarded GET and unmarshals the JSON body into out.
// HTTP errors are classified into the errs.Kind taxonomy: 401/403 -> Auth,
// 404 -> SymbolNotFound, 429 -> RateLimited, 5xx -> Network (retryable).
func (c *GuardedClient) GetJSON(ctx context.Context, url string, headers map[string]string, out any) error {
	body, err := c.getBytes(ctx, url, headers)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errs.New(errs.Parse, "httpjson.GetJSON", err)
	}
	return nil
}

func (c *GuardedClient) getBytes(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	var body []byte

	op := func() error {
		if err := c.guards.Limiter.Wait(ctx, c.provider); err != nil {
			if waitErr, ok := err.(*errs.Error); ok { // QuotaExceeded must not be masked as retryable
				return waitErr
			}
			return errs.New(errs.Network, "httpjson.Wait", err)
		}

		result, execErr := c.guards.Breakers.Execute(c.provider, func() (any, error) {
			return c.doRequest(ctx, url, headers)
		})
		if execErr != nil {
			if fetchErr, ok := execErr.(*errs.Error); ok {
				return fetchErr
			}
			return errs.New(errs.Network, "httpjson.breaker", execErr)
		}
		body = result.([]byte)
		return nil
	}

	if err := retry.Do(ctx, c.guards.Retry, op); err != nil {
		return nil, err
	}
	return body, nil
}

func (c *GuardedClient) doRequest(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errs.New(errs.IO, "httpjson.doRequest", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errs.New(errs.Network, "httpjson.doRequest", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.New(errs.Network, "httpjson.doRequest", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, errs.New(errs.Auth, "httpjson.doRequest", fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode == http.StatusNotFound:
		return nil, errs.New(errs.SymbolNotFound, "httpjson.doRequest", fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, errs.New(errs.RateLimited, "httpjson.doRequest", fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode >= 500:
		return nil, errs.New(errs.Network, "httpjson.doRequest", fmt.Errorf("status %d", resp.StatusCode))
	default:
		return nil, errs.New(errs.Parse, "httpjson.doRequest", fmt.Errorf("status %d: %s", resp.StatusCode, body))
	}
}

// decimalFromWire parses a wire-format numeric field (string or JSON number)
// into an exact decimal without ever passing through binary floating point.
// An unquoted JSON number token is already decimal text, so it parses
// directly — no float64 round-trip.
func decimalFromWire(raw json.RawMessage) (decimal.Decimal, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return decimal.NewFromString(s)
	}
	d, err := decimal.NewFromString(string(bytes.TrimSpace(raw)))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("decimalFromWire: unrecognized numeric encoding %q", raw)
	}
	return d, nil
}
