// Package retry wraps adapter fetch calls with exponential backoff, retrying
// only the error Kinds the taxonomy marks transient.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/sawpanic/marketdata/internal/errs"
)

// Config controls the backoff schedule.
type Config struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
}

// DefaultConfig mirrors a typical provider retry schedule: start at 500ms,
// cap individual waits at 30s, give up after 2 minutes total.
func DefaultConfig() Config {
	return Config{
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     30 * time.Second,
		MaxElapsedTime:  2 * time.Minute,
	}
}

// Do runs fn, retrying with exponential backoff while the returned error is
// Retryable per internal/errs and ctx has not been canceled. A non-retryable
// error (Auth, SymbolNotFound, Parse, Validation, ...) returns immediately.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialInterval
	b.MaxInterval = cfg.MaxInterval
	b.MaxElapsedTime = cfg.MaxElapsedTime

	bctx := backoff.WithContext(b, ctx)

	return backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if !errs.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, bctx)
}
