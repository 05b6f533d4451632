// Package errs defines the tagged error taxonomy shared by every data-plane
// component, so callers can branch on what went wrong without string matching.
package errs

import (
	"errors"
	"fmt"
)

// Kind is the closed set of failure categories a data-plane operation can
// report. Adapters, the store, the catalog, and the portal all report through
// this same set so the orchestrator can decide retry/abort behavior uniformly.
type Kind string

const (
	Network         Kind = "network"
	RateLimited     Kind = "rate_limited"
	InvalidRequest  Kind = "invalid_request"
	Auth            Kind = "auth"
	SymbolNotFound  Kind = "symbol_not_found"
	Parse           Kind = "parse"
	Validation      Kind = "validation"
	QuotaExceeded   Kind = "quota_exceeded"
	Lookahead       Kind = "lookahead"
	NoDataAvailable Kind = "no_data_available"
	IO              Kind = "io"
	Catalog         Kind = "catalog"
)

// Error is the concrete error type every component returns. Op names the
// failing operation (e.g. "exchange.FetchOHLCV"), Bundle/Symbol are
// populated when known, and Err is the wrapped cause. The error carries no
// time-range field.
type Error struct {
	Kind   Kind
	Op     string
	Bundle string
	Symbol string
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.Bundle != "" {
		msg += fmt.Sprintf(" bundle=%s", e.Bundle)
	}
	if e.Symbol != "" {
		msg += fmt.Sprintf(" symbol=%s", e.Symbol)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a tagged Error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// WithBundle attaches bundle context and returns the receiver for chaining.
func (e *Error) WithBundle(bundle string) *Error {
	e.Bundle = bundle
	return e
}

// WithSymbol attaches symbol context and returns the receiver for chaining.
func (e *Error) WithSymbol(symbol string) *Error {
	e.Symbol = symbol
	return e
}

// KindOf extracts the Kind from err, or "" if err is not (or does not wrap) an *Error.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}

// Retryable reports whether an error's Kind is worth retrying via internal/retry.
// Network and RateLimited are transient; everything else (bad auth, a symbol
// that doesn't exist, a parse failure, validation, lookahead) will not resolve
// itself on a second attempt.
func Retryable(err error) bool {
	switch KindOf(err) {
	case Network, RateLimited:
		return true
	default:
		return false
	}
}

// ValidationDetail carries the count and sample the Validation error kind
// requires so a caller can report what failed without re-scanning the batch.
// It is the Err payload of a Validation-kind *Error.
type ValidationDetail struct {
	Count  int
	Sample []string
}

func (d *ValidationDetail) Error() string {
	if len(d.Sample) == 0 {
		return fmt.Sprintf("%d OHLCV violations", d.Count)
	}
	return fmt.Sprintf("%d OHLCV violations, e.g. %s", d.Count, d.Sample[0])
}
