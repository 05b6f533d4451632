package bar

import "errors"

var (
	errInvalidHigh     = errors.New("high must be >= max(open, close)")
	errInvalidLow      = errors.New("low must be <= min(open, close)")
	errHighLessThanLow = errors.New("high must be >= low")
	errNegativeField   = errors.New("ohlcv fields must be non-negative")
)
