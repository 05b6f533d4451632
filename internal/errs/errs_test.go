package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	base := errors.New("boom")
	wrapped := New(Network, "adapter.Fetch", base).WithBundle("b1").WithSymbol("AAPL")

	assert.Equal(t, Network, KindOf(wrapped))
	assert.True(t, errors.Is(wrapped, wrapped))
	assert.True(t, errors.As(wrapped, new(*Error)))
	assert.Equal(t, base, errors.Unwrap(wrapped))
	assert.Equal(t, Kind(""), KindOf(base))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(New(Network, "op", nil)))
	assert.True(t, Retryable(New(RateLimited, "op", nil)))
	assert.False(t, Retryable(New(Auth, "op", nil)))
	assert.False(t, Retryable(New(Validation, "op", nil)))
	assert.False(t, Retryable(New(QuotaExceeded, "op", nil)))
	assert.False(t, Retryable(New(InvalidRequest, "op", nil)))
	assert.False(t, Retryable(errors.New("plain")))
}
