package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sawpanic/marketdata/internal/errs"
)

func TestDoRetriesTransientThenSucceeds(t *testing.T) {
	cfg := Config{InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond, MaxElapsedTime: time.Second}
	attempts := 0
	err := Do(context.Background(), cfg, func() error {
		attempts++
		if attempts < 3 {
			return errs.New(errs.Network, "fetch", errors.New("timeout"))
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	cfg := Config{InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond, MaxElapsedTime: time.Second}
	attempts := 0
	err := Do(context.Background(), cfg, func() error {
		attempts++
		return errs.New(errs.Auth, "fetch", errors.New("bad key"))
	})
	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, errs.Auth, errs.KindOf(err))
}
