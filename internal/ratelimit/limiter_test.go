package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/marketdata/internal/errs"
)

func TestLimiterWait(t *testing.T) {
	l := New(1000, 5)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i := 0; i < 5; i++ {
		assert.NoError(t, l.Wait(ctx))
	}
}

func TestManagerPerProvider(t *testing.T) {
	m := NewManager(1000, 5)
	m.AddProvider("binance", 2000, 10)

	ctx := context.Background()
	assert.NoError(t, m.Wait(ctx, "binance"))
	assert.NoError(t, m.Wait(ctx, "unregistered"))

	stats := m.Stats()
	assert.Contains(t, stats, "binance")
	assert.Contains(t, stats, "unregistered")
	assert.Equal(t, 10, stats["binance"].Burst)
}

func TestDailyCapExhaustionFailsWithQuotaExceeded(t *testing.T) {
	l := NewWithDailyCap(1000, 10, 2, Rolling24h)
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx))
	require.NoError(t, l.Wait(ctx))

	err := l.Wait(ctx)
	require.Error(t, err)
	assert.Equal(t, errs.QuotaExceeded, errs.KindOf(err))
}

func TestRolling24hWindowResets(t *testing.T) {
	l := NewWithDailyCap(1000, 10, 1, Rolling24h)
	clock := time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return clock }

	ctx := context.Background()
	require.NoError(t, l.Wait(ctx))
	assert.Equal(t, errs.QuotaExceeded, errs.KindOf(l.Wait(ctx)))

	clock = clock.Add(23 * time.Hour)
	assert.Equal(t, errs.QuotaExceeded, errs.KindOf(l.Wait(ctx)))

	clock = clock.Add(2 * time.Hour)
	assert.NoError(t, l.Wait(ctx))
}

func TestCalendarUTCWindowResetsAtMidnight(t *testing.T) {
	l := NewWithDailyCap(1000, 10, 1, CalendarUTC)
	clock := time.Date(2023, 6, 1, 23, 30, 0, 0, time.UTC)
	l.now = func() time.Time { return clock }

	ctx := context.Background()
	require.NoError(t, l.Wait(ctx))
	assert.Equal(t, errs.QuotaExceeded, errs.KindOf(l.Wait(ctx)))

	clock = time.Date(2023, 6, 2, 0, 30, 0, 0, time.UTC)
	assert.NoError(t, l.Wait(ctx))
}

func TestStatsReportsDailyUsage(t *testing.T) {
	l := NewWithDailyCap(1000, 10, 5, Rolling24h)
	require.NoError(t, l.Wait(context.Background()))

	stats := l.Stats()
	assert.Equal(t, 5, stats.DailyCap)
	assert.Equal(t, 1, stats.DailyUsed)
}
