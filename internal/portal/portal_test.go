package portal

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/marketdata/internal/bar"
	"github.com/sawpanic/marketdata/internal/errs"
)

type fakeReader struct {
	rows []bar.Bar
}

func (f *fakeReader) Read(_ string, _ bar.Resolution, sids []int64, start, end time.Time) ([]bar.Bar, error) {
	var out []bar.Bar
	want := make(map[int64]bool, len(sids))
	for _, s := range sids {
		want[s] = true
	}
	for _, r := range f.rows {
		if len(want) > 0 && !want[r.Sid] {
			continue
		}
		if r.Time.Before(start) || !r.Time.Before(end) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func d(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	v, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return v
}

func day(dayOfMonth int) time.Time {
	return time.Date(2023, 1, dayOfMonth, 0, 0, 0, 0, time.UTC)
}

// Three daily closes for sid 1: 100.50, 102.50, 104.50 on Jan 1-3 2023.
func sampleRows(t *testing.T) []bar.Bar {
	t.Helper()
	mk := func(dayOfMonth int, close string) bar.Bar {
		c := d(t, close)
		return bar.Bar{Time: day(dayOfMonth), Sid: 1, Open: c, High: c, Low: c, Close: c, Volume: d(t, "1")}
	}
	return []bar.Bar{mk(1, "100.50"), mk(2, "102.50"), mk(3, "104.50")}
}

func newTestPortal(t *testing.T, now time.Time) *Portal {
	t.Helper()
	return New(&fakeReader{rows: sampleRows(t)}, "", NewClock(now))
}

func TestSpotReturnsValueAtExactInstant(t *testing.T) {
	p := newTestPortal(t, day(10))

	got, err := p.Spot(context.Background(), []int64{1}, FieldClose, day(2), bar.Daily)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[1].Equal(d(t, "102.50")))
}

func TestSpotRejectsQueryAfterSimulationClock(t *testing.T) {
	p := newTestPortal(t, day(1))

	_, err := p.Spot(context.Background(), []int64{1}, FieldClose, day(2), bar.Daily)
	assert.Equal(t, errs.Lookahead, errs.KindOf(err))
}

func TestSpotNoBarAtInstantIsNoDataAvailable(t *testing.T) {
	p := newTestPortal(t, day(10))

	_, err := p.Spot(context.Background(), []int64{1}, FieldClose,
		day(2).Add(12*time.Hour), bar.Daily)
	assert.Equal(t, errs.NoDataAvailable, errs.KindOf(err))
}

func TestSpotUnknownSidIsNoDataAvailable(t *testing.T) {
	p := newTestPortal(t, day(10))

	_, err := p.Spot(context.Background(), []int64{99}, FieldClose, day(2), bar.Daily)
	assert.Equal(t, errs.NoDataAvailable, errs.KindOf(err))
}

func TestSpotRejectsUnknownField(t *testing.T) {
	p := newTestPortal(t, day(10))

	_, err := p.Spot(context.Background(), []int64{1}, Field("vwap"), day(2), bar.Daily)
	assert.Equal(t, errs.InvalidRequest, errs.KindOf(err))
}

func TestHistoryReturnsLastBarsAscending(t *testing.T) {
	p := newTestPortal(t, day(10))

	got, err := p.History(context.Background(), []int64{1}, day(3), 2, FieldClose, bar.Daily)
	require.NoError(t, err)
	require.Len(t, got[1], 2)
	assert.True(t, got[1][0].Equal(d(t, "102.50")))
	assert.True(t, got[1][1].Equal(d(t, "104.50")))
}

func TestHistoryReturnsFewerBarsWithoutPadding(t *testing.T) {
	p := newTestPortal(t, day(10))

	got, err := p.History(context.Background(), []int64{1}, day(3), 10, FieldClose, bar.Daily)
	require.NoError(t, err)
	assert.Len(t, got[1], 3)
}

func TestHistoryRejectsEndAfterSimulationClock(t *testing.T) {
	p := newTestPortal(t, day(1))

	_, err := p.History(context.Background(), []int64{1}, day(2), 2, FieldClose, bar.Daily)
	assert.Equal(t, errs.Lookahead, errs.KindOf(err))
}

func TestClockAdvancePanicsOnRewind(t *testing.T) {
	clock := NewClock(day(5))
	assert.Panics(t, func() { clock.Advance(day(1)) })

	clock.Advance(day(10))
	assert.Equal(t, day(10), clock.Now())
}
