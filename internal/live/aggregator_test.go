package live

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/marketdata/internal/bar"
)

func p(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func TestAggregatorEmitsOnBucketRotation(t *testing.T) {
	var emitted []bar.Bar
	agg := New(time.Minute, func(b bar.Bar) { emitted = append(emitted, b) })

	base := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	agg.Ingest(Tick{Sid: 1, Time: base, Price: p(t, "100"), Size: p(t, "1")})
	agg.Ingest(Tick{Sid: 1, Time: base.Add(10 * time.Second), Price: p(t, "101"), Size: p(t, "2")})
	agg.Ingest(Tick{Sid: 1, Time: base.Add(30 * time.Second), Price: p(t, "99"), Size: p(t, "1")})
	assert.Empty(t, emitted, "no bar until the bucket rotates")

	agg.Ingest(Tick{Sid: 1, Time: base.Add(time.Minute), Price: p(t, "105"), Size: p(t, "1")})
	require.Len(t, emitted, 1)
	got := emitted[0]
	assert.True(t, got.Open.Equal(p(t, "100")))
	assert.True(t, got.High.Equal(p(t, "101")))
	assert.True(t, got.Low.Equal(p(t, "99")))
	assert.True(t, got.Close.Equal(p(t, "99")))
	assert.True(t, got.Volume.Equal(p(t, "4")))
}

func TestAggregatorDropsLateTicks(t *testing.T) {
	var emitted []bar.Bar
	agg := New(time.Minute, func(b bar.Bar) { emitted = append(emitted, b) })

	base := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	agg.Ingest(Tick{Sid: 1, Time: base.Add(time.Minute), Price: p(t, "100"), Size: p(t, "1")})
	// Late tick, belongs to an earlier (already-rotated-past) bucket.
	agg.Ingest(Tick{Sid: 1, Time: base, Price: p(t, "50"), Size: p(t, "1")})

	agg.Ingest(Tick{Sid: 1, Time: base.Add(2 * time.Minute), Price: p(t, "200"), Size: p(t, "1")})
	require.Len(t, emitted, 1)
	assert.True(t, emitted[0].Open.Equal(p(t, "100")), "late tick must not have mutated the current bucket")
}

func TestAggregatorFlushEmitsInProgressBucketsOnly(t *testing.T) {
	var emitted []bar.Bar
	agg := New(time.Minute, func(b bar.Bar) { emitted = append(emitted, b) })

	base := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	agg.Ingest(Tick{Sid: 1, Time: base, Price: p(t, "100"), Size: p(t, "1")})
	agg.Flush()
	require.Len(t, emitted, 1)

	agg.Flush()
	assert.Len(t, emitted, 1, "flush on an empty aggregator emits nothing new")
}

func TestAggregatorTracksMultipleSidsIndependently(t *testing.T) {
	var emitted []bar.Bar
	agg := New(time.Minute, func(b bar.Bar) { emitted = append(emitted, b) })

	base := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	agg.Ingest(Tick{Sid: 1, Time: base, Price: p(t, "100"), Size: p(t, "1")})
	agg.Ingest(Tick{Sid: 2, Time: base, Price: p(t, "200"), Size: p(t, "1")})
	agg.Flush()

	require.Len(t, emitted, 2)
	sids := map[int64]bool{emitted[0].Sid: true, emitted[1].Sid: true}
	assert.True(t, sids[1])
	assert.True(t, sids[2])
}
