package bar

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestInferAssetKind(t *testing.T) {
	cases := map[string]AssetKind{
		"BTC/USD": Crypto,
		"BTC-USD": Crypto,
		"ESZ24":   Future,
		"CLF25":   Future,
		"AAPL":    Equity,
		"MSFT":    Equity,
		"":        Unknown,
	}
	for symbol, want := range cases {
		assert.Equal(t, want, InferAssetKind(symbol), symbol)
	}
}

func TestBarValidate(t *testing.T) {
	base := Bar{
		Time:   time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		Sid:    1,
		Open:   d("100.00000000"),
		High:   d("105.00000000"),
		Low:    d("99.00000000"),
		Close:  d("102.00000000"),
		Volume: d("1000.00000000"),
	}
	assert.NoError(t, base.Validate())

	badHigh := base
	badHigh.High = d("101.00000000")
	assert.Error(t, badHigh.Validate())

	badLow := base
	badLow.Low = d("100.50000000")
	assert.Error(t, badLow.Validate())

	crossed := base
	crossed.High = d("10.00000000")
	crossed.Low = d("20.00000000")
	assert.Error(t, crossed.Validate())

	negative := base
	negative.Volume = d("-1.00000000")
	assert.Error(t, negative.Validate())
}

func TestRangeContains(t *testing.T) {
	r := Range{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
	}
	assert.True(t, r.Contains(r.Start))
	assert.False(t, r.Contains(r.End))
	assert.True(t, r.Contains(r.Start.Add(24*time.Hour)))
}
