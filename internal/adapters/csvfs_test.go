package adapters

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/marketdata/internal/errs"
)

func writeCSV(t *testing.T, dir, symbol, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, symbol+".csv"), []byte(body), 0o644))
}

func TestCSVFSAdapterFetchOHLCV(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, "AAPL", "time,open,high,low,close,volume\n"+
		"2023-01-01T00:00:00Z,100.00000000,101.00000000,99.00000000,100.50000000,1000.00000000\n"+
		"2023-01-02T00:00:00Z,100.50000000,103.00000000,100.00000000,102.50000000,1500.00000000\n")

	a, err := New("csvfs", Config{Provider: "local", BaseURL: dir})
	require.NoError(t, err)

	rows, err := a.FetchOHLCV(context.Background(), FetchRequest{
		Symbol:    "AAPL",
		Start:     time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		End:       time.Date(2023, 1, 3, 0, 0, 0, 0, time.UTC),
		Timeframe: TF1d,
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.True(t, rows[0].Time.Before(rows[1].Time))
	assert.Equal(t, "102.5", rows[1].Close.String())
}

func TestCSVFSAdapterSymbolNotFound(t *testing.T) {
	dir := t.TempDir()
	a, err := New("csvfs", Config{Provider: "local", BaseURL: dir})
	require.NoError(t, err)

	_, err = a.FetchOHLCV(context.Background(), FetchRequest{Symbol: "MISSING", Start: time.Now(), End: time.Now()})
	assert.Equal(t, errs.SymbolNotFound, errs.KindOf(err))
}

func TestCSVFSAdapterRejectsInvalidOHLCV(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, "BAD", "time,open,high,low,close,volume\n"+
		"2023-01-01T00:00:00Z,100.00000000,90.00000000,99.00000000,100.50000000,1000.00000000\n")

	a, err := New("csvfs", Config{Provider: "local", BaseURL: dir})
	require.NoError(t, err)

	_, err = a.FetchOHLCV(context.Background(), FetchRequest{
		Symbol: "BAD",
		Start:  time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		End:    time.Date(2023, 1, 3, 0, 0, 0, 0, time.UTC),
	})
	assert.Equal(t, errs.Validation, errs.KindOf(err))
}

func TestCSVFSAdapterEmptyWindow(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, "AAPL", "time,open,high,low,close,volume\n"+
		"2023-06-01T00:00:00Z,100.00000000,101.00000000,99.00000000,100.50000000,1000.00000000\n")

	a, err := New("csvfs", Config{Provider: "local", BaseURL: dir})
	require.NoError(t, err)

	rows, err := a.FetchOHLCV(context.Background(), FetchRequest{
		Symbol: "AAPL",
		Start:  time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		End:    time.Date(2023, 1, 3, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Empty(t, rows)
}
