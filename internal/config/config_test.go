package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/marketdata/internal/secrets"
)

const sampleYAML = `
store:
  bundle_root: /data/bundles
  compression: lightweight
catalog:
  path: /data/catalog.db
cache:
  max_size_bytes: 1073741824
live:
  bucket_width_secs: 60
providers:
  binance:
    name: binance
    kind: exchange
    base_url: https://api.binance.com
    requests_per_minute: 600
    requests_per_day: 100000
    quota_window: calendar_utc
    burst: 20
    max_retries: 3
    circuit_timeout_secs: 30
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, sampleYAML)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/data/bundles", cfg.Store.BundleRoot)
	assert.Equal(t, int64(1073741824), cfg.Cache.MaxSizeBytes)
	assert.Equal(t, 60*time.Second, cfg.Live.BucketWidth())

	binance, ok := cfg.Providers["binance"]
	require.True(t, ok)
	assert.Equal(t, "exchange", binance.Kind)
	assert.Equal(t, 30*time.Second, binance.CircuitTimeoutDuration())
	assert.InDelta(t, 10.0, binance.RPS(), 1e-9)
	assert.Equal(t, 100000, binance.RequestsPerDay)
}

func TestLoadRejectsMissingBundleRoot(t *testing.T) {
	path := writeConfig(t, `
catalog:
  path: /data/catalog.db
cache:
  max_size_bytes: 1024
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsInvalidProvider(t *testing.T) {
	path := writeConfig(t, `
store:
  bundle_root: /data
catalog:
  path: /data/catalog.db
cache:
  max_size_bytes: 1024
providers:
  bad:
    kind: exchange
    requests_per_minute: 0
    burst: 1
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsUnknownQuotaWindow(t *testing.T) {
	path := writeConfig(t, `
store:
  bundle_root: /data
catalog:
  path: /data/catalog.db
cache:
  max_size_bytes: 1024
providers:
  bad:
    kind: exchange
    requests_per_minute: 60
    quota_window: every_other_tuesday
    burst: 1
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLiveConfigDefaultsBucketWidth(t *testing.T) {
	var l LiveConfig
	assert.Equal(t, 60*time.Second, l.BucketWidth())
}

func TestRequireCredentialFailsFastWhenUnset(t *testing.T) {
	provider := secrets.NewEnvProvider("testprovider_missing")
	_, err := RequireCredential(provider, "api_key")
	assert.Error(t, err)
}

func TestRequireCredentialResolvesSetEnvVar(t *testing.T) {
	t.Setenv("TESTPROVIDER_API_KEY", "secretvalue")
	provider := secrets.NewEnvProvider("testprovider")
	val, err := RequireCredential(provider, "api_key")
	require.NoError(t, err)
	assert.Equal(t, "secretvalue", val)
}
