// Package config loads the YAML configuration that drives adapters, the
// store, the catalog, and the orchestrator: plain structs, yaml.Unmarshal,
// then Validate.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/sawpanic/marketdata/internal/ratelimit"
	"github.com/sawpanic/marketdata/internal/secrets"
)

// Config is the complete data-plane configuration: provider connectivity,
// storage/catalog locations, cache sizing, and live aggregation.
type Config struct {
	Providers map[string]ProviderConfig `yaml:"providers"`
	Store     StoreConfig               `yaml:"store"`
	Catalog   CatalogConfig             `yaml:"catalog"`
	Cache     CacheConfig               `yaml:"cache"`
	Live      LiveConfig                `yaml:"live"`
}

// ProviderConfig configures one adapter's connectivity and guard thresholds.
// Credentials are resolved through secrets.EnvProvider keyed by Name, e.g.
// provider name "binance" resolves BINANCE_API_KEY/BINANCE_API_SECRET.
type ProviderConfig struct {
	Name           string  `yaml:"name"`
	Kind           string  `yaml:"kind"` // registry key, e.g. "exchange", "equities", "csvfs"
	BaseURL        string  `yaml:"base_url"`
	RequestsPerMin float64 `yaml:"requests_per_minute"`
	RequestsPerDay int     `yaml:"requests_per_day"` // 0 disables the daily cap
	QuotaWindow    string  `yaml:"quota_window"`     // "rolling_24h" (default) or "calendar_utc"
	Burst          int     `yaml:"burst"`
	MaxRetries     int     `yaml:"max_retries"`
	CircuitTimeout int     `yaml:"circuit_timeout_secs"`
}

// RPS is the token-bucket refill rate: requests_per_minute spread evenly
// across the minute.
func (p *ProviderConfig) RPS() float64 {
	return p.RequestsPerMin / 60
}

// StoreConfig locates the columnar bundle root on disk.
type StoreConfig struct {
	BundleRoot  string `yaml:"bundle_root"`
	Compression string `yaml:"compression"` // "lightweight" or "strong"
}

// CatalogConfig locates the metadata catalog database file.
type CatalogConfig struct {
	Path string `yaml:"path"`
}

// CacheConfig bounds the LRU cache's total size.
type CacheConfig struct {
	MaxSizeBytes int64 `yaml:"max_size_bytes"`
}

// LiveConfig configures the tick aggregator's bucket width.
type LiveConfig struct {
	BucketWidthSecs int `yaml:"bucket_width_secs"`
}

// Load reads and validates a Config from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Store.BundleRoot == "" {
		return fmt.Errorf("store.bundle_root cannot be empty")
	}
	if c.Catalog.Path == "" {
		return fmt.Errorf("catalog.path cannot be empty")
	}
	if c.Cache.MaxSizeBytes <= 0 {
		return fmt.Errorf("cache.max_size_bytes must be positive, got %d", c.Cache.MaxSizeBytes)
	}
	for name, p := range c.Providers {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("provider %s: %w", name, err)
		}
	}
	return nil
}

func (p *ProviderConfig) Validate() error {
	if p.Kind == "" {
		return fmt.Errorf("kind cannot be empty")
	}
	if p.RequestsPerMin <= 0 {
		return fmt.Errorf("requests_per_minute must be positive, got %f", p.RequestsPerMin)
	}
	if p.RequestsPerDay < 0 {
		return fmt.Errorf("requests_per_day cannot be negative, got %d", p.RequestsPerDay)
	}
	switch p.QuotaWindow {
	case "", string(ratelimit.Rolling24h), string(ratelimit.CalendarUTC):
	default:
		return fmt.Errorf("quota_window must be %q or %q, got %q",
			ratelimit.Rolling24h, ratelimit.CalendarUTC, p.QuotaWindow)
	}
	if p.Burst < 1 {
		return fmt.Errorf("burst must be at least 1, got %d", p.Burst)
	}
	return nil
}

func (p *ProviderConfig) CircuitTimeoutDuration() time.Duration {
	return time.Duration(p.CircuitTimeout) * time.Second
}

func (l *LiveConfig) BucketWidth() time.Duration {
	if l.BucketWidthSecs <= 0 {
		return 60 * time.Second
	}
	return time.Duration(l.BucketWidthSecs) * time.Second
}

// RequireCredential resolves a credential at adapter construction time and
// fails fast instead of deferring to first use — a misconfigured provider
// must fail at startup, not on its first fetch call.
func RequireCredential(provider *secrets.EnvProvider, key string) (string, error) {
	val, err := provider.Get(key)
	if err != nil {
		return "", fmt.Errorf("required credential %q: %w", key, err)
	}
	return val, nil
}
