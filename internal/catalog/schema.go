package catalog

// currentSchemaVersion is the live schema this package creates/migrates to.
// A legacy catalog (provenance + quality only) carries version 0
// implicitly — no schema_version row at all.
const currentSchemaVersion = 1

const ddl = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS bundle_metadata (
	bundle_name TEXT PRIMARY KEY,
	source_type TEXT NOT NULL DEFAULT '',
	source_url TEXT NOT NULL DEFAULT '',
	api_version TEXT NOT NULL DEFAULT '',
	fetch_timestamp INTEGER NOT NULL DEFAULT 0,
	data_version TEXT NOT NULL DEFAULT '',
	checksum TEXT NOT NULL DEFAULT '',
	timezone TEXT NOT NULL DEFAULT 'UTC',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS data_quality_metrics (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	bundle_name TEXT NOT NULL REFERENCES bundle_metadata(bundle_name),
	row_count INTEGER NOT NULL,
	start_date INTEGER NOT NULL,
	end_date INTEGER NOT NULL,
	missing_days_count INTEGER NOT NULL DEFAULT 0,
	missing_days_list TEXT NOT NULL DEFAULT '',
	outlier_count INTEGER NOT NULL DEFAULT 0,
	ohlcv_violations INTEGER NOT NULL DEFAULT 0,
	validation_timestamp INTEGER NOT NULL,
	validation_passed INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_quality_bundle_ts
	ON data_quality_metrics(bundle_name, validation_timestamp DESC);

CREATE TABLE IF NOT EXISTS bundle_symbols (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	bundle_name TEXT NOT NULL REFERENCES bundle_metadata(bundle_name),
	symbol TEXT NOT NULL,
	asset_type TEXT NOT NULL,
	exchange TEXT NOT NULL DEFAULT '',
	UNIQUE(bundle_name, symbol)
);

CREATE TABLE IF NOT EXISTS bundle_cache (
	cache_key TEXT PRIMARY KEY,
	bundle_name TEXT NOT NULL REFERENCES bundle_metadata(bundle_name),
	bundle_path TEXT NOT NULL,
	fetch_timestamp INTEGER NOT NULL,
	size_bytes INTEGER NOT NULL,
	last_accessed INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cache_last_accessed ON bundle_cache(last_accessed ASC);

CREATE TABLE IF NOT EXISTS cache_stats_daily (
	stat_date TEXT PRIMARY KEY,
	hit_count INTEGER NOT NULL DEFAULT 0,
	miss_count INTEGER NOT NULL DEFAULT 0,
	total_size_bytes INTEGER NOT NULL DEFAULT 0,
	avg_fetch_latency_ms REAL NOT NULL DEFAULT 0
);
`
