package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"

	atomicio "github.com/sawpanic/marketdata/internal/io"
)

// backupManifest records what a legacy-catalog upgrade preserved, enough to
// restore the original file by hand if the upgrade needs to be undone.
type backupManifest struct {
	OriginalPath     string    `json:"original_path"`
	OriginalChecksum string    `json:"original_checksum"`
	BackedUpAt       time.Time `json:"backed_up_at"`
	BundleCount      int       `json:"bundle_count"`
}

// backupLegacyIfNeeded detects a pre-existing catalog database whose schema
// predates bundle_symbols/bundle_cache (the legacy shape: provenance and
// quality only) and copies it, plus a manifest, into
// <dir>/backups/catalog-backup-<unix>/ before migrate() touches it in place.
// A catalog that does not yet exist, or is already current, is left alone.
func backupLegacyIfNeeded(path string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat catalog: %w", err)
	}
	if info.Size() == 0 {
		return nil
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open for legacy check: %w", err)
	}
	defer db.Close()

	legacy, bundleCount, err := isLegacySchema(db)
	if err != nil {
		return fmt.Errorf("inspect schema: %w", err)
	}
	if !legacy {
		return nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read catalog for backup: %w", err)
	}
	sum := sha256.Sum256(raw)

	backupDir := filepath.Join(filepath.Dir(path), "backups", fmt.Sprintf("catalog-backup-%d", time.Now().Unix()))
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return fmt.Errorf("create backup dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(backupDir, filepath.Base(path)), raw, 0o644); err != nil {
		return fmt.Errorf("write catalog backup: %w", err)
	}

	manifest := backupManifest{
		OriginalPath:     path,
		OriginalChecksum: hex.EncodeToString(sum[:]),
		BackedUpAt:       time.Now(),
		BundleCount:      bundleCount,
	}
	return atomicio.WriteJSONAtomic(filepath.Join(backupDir, "manifest.json"), manifest)
}

// isLegacySchema reports whether the catalog predates bundle_symbols, and if
// so how many bundles it holds (for the backup manifest).
func isLegacySchema(db *sqlx.DB) (bool, int, error) {
	var tableCount int
	err := db.Get(&tableCount, `
		SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'bundle_symbols'
	`)
	if err != nil {
		return false, 0, err
	}
	if tableCount > 0 {
		return false, 0, nil
	}

	var hasMetadata int
	if err := db.Get(&hasMetadata, `
		SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'bundle_metadata'
	`); err != nil {
		return false, 0, err
	}
	if hasMetadata == 0 {
		return false, 0, nil
	}

	var count int
	if err := db.Get(&count, `SELECT COUNT(*) FROM bundle_metadata`); err != nil {
		return false, 0, err
	}
	return true, count, nil
}
