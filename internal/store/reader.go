package store

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/sawpanic/marketdata/internal/bar"
	"github.com/sawpanic/marketdata/internal/errs"
)

var (
	yearMonthRE = regexp.MustCompile(`^year=(\d{4})$`)
	monthRE     = regexp.MustCompile(`^month=(\d{2})$`)
	dayRE       = regexp.MustCompile(`^day=(\d{2})$`)
)

// Reader scans partitioned bar files under a bundle root. Readers are
// stateless, hold no file handles between calls, take no lock on file
// open, and are safe for concurrent use.
type Reader struct{}

func NewReader() *Reader { return &Reader{} }

// Read returns the union of bars matching sids and the time range [start,
// end), using partition pruning from directory names and the file header's
// min/max time before decompressing row data. An empty result (no matching
// partitions) is a nil slice, never fabricated rows.
func (r *Reader) Read(bundleRoot string, res bar.Resolution, sids []int64, start, end time.Time) ([]bar.Bar, error) {
	wantSid := make(map[int64]bool, len(sids))
	for _, s := range sids {
		wantSid[s] = true
	}

	files, err := r.candidateFiles(bundleRoot, res, start, end)
	if err != nil {
		return nil, errs.New(errs.IO, "store.Read", err)
	}

	var out []bar.Bar
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, errs.New(errs.IO, "store.Read", err)
		}

		h, _, err := decodeFile(data, true)
		if err != nil {
			return nil, errs.New(errs.IO, "store.Read", fmt.Errorf("%s: %w", path, err))
		}
		if h.MaxTime.Before(start) || !h.MinTime.Before(end) {
			continue
		}

		_, rows, err := decodeFile(data, false)
		if err != nil {
			return nil, errs.New(errs.IO, "store.Read", fmt.Errorf("%s: %w", path, err))
		}
		for _, row := range rows {
			if len(wantSid) > 0 && !wantSid[row.Sid] {
				continue
			}
			if row.Time.Before(start) || !row.Time.Before(end) {
				continue
			}
			out = append(out, row)
		}
	}

	return out, nil
}

// Files lists every partition file under bundleRoot for res, with no time
// pruning — used by diagnostics (`bundle info`) rather than query paths.
func (r *Reader) Files(bundleRoot string, res bar.Resolution) ([]string, error) {
	return r.candidateFiles(bundleRoot, res, time.Time{}, time.Unix(1<<62, 0))
}

// candidateFiles walks the partition directory tree, pruning by the
// year/month[/day] encoded in directory names before ever opening a file.
func (r *Reader) candidateFiles(bundleRoot string, res bar.Resolution, start, end time.Time) ([]string, error) {
	root := filepath.Join(bundleRoot, resolutionDirName(res))
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return nil, nil
	}

	var files []string
	years, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	for _, ye := range years {
		ym := yearMonthRE.FindStringSubmatch(ye.Name())
		if ym == nil {
			continue
		}
		year, _ := strconv.Atoi(ym[1])
		if year < start.Year() || year > end.Year() {
			continue
		}

		months, err := os.ReadDir(filepath.Join(root, ye.Name()))
		if err != nil {
			return nil, err
		}
		for _, me := range months {
			mm := monthRE.FindStringSubmatch(me.Name())
			if mm == nil {
				continue
			}
			month, _ := strconv.Atoi(mm[1])
			monthStart := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
			if !monthStart.Before(end) || !monthStart.AddDate(0, 1, 0).After(start) {
				continue
			}

			if res == bar.Daily {
				files = append(files, filepath.Join(root, ye.Name(), me.Name(), "data.bin"))
				continue
			}

			days, err := os.ReadDir(filepath.Join(root, ye.Name(), me.Name()))
			if err != nil {
				return nil, err
			}
			for _, de := range days {
				dd := dayRE.FindStringSubmatch(de.Name())
				if dd == nil {
					continue
				}
				day, _ := strconv.Atoi(dd[1])
				partTime := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
				if partTime.After(end) || !partTime.AddDate(0, 0, 1).After(start) {
					continue
				}
				files = append(files, filepath.Join(root, ye.Name(), me.Name(), de.Name(), "data.bin"))
			}
		}
	}
	return files, nil
}

func resolutionDirName(res bar.Resolution) string {
	if res == bar.Minute {
		return "minute_bars"
	}
	return "daily_bars"
}
