package record

import (
	"context"
	"sort"
	"time"
)

// IntegrityReport summarizes identifier health for one table.
type IntegrityReport struct {
	StoreKey   string
	Rows       int
	Last       string         // record ID of the last row, "" when empty
	Duplicates map[string]int // record ID -> occurrences, only when > 1
	Malformed  []string       // IDs that do not match the fixed-width format
	CheckedAt  time.Time
}

// Clean reports whether the table has no duplicate or malformed identifiers.
func (r IntegrityReport) Clean() bool {
	return len(r.Duplicates) == 0 && len(r.Malformed) == 0
}

// DuplicateIDs returns the duplicated identifiers in sorted order.
func (r IntegrityReport) DuplicateIDs() []string {
	ids := make([]string, 0, len(r.Duplicates))
	for id := range r.Duplicates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Inspect scans every data row of snap. Duplicates are what loose-mode
// allocation leaves behind; malformed IDs include serials past 999.
func Inspect(snap Snapshot, now time.Time) IntegrityReport {
	report := IntegrityReport{
		StoreKey:   snap.StoreKey,
		Duplicates: make(map[string]int),
		Malformed:  []string{},
		CheckedAt:  now,
	}
	seen := make(map[string]int)
	for _, row := range snap.Records() {
		report.Rows++
		id := row.RecordID()
		report.Last = id
		seen[id]++
		if seen[id] == 1 && !WellFormed(id) {
			report.Malformed = append(report.Malformed, id)
		}
	}
	for id, n := range seen {
		if n > 1 {
			report.Duplicates[id] = n
		}
	}
	return report
}

// InspectAll refreshes every type's snapshot and checks it. The refresh also
// warms the cache for the next reader.
func InspectAll(ctx context.Context, cache *SnapshotCache, now time.Time) ([]IntegrityReport, error) {
	types := Types()
	reports := make([]IntegrityReport, 0, len(types))
	for _, t := range types {
		snap, err := cache.Refresh(ctx, t.StoreKey)
		if err != nil {
			return nil, err
		}
		reports = append(reports, Inspect(snap, now))
	}
	return reports, nil
}
