package record

import "time"

// DefaultTTL bounds how long a snapshot may be served before a fresh read.
const DefaultTTL = 60 * time.Second

// Snapshot is an immutable point-in-time copy of every row in one table,
// header included. It is valid until ExpiresAt; each refresh produces a new
// Snapshot and nothing mutates an existing one.
type Snapshot struct {
	StoreKey  string
	TakenAt   time.Time
	ExpiresAt time.Time

	rows []Row
}

// NewSnapshot copies rows into a snapshot taken at the given instant.
func NewSnapshot(key string, rows []Row, takenAt time.Time, ttl time.Duration) Snapshot {
	cp := make([]Row, len(rows))
	for i, r := range rows {
		cp[i] = r.Clone()
	}
	return Snapshot{StoreKey: key, TakenAt: takenAt, ExpiresAt: takenAt.Add(ttl), rows: cp}
}

// IsStale reports whether s must be refreshed before use at now.
func IsStale(s Snapshot, now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Len returns the number of rows including the header.
func (s Snapshot) Len() int {
	return len(s.rows)
}

// Header returns a copy of row 0, or nil for an empty table.
func (s Snapshot) Header() Row {
	if len(s.rows) == 0 {
		return nil
	}
	return s.rows[0].Clone()
}

// Last returns a copy of the last row in append order.
func (s Snapshot) Last() (Row, bool) {
	if len(s.rows) == 0 {
		return nil, false
	}
	return s.rows[len(s.rows)-1].Clone(), true
}

// Records returns copies of every row after the header.
func (s Snapshot) Records() []Row {
	if len(s.rows) < 2 {
		return []Row{}
	}
	out := make([]Row, 0, len(s.rows)-1)
	for _, r := range s.rows[1:] {
		out = append(out, r.Clone())
	}
	return out
}

// Rows returns copies of every row, header first.
func (s Snapshot) Rows() []Row {
	out := make([]Row, len(s.rows))
	for i, r := range s.rows {
		out[i] = r.Clone()
	}
	return out
}
