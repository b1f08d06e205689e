package record

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ID is a record identifier of the form PREFIX-MMYY-SSS.
//
// The serial is scoped to one (prefix, month, year) partition and starts at 1.
// It is rendered with at least three digits; serials above 999 widen the
// rendering to four digits and no longer match the well-formed pattern.
type ID struct {
	Prefix string
	Month  time.Month
	Year   int // two-digit year, 0-99
	Serial int
}

var wellFormedID = regexp.MustCompile(`^[A-Z]{1,2}-\d{4}-\d{3}$`)

// NewID builds the identifier for serial in the partition containing at.
func NewID(prefix string, at time.Time, serial int) ID {
	return ID{Prefix: prefix, Month: at.Month(), Year: at.Year() % 100, Serial: serial}
}

// String renders the identifier.
func (id ID) String() string {
	return fmt.Sprintf("%s-%s-%03d", id.Prefix, id.Period(), id.Serial)
}

// Period renders the MMYY partition component.
func (id ID) Period() string {
	return fmt.Sprintf("%02d%02d", int(id.Month), id.Year)
}

// SamePartition reports whether both identifiers number the same
// (prefix, month, year) sequence.
func (id ID) SamePartition(other ID) bool {
	return id.Prefix == other.Prefix && id.Month == other.Month && id.Year == other.Year
}

// Next returns the following identifier in the same partition.
func (id ID) Next() ID {
	id.Serial++
	return id
}

// WellFormed reports whether s matches ^[A-Z]{1,2}-\d{4}-\d{3}$.
func WellFormed(s string) bool {
	return wellFormedID.MatchString(s)
}

// ParseID parses PREFIX-MMYY-N. It accepts serials of any width so that
// identifiers past 999 still parse.
func ParseID(s string) (ID, error) {
	parts := strings.Split(strings.TrimSpace(s), "-")
	if len(parts) != 3 {
		return ID{}, fmt.Errorf("record id %q: expected PREFIX-MMYY-SERIAL", s)
	}
	prefix, period, serial := parts[0], parts[1], parts[2]
	if prefix == "" {
		return ID{}, fmt.Errorf("record id %q: empty prefix", s)
	}
	if len(period) != 4 || !isDigits(period) {
		return ID{}, fmt.Errorf("record id %q: period must be MMYY", s)
	}
	if serial == "" || !isDigits(serial) {
		return ID{}, fmt.Errorf("record id %q: serial must be numeric", s)
	}
	mm, _ := strconv.Atoi(period[:2])
	yy, _ := strconv.Atoi(period[2:])
	if mm < 1 || mm > 12 {
		return ID{}, fmt.Errorf("record id %q: month %02d out of range", s, mm)
	}
	n, err := strconv.Atoi(serial)
	if err != nil {
		return ID{}, fmt.Errorf("record id %q: %w", s, err)
	}
	return ID{Prefix: prefix, Month: time.Month(mm), Year: yy, Serial: n}, nil
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
