/*
types.go - Record types, field schemas and rows

PURPOSE:
  Defines the closed set of record types the intake engine accepts and the
  row layout each one is written with. A record type owns its identifier
  prefix, its backing table and its ordered field schema.

ROW LAYOUT:
  [timestamp, recordId, ...type fields in schema order..., submitter, attachmentUrl]

  Row 0 of every table is the header. Column 1 always holds the record ID.

RECORD TYPES:
  Complaint      prefix C   table complaints
  Deviation      prefix D   table deviations
  ChangeControl  prefix CC  table change_control

SEE ALSO:
  - id.go: Record identifier format
  - allocator.go: Identifier allocation
  - submit.go: Validation against the schema
*/
package record

import (
	"strings"
	"time"
)

// TimestampLayout is the format of the first cell of every row.
const TimestampLayout = "2006-01-02 15:04:05"

// Column positions shared by every record type.
const (
	ColTimestamp = 0
	ColRecordID  = 1
)

// =============================================================================
// FIELDS
// =============================================================================

// Field describes one type-specific input.
type Field struct {
	Name     string   // form key, e.g. "product"
	Label    string   // header text, e.g. "Product"
	Required bool
	Choices  []string // closed set of values; empty means free text
}

// Default returns the value used when the field is left blank.
// Choice fields default to their first choice, free text to "".
func (f Field) Default() string {
	if len(f.Choices) > 0 {
		return f.Choices[0]
	}
	return ""
}

// Allows reports whether v is an acceptable value for a choice field.
func (f Field) Allows(v string) bool {
	if len(f.Choices) == 0 {
		return true
	}
	for _, c := range f.Choices {
		if c == v {
			return true
		}
	}
	return false
}

// =============================================================================
// RECORD TYPES
// =============================================================================

// Type is one of the fixed record categories.
type Type struct {
	Name     string
	Prefix   string
	StoreKey string
	Fields   []Field
}

var (
	Complaint = Type{
		Name:     "Complaint",
		Prefix:   "C",
		StoreKey: "complaints",
		Fields: []Field{
			{Name: "product", Label: "Product", Required: true},
			{Name: "severity", Label: "Severity", Choices: []string{"High", "Medium", "Low"}},
			{Name: "contact", Label: "Contact Number", Required: true},
			{Name: "details", Label: "Details", Required: true},
		},
	}

	Deviation = Type{
		Name:     "Deviation",
		Prefix:   "D",
		StoreKey: "deviations",
		Fields: []Field{
			{Name: "department", Label: "Department", Required: true},
			{Name: "type", Label: "Deviation Type", Choices: []string{"Minor", "Major", "Critical"}},
			{Name: "description", Label: "Description", Required: true},
		},
	}

	ChangeControl = Type{
		Name:     "Change Control",
		Prefix:   "CC",
		StoreKey: "change_control",
		Fields: []Field{
			{Name: "type", Label: "Change Type", Required: true, Choices: []string{"Equipment", "Process", "Document", "Other"}},
			{Name: "justification", Label: "Justification", Required: true},
			{Name: "impact", Label: "Impact Analysis", Required: true},
		},
	}
)

// Types returns every record type in display order.
func Types() []Type {
	return []Type{Complaint, Deviation, ChangeControl}
}

// LookupType finds a record type by name, store key or prefix.
// Matching is case-insensitive and ignores spaces, dashes and underscores,
// so "change-control", "ChangeControl" and "cc" all resolve.
func LookupType(s string) (Type, error) {
	want := normalize(s)
	if want == "" {
		return Type{}, ErrUnknownType
	}
	for _, t := range Types() {
		if want == normalize(t.Name) || want == normalize(t.StoreKey) || want == normalize(t.Prefix) {
			return t, nil
		}
	}
	return Type{}, ErrUnknownType
}

func normalize(s string) string {
	r := strings.NewReplacer(" ", "", "-", "", "_", "")
	return strings.ToLower(r.Replace(strings.TrimSpace(s)))
}

// Header returns the header row for the type's table.
func (t Type) Header() Row {
	h := make(Row, 0, len(t.Fields)+4)
	h = append(h, "Timestamp", "Record ID")
	for _, f := range t.Fields {
		h = append(h, f.Label)
	}
	return append(h, "Submitted By", "Attachment")
}

// Width is the number of cells in a row of this type.
func (t Type) Width() int {
	return len(t.Fields) + 4
}

// =============================================================================
// ROWS
// =============================================================================

// Row is an ordered sequence of string cells, one table line.
type Row []string

// Clone returns a copy that shares no memory with r.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	copy(out, r)
	return out
}

// Cell returns cell i, or "" if the row is too short.
func (r Row) Cell(i int) string {
	if i < 0 || i >= len(r) {
		return ""
	}
	return r[i]
}

// RecordID returns the identifier cell.
func (r Row) RecordID() string {
	return r.Cell(ColRecordID)
}

// composeRow lays out a row for t. values must already be validated and
// defaulted; missing keys produce empty cells.
func composeRow(t Type, at time.Time, id ID, values map[string]string, submitter, attachmentURL string) Row {
	row := make(Row, 0, t.Width())
	row = append(row, at.Format(TimestampLayout), id.String())
	for _, f := range t.Fields {
		row = append(row, values[f.Name])
	}
	return append(row, submitter, attachmentURL)
}
