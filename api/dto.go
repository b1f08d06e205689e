/*
dto.go - Data Transfer Objects for API requests and responses

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Response: Response wrappers

Submissions arrive as HTML form posts (urlencoded or multipart), not JSON,
so there is no request DTO for them. Rows are returned verbatim as string
arrays in table column order.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/record-intake/record"
)

// FieldDTO describes one form input.
type FieldDTO struct {
	Name     string   `json:"name"`
	Label    string   `json:"label"`
	Required bool     `json:"required"`
	Choices  []string `json:"choices,omitempty"`
}

// TypeDTO describes a record type and its form.
type TypeDTO struct {
	Name     string     `json:"name"`
	Prefix   string     `json:"prefix"`
	StoreKey string     `json:"store_key"`
	Fields   []FieldDTO `json:"fields"`
}

// SubmitResponse is returned after a record is written.
type SubmitResponse struct {
	RecordID      string   `json:"record_id"`
	WellFormed    bool     `json:"well_formed"`
	AttachmentURL string   `json:"attachment_url,omitempty"`
	Attempts      int      `json:"attempts"`
	Row           []string `json:"row"`
}

// NextIDResponse previews the identifier the form would be assigned.
type NextIDResponse struct {
	Type     string `json:"type"`
	RecordID string `json:"record_id"`
}

// ViewDTO is one record type's table.
type ViewDTO struct {
	Type   string     `json:"type"`
	Prefix string     `json:"prefix"`
	Header []string   `json:"header"`
	Rows   [][]string `json:"rows"`
	Count  int        `json:"count"`
}

// ViewsResponse wraps the per-type tables of a review query.
type ViewsResponse struct {
	Submitter string    `json:"submitter,omitempty"`
	Views     []ViewDTO `json:"views"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error    string `json:"error"`
	Details  string `json:"details,omitempty"`
	RecordID string `json:"record_id,omitempty"`
}

// IntegrityDTO is the integrity check of one table.
type IntegrityDTO struct {
	StoreKey   string         `json:"store_key"`
	Rows       int            `json:"rows"`
	LastID     string         `json:"last_id,omitempty"`
	Clean      bool           `json:"clean"`
	Duplicates map[string]int `json:"duplicates,omitempty"`
	Malformed  []string       `json:"malformed,omitempty"`
}

// IntegrityResponse wraps one integrity run.
type IntegrityResponse struct {
	CheckedAt time.Time      `json:"checked_at"`
	NextRun   time.Time      `json:"next_run"`
	Tables    []IntegrityDTO `json:"tables"`
}

func toTypeDTO(t record.Type) TypeDTO {
	fields := make([]FieldDTO, len(t.Fields))
	for i, f := range t.Fields {
		fields[i] = FieldDTO{Name: f.Name, Label: f.Label, Required: f.Required, Choices: f.Choices}
	}
	return TypeDTO{Name: t.Name, Prefix: t.Prefix, StoreKey: t.StoreKey, Fields: fields}
}

func toViewDTOs(views []record.View) []ViewDTO {
	out := make([]ViewDTO, len(views))
	for i, v := range views {
		rows := make([][]string, len(v.Rows))
		for j, r := range v.Rows {
			rows[j] = []string(r)
		}
		out[i] = ViewDTO{
			Type:   v.Type.Name,
			Prefix: v.Type.Prefix,
			Header: []string(v.Header),
			Rows:   rows,
			Count:  len(rows),
		}
	}
	return out
}

func toIntegrityResponse(run IntegrityRun, next time.Time) IntegrityResponse {
	tables := make([]IntegrityDTO, len(run.Reports))
	for i, r := range run.Reports {
		tables[i] = IntegrityDTO{
			StoreKey:   r.StoreKey,
			Rows:       r.Rows,
			LastID:     r.Last,
			Clean:      r.Clean(),
			Duplicates: r.Duplicates,
			Malformed:  r.Malformed,
		}
	}
	return IntegrityResponse{CheckedAt: run.StartedAt, NextRun: next, Tables: tables}
}
