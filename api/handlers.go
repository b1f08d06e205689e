/*
handlers.go - HTTP API handlers for record intake

PURPOSE:
  The form and display surface. Turns form posts into submissions, and
  review queries into per-type tables. All domain decisions live in the
  record package; handlers only parse, delegate and serialize.

ENDPOINTS:
  Types:
    GET    /api/types                     Record types and their fields

  Records:
    POST   /api/records/{type}            Submit a form (optional attachment)
    GET    /api/records/{type}/next-id    Identifier the form would get now
    GET    /api/records/mine?submitter=   Caller's own rows, per type

  Admin (X-Admin-Secret header):
    GET    /api/admin/records             Every row of every type
    GET    /api/admin/integrity           Latest integrity check
    POST   /api/admin/integrity           Run an integrity check now

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, unknown record type, bad form
  - 401: Wrong admin secret
  - 409: Identifier conflict that survived re-allocation
  - 502: Table store or blob store failure
  - 500: Anything else

SECURITY NOTE:
  The admin view is gated by one static shared secret. There is no
  per-user identity; "mine" trusts the submitter name it is given.

SEE ALSO:
  - dto.go: Response structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/warp/record-intake/record"
)

// MaxUploadBytes bounds a multipart submission, attachment included.
const MaxUploadBytes = 32 << 20

// AdminSecretHeader carries the privileged-access secret.
const AdminSecretHeader = "X-Admin-Secret"

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Coordinator *record.Coordinator
	Catalog     *record.Catalog
	Metrics     *Metrics
	Integrity   *IntegrityScheduler // optional; nil disables the integrity endpoints
}

// NewHandler creates a handler. A nil metrics gets a private registry.
func NewHandler(coord *record.Coordinator, catalog *record.Catalog, metrics *Metrics) *Handler {
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Handler{Coordinator: coord, Catalog: catalog, Metrics: metrics}
}

// =============================================================================
// TYPE HANDLERS
// =============================================================================

// ListTypes returns every record type with its form schema.
func (h *Handler) ListTypes(w http.ResponseWriter, r *http.Request) {
	types := record.Types()
	dtos := make([]TypeDTO, len(types))
	for i, t := range types {
		dtos[i] = toTypeDTO(t)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// RECORD HANDLERS
// =============================================================================

// SubmitRecord accepts a form post for one record type.
// POST /api/records/{type}
func (h *Handler) SubmitRecord(w http.ResponseWriter, r *http.Request) {
	t, err := record.LookupType(chi.URLParam(r, "type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Unknown record type", err)
		return
	}

	if err := parseForm(r); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid form", err)
		return
	}

	fields := make(map[string]string, len(t.Fields))
	for _, f := range t.Fields {
		fields[f.Name] = r.PostFormValue(f.Name)
	}

	sub := record.Submission{
		Type:      t,
		Fields:    fields,
		Submitter: r.PostFormValue("submitter"),
	}

	if r.MultipartForm != nil {
		file, header, err := r.FormFile("attachment")
		switch {
		case err == nil:
			defer file.Close()
			sub.Attachment = &record.Attachment{
				Filename:    header.Filename,
				ContentType: header.Header.Get("Content-Type"),
				Body:        file,
			}
		case errors.Is(err, http.ErrMissingFile):
		default:
			writeError(w, http.StatusBadRequest, "Invalid attachment", err)
			return
		}
	}

	receipt, err := h.Coordinator.Submit(r.Context(), sub)
	if err != nil {
		resp := ErrorResponse{Error: "Submission failed", Details: err.Error()}
		if receipt.ID.Prefix != "" {
			resp.RecordID = receipt.ID.String()
		}
		writeJSON(w, errorStatus(err), resp)
		return
	}

	id := receipt.ID.String()
	writeJSON(w, http.StatusCreated, SubmitResponse{
		RecordID:      id,
		WellFormed:    record.WellFormed(id),
		AttachmentURL: receipt.AttachmentURL,
		Attempts:      receipt.Attempts,
		Row:           []string(receipt.Row),
	})
}

// NextID previews the identifier a submission would receive now.
// GET /api/records/{type}/next-id
func (h *Handler) NextID(w http.ResponseWriter, r *http.Request) {
	t, err := record.LookupType(chi.URLParam(r, "type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Unknown record type", err)
		return
	}
	id, err := h.Coordinator.Preview(r.Context(), t)
	if err != nil {
		writeError(w, errorStatus(err), "Failed to read records", err)
		return
	}
	writeJSON(w, http.StatusOK, NextIDResponse{Type: t.Name, RecordID: id.String()})
}

// MyRecords returns the caller's own rows.
// GET /api/records/mine?submitter=NAME
func (h *Handler) MyRecords(w http.ResponseWriter, r *http.Request) {
	submitter := strings.TrimSpace(r.URL.Query().Get("submitter"))
	if submitter == "" {
		writeError(w, http.StatusBadRequest, "submitter is required", nil)
		return
	}
	views, err := h.Catalog.Mine(r.Context(), submitter)
	if err != nil {
		writeError(w, errorStatus(err), "Failed to read records", err)
		return
	}
	writeJSON(w, http.StatusOK, ViewsResponse{Submitter: submitter, Views: toViewDTOs(views)})
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// AllRecords returns every row of every type.
// GET /api/admin/records
func (h *Handler) AllRecords(w http.ResponseWriter, r *http.Request) {
	views, err := h.Catalog.Everything(r.Context(), r.Header.Get(AdminSecretHeader))
	if errors.Is(err, record.ErrAccessDenied) || err == nil {
		h.Metrics.observeAdmin(err)
	}
	if err != nil {
		writeError(w, errorStatus(err), "Access denied or records unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, ViewsResponse{Views: toViewDTOs(views)})
}

// IntegrityReport returns the most recent integrity check.
// GET /api/admin/integrity
func (h *Handler) IntegrityReport(w http.ResponseWriter, r *http.Request) {
	if !h.authorizeIntegrity(w, r) {
		return
	}
	run, ok := h.Integrity.LastRun()
	if !ok {
		writeError(w, http.StatusNotFound, "No integrity check has completed yet", nil)
		return
	}
	writeJSON(w, http.StatusOK, toIntegrityResponse(run, h.Integrity.GetNextRunTime()))
}

// RunIntegrityCheck checks every table now.
// POST /api/admin/integrity
func (h *Handler) RunIntegrityCheck(w http.ResponseWriter, r *http.Request) {
	if !h.authorizeIntegrity(w, r) {
		return
	}
	run := h.Integrity.RunNow(r.Context())
	if run.Err != nil {
		writeError(w, errorStatus(run.Err), "Integrity check failed", run.Err)
		return
	}
	writeJSON(w, http.StatusOK, toIntegrityResponse(run, h.Integrity.GetNextRunTime()))
}

func (h *Handler) authorizeIntegrity(w http.ResponseWriter, r *http.Request) bool {
	if h.Integrity == nil {
		writeError(w, http.StatusNotFound, "Integrity checks are disabled", nil)
		return false
	}
	err := h.Catalog.Gate.Check(r.Header.Get(AdminSecretHeader))
	h.Metrics.observeAdmin(err)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Access denied", err)
		return false
	}
	return true
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func parseForm(r *http.Request) error {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		return r.ParseMultipartForm(MaxUploadBytes)
	}
	return r.ParseForm()
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, record.ErrValidation), errors.Is(err, record.ErrUnknownType):
		return http.StatusBadRequest
	case errors.Is(err, record.ErrAccessDenied):
		return http.StatusUnauthorized
	case errors.Is(err, record.ErrDuplicateRecordID), errors.Is(err, record.ErrAttachmentExists):
		return http.StatusConflict
	case errors.Is(err, record.ErrStore), errors.Is(err, record.ErrBlob):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
