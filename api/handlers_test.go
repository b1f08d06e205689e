/*
handlers_test.go - HTTP tests for the record intake API

Tests for:
- Form submission (urlencoded and multipart with attachment)
- Error status mapping (400, 401, 502)
- Next-id preview, own records and the admin view
- Metrics exposition
- Integrity endpoints (scheduler_test.go)
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/record-intake/record"
	"github.com/warp/record-intake/record/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const testSecret = "qaadmin123"

var testNow = time.Date(2025, time.March, 18, 10, 30, 0, 0, time.UTC)

type testServer struct {
	handler *Handler
	router  http.Handler
	tables  *store.Table
	blobs   *store.Blob
	metrics *Metrics
	at      time.Time
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	tables := store.NewTable()
	for _, rt := range record.Types() {
		require.NoError(t, tables.CreateTable(ctx, rt.StoreKey, rt.Header()))
	}
	blobs := store.NewBlob()
	metrics := NewMetrics()
	srv := &testServer{tables: tables, blobs: blobs, metrics: metrics, at: testNow}
	now := func() time.Time { return srv.at }

	cache := record.NewSnapshotCache(tables, time.Minute, now)
	cache.OnFetch = metrics.ObserveFetch
	coord := record.NewCoordinator(record.Config{
		Tables: tables,
		Blobs:  blobs,
		Cache:  cache,
		Strict: true,
		Now:    now,
		Logger: log.New(io.Discard, "", 0),
		Hooks:  metrics.Hooks(),
	})
	catalog := &record.Catalog{Cache: cache, Gate: record.AccessGate{Secret: testSecret}}

	srv.handler = NewHandler(coord, catalog, metrics)
	srv.router = NewRouter(srv.handler, nil)
	return srv
}

// advance moves the server clock; reads after the TTL go back to the store.
func (s *testServer) advance(d time.Duration) {
	s.at = s.at.Add(d)
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) postForm(path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return s.do(req)
}

func complaintValues(submitter string) url.Values {
	return url.Values{
		"product":   {"Aspirin 100mg"},
		"severity":  {"High"},
		"contact":   {"555-0100"},
		"details":   {"Broken seal"},
		"submitter": {submitter},
	}
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// =============================================================================
// SUBMISSION
// =============================================================================

func TestSubmitRecord_URLEncoded(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.postForm("/api/records/complaints", complaintValues("Dana Reyes"))

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decode[SubmitResponse](t, rec)
	assert.Equal(t, "C-0325-001", resp.RecordID)
	assert.True(t, resp.WellFormed)
	assert.Equal(t, 1, resp.Attempts)
	assert.Equal(t, "Dana Reyes", resp.Row[6])

	second := decode[SubmitResponse](t, srv.postForm("/api/records/complaints", complaintValues("Sam Ortiz")))
	assert.Equal(t, "C-0325-002", second.RecordID)

	assert.Equal(t, 2.0, testutil.ToFloat64(srv.metrics.submissions.WithLabelValues("complaints", "ok")))
}

func TestSubmitRecord_MultipartWithAttachment(t *testing.T) {
	srv := newTestServer(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("department", "QC Lab"))
	require.NoError(t, mw.WriteField("type", "Major"))
	require.NoError(t, mw.WriteField("description", "Fridge excursion to 9C"))
	require.NoError(t, mw.WriteField("submitter", "Sam Ortiz"))
	fw, err := mw.CreateFormFile("attachment", "log.csv")
	require.NoError(t, err)
	_, err = fw.Write([]byte("t,temp\n1,9.1\n"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/records/deviation", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := srv.do(req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decode[SubmitResponse](t, rec)
	assert.Equal(t, "D-0325-001", resp.RecordID)
	assert.Equal(t, "memory://blobs/D-0325-001_log.csv", resp.AttachmentURL)
	assert.Equal(t, resp.AttachmentURL, resp.Row[len(resp.Row)-1])

	obj, ok := srv.blobs.Get("D-0325-001_log.csv")
	require.True(t, ok)
	assert.Equal(t, "t,temp\n1,9.1\n", string(obj.Data))
}

func TestSubmitRecord_ValidationError(t *testing.T) {
	srv := newTestServer(t)
	form := complaintValues("Dana Reyes")
	form.Del("contact")
	form.Set("severity", "Catastrophic")

	rec := srv.postForm("/api/records/complaints", form)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Contains(t, resp.Details, "contact")
	assert.Contains(t, resp.Details, "Catastrophic")
	assert.Empty(t, resp.RecordID, "nothing was allocated")

	rows, err := srv.tables.FetchAll(context.Background(), "complaints")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(srv.metrics.submissions.WithLabelValues("complaints", "validation")))
}

func TestSubmitRecord_UnknownType(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.postForm("/api/records/checks", complaintValues("Dana Reyes"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestErrorStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{&record.ValidationError{Type: "Complaint", Missing: []string{"product"}}, http.StatusBadRequest},
		{record.ErrUnknownType, http.StatusBadRequest},
		{record.ErrAccessDenied, http.StatusUnauthorized},
		{&record.StoreError{Op: "append", Key: "complaints", Err: record.ErrDuplicateRecordID}, http.StatusConflict},
		{&record.BlobError{Name: "x", Err: record.ErrAttachmentExists}, http.StatusConflict},
		{&record.StoreError{Op: "fetch", Key: "complaints", Err: io.EOF}, http.StatusBadGateway},
		{&record.BlobError{Name: "x", Err: io.EOF}, http.StatusBadGateway},
		{io.EOF, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, errorStatus(tc.err), "%v", tc.err)
	}
}

// =============================================================================
// READS
// =============================================================================

func TestNextID(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(httptest.NewRequest(http.MethodGet, "/api/records/change-control/next-id", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[NextIDResponse](t, rec)
	assert.Equal(t, "Change Control", resp.Type)
	assert.Equal(t, "CC-0325-001", resp.RecordID)
}

func TestMyRecords(t *testing.T) {
	srv := newTestServer(t)
	require.Equal(t, http.StatusCreated, srv.postForm("/api/records/complaints", complaintValues("Dana Reyes")).Code)
	require.Equal(t, http.StatusCreated, srv.postForm("/api/records/complaints", complaintValues("Sam Ortiz")).Code)

	rec := srv.do(httptest.NewRequest(http.MethodGet, "/api/records/mine?submitter=dana+reyes", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[ViewsResponse](t, rec)
	require.Len(t, resp.Views, 3)
	assert.Equal(t, "Complaint", resp.Views[0].Type)
	assert.Equal(t, 1, resp.Views[0].Count)
	assert.Equal(t, "C-0325-001", resp.Views[0].Rows[0][1])
	assert.Equal(t, 0, resp.Views[1].Count)
	assert.NotNil(t, resp.Views[1].Rows)

	missing := srv.do(httptest.NewRequest(http.MethodGet, "/api/records/mine", nil))
	assert.Equal(t, http.StatusBadRequest, missing.Code)
}

func TestAllRecords_RequiresSecret(t *testing.T) {
	srv := newTestServer(t)
	require.Equal(t, http.StatusCreated, srv.postForm("/api/records/complaints", complaintValues("Dana Reyes")).Code)

	denied := httptest.NewRequest(http.MethodGet, "/api/admin/records", nil)
	denied.Header.Set(AdminSecretHeader, "guess")
	rec := srv.do(denied)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotContains(t, rec.Body.String(), "C-0325-001")

	admin := func() ViewsResponse {
		granted := httptest.NewRequest(http.MethodGet, "/api/admin/records", nil)
		granted.Header.Set(AdminSecretHeader, testSecret)
		rec := srv.do(granted)
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[ViewsResponse](t, rec)
		require.Len(t, resp.Views, 3)
		return resp
	}

	// The snapshot read before the append is served until the TTL passes
	assert.Equal(t, 0, admin().Views[0].Count, "own write hidden inside the TTL")

	srv.advance(2 * time.Minute)
	assert.Equal(t, 1, admin().Views[0].Count)

	assert.Equal(t, 1.0, testutil.ToFloat64(srv.metrics.adminAccess.WithLabelValues("denied")))
	assert.Equal(t, 2.0, testutil.ToFloat64(srv.metrics.adminAccess.WithLabelValues("granted")))
}

func TestListTypes(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(httptest.NewRequest(http.MethodGet, "/api/types", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	types := decode[[]TypeDTO](t, rec)
	require.Len(t, types, 3)
	assert.Equal(t, "C", types[0].Prefix)
	assert.Equal(t, "CC", types[2].Prefix)
	assert.Equal(t, []string{"High", "Medium", "Low"}, types[0].Fields[1].Choices)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	srv.postForm("/api/records/complaints", complaintValues("Dana Reyes"))
	srv.do(httptest.NewRequest(http.MethodGet, "/api/records/complaints/next-id", nil))

	rec := srv.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `records_submissions_total{outcome="ok",type="complaints"} 1`)
	assert.Contains(t, rec.Body.String(), "records_snapshot_fetches_total")
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}
