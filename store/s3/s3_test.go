package s3_test

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/record-intake/record"
	memory "github.com/warp/record-intake/record/store"
	blobs3 "github.com/warp/record-intake/store/s3"
)

// fakeS3 records PUT requests and answers with a fixed status.
type fakeS3 struct {
	mu      sync.Mutex
	status  int
	puts    map[string][]byte
	headers map[string]http.Header
}

func newFakeS3(status int) *fakeS3 {
	return &fakeS3{status: status, puts: make(map[string][]byte), headers: make(map[string]http.Header)}
}

func (f *fakeS3) RoundTrip(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		raw, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		body = raw
		if strings.Contains(req.Header.Get("Content-Encoding"), "aws-chunked") {
			body = decodeChunked(raw)
		}
	}

	status, code := f.status, "AccessDenied"
	f.mu.Lock()
	if req.Method == http.MethodPut && status == http.StatusOK {
		if _, taken := f.puts[req.URL.Path]; taken && req.Header.Get("If-None-Match") == "*" {
			status, code = http.StatusPreconditionFailed, "PreconditionFailed"
		} else {
			f.puts[req.URL.Path] = body
			f.headers[req.URL.Path] = req.Header.Clone()
		}
	}
	f.mu.Unlock()

	resp := &http.Response{
		StatusCode: status,
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader("")),
		Request:    req,
	}
	if status == http.StatusOK {
		resp.Header.Set("ETag", `"etag"`)
	} else {
		resp.Header.Set("Content-Type", "application/xml")
		resp.Body = io.NopCloser(strings.NewReader(
			`<?xml version="1.0" encoding="UTF-8"?><Error><Code>` + code + `</Code><Message>refused</Message></Error>`))
	}
	return resp, nil
}

func (f *fakeS3) seed(path string, body []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts[path] = body
}

func (f *fakeS3) object(path string) ([]byte, http.Header, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.puts[path]
	return b, f.headers[path], ok
}

// decodeChunked strips aws-chunked framing: "<hex>[;ext]\r\n<data>\r\n" ... "0\r\n<trailers>".
func decodeChunked(raw []byte) []byte {
	r := bufio.NewReader(bytes.NewReader(raw))
	var out bytes.Buffer
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return out.Bytes()
		}
		size, err := strconv.ParseInt(strings.TrimSpace(strings.SplitN(line, ";", 2)[0]), 16, 64)
		if err != nil || size == 0 {
			return out.Bytes()
		}
		if _, err := io.CopyN(&out, r, size); err != nil {
			return out.Bytes()
		}
		_, _ = r.ReadString('\n')
	}
}

func newStore(t *testing.T, fake *fakeS3, publicURL string) *blobs3.Store {
	t.Helper()
	store, err := blobs3.New(context.Background(), blobs3.Config{
		Region:          "us-east-1",
		Bucket:          "records",
		KeyPrefix:       "attachments/",
		Endpoint:        "http://s3.test",
		PathStyle:       true,
		PublicURL:       publicURL,
		AccessKeyID:     "AKIDTEST",
		SecretAccessKey: "secret",
		HTTPClient:      &http.Client{Transport: fake},
	})
	require.NoError(t, err)
	return store
}

func TestNew_RequiresBucket(t *testing.T) {
	_, err := blobs3.New(context.Background(), blobs3.Config{})
	assert.Error(t, err)
}

func TestUpload_PresignedLink(t *testing.T) {
	fake := newFakeS3(http.StatusOK)
	store := newStore(t, fake, "")

	link, err := store.Upload(context.Background(), "C-0325-001_report.pdf", strings.NewReader("%PDF-1.7"), "application/pdf")
	require.NoError(t, err)

	body, hdr, ok := fake.object("/records/attachments/C-0325-001_report.pdf")
	require.True(t, ok, "object put under bucket and key prefix")
	assert.Equal(t, "%PDF-1.7", string(body))
	assert.Equal(t, "application/pdf", hdr.Get("Content-Type"))

	assert.True(t, strings.HasPrefix(link, "http://s3.test/records/attachments/C-0325-001_report.pdf?"), link)
	assert.Contains(t, link, "X-Amz-Signature=")
	assert.Contains(t, link, "X-Amz-Expires=604800")
}

func TestUpload_PublicURL(t *testing.T) {
	fake := newFakeS3(http.StatusOK)
	store := newStore(t, fake, "https://cdn.example.com/files/")

	link, err := store.Upload(context.Background(), "D-0325-004_photo.jpg", strings.NewReader("jpeg"), "image/jpeg")
	require.NoError(t, err)

	assert.Equal(t, "https://cdn.example.com/files/attachments/D-0325-004_photo.jpg", link)
}

func TestUpload_FailureStatus(t *testing.T) {
	fake := newFakeS3(http.StatusForbidden)
	store := newStore(t, fake, "")

	_, err := store.Upload(context.Background(), "C-0325-001_a.pdf", strings.NewReader("x"), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AccessDenied")
}

func TestUploadIfAbsent_RefusesExistingKey(t *testing.T) {
	fake := newFakeS3(http.StatusOK)
	store := newStore(t, fake, "")
	ctx := context.Background()

	_, err := store.UploadIfAbsent(ctx, "C-0325-002_report.pdf", strings.NewReader("THEIRS"), "application/pdf")
	require.NoError(t, err)
	_, err = store.UploadIfAbsent(ctx, "C-0325-002_report.pdf", strings.NewReader("OURS"), "application/pdf")

	assert.ErrorIs(t, err, record.ErrAttachmentExists)
	body, hdr, ok := fake.object("/records/attachments/C-0325-002_report.pdf")
	require.True(t, ok)
	assert.Equal(t, "THEIRS", string(body))
	assert.Equal(t, "*", hdr.Get("If-None-Match"))
}

func TestUpload_StrictCoordinatorSkipsTakenAttachmentName(t *testing.T) {
	// GIVEN: Another writer's C-0325-001 blob exists but its row is not yet visible
	// THEN: Our strict submission moves to C-0325-002 and leaves their blob intact
	ctx := context.Background()
	fake := newFakeS3(http.StatusOK)
	fake.seed("/records/attachments/C-0325-001_report.pdf", []byte("THEIRS"))
	tables := memory.NewTable()
	require.NoError(t, tables.CreateTable(ctx, record.Complaint.StoreKey, record.Complaint.Header()))
	coord := record.NewCoordinator(record.Config{
		Tables: tables,
		Blobs:  newStore(t, fake, "https://cdn.example.com"),
		Strict: true,
		Now:    func() time.Time { return time.Date(2025, time.March, 18, 10, 30, 0, 0, time.UTC) },
		Logger: log.New(io.Discard, "", 0),
	})

	receipt, err := coord.Submit(ctx, record.Submission{
		Type:       record.Complaint,
		Fields:     map[string]string{"product": "Aspirin", "contact": "555", "details": "seal"},
		Submitter:  "Dana Reyes",
		Attachment: &record.Attachment{Filename: "report.pdf", Body: strings.NewReader("OURS")},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, receipt.ID.Serial)
	assert.Equal(t, 2, receipt.Attempts)
	ours, _, ok := fake.object("/records/attachments/" + receipt.ID.String() + "_report.pdf")
	require.True(t, ok)
	assert.Equal(t, "OURS", string(ours))
	theirs, _, _ := fake.object("/records/attachments/C-0325-001_report.pdf")
	assert.Equal(t, "THEIRS", string(theirs))
}

func TestUpload_ThroughCoordinator(t *testing.T) {
	// An S3 failure surfaces as a BlobError and burns the identifier
	ctx := context.Background()
	tables := memory.NewTable()
	require.NoError(t, tables.CreateTable(ctx, record.Complaint.StoreKey, record.Complaint.Header()))
	coord := record.NewCoordinator(record.Config{
		Tables: tables,
		Blobs:  newStore(t, newFakeS3(http.StatusForbidden), ""),
		Strict: true,
		Logger: log.New(io.Discard, "", 0),
	})

	receipt, err := coord.Submit(ctx, record.Submission{
		Type:       record.Complaint,
		Fields:     map[string]string{"product": "Aspirin", "contact": "555", "details": "seal"},
		Submitter:  "Dana Reyes",
		Attachment: &record.Attachment{Filename: "a.pdf", Body: strings.NewReader("%PDF")},
	})

	assert.ErrorIs(t, err, record.ErrBlob)
	assert.Equal(t, 1, receipt.ID.Serial)
	rows, err := tables.FetchAll(ctx, record.Complaint.StoreKey)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
