package store_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/record-intake/record"
	"github.com/warp/record-intake/record/store"
)

func TestTable_FetchReturnsCopies(t *testing.T) {
	ctx := context.Background()
	tables := store.NewTable()
	require.NoError(t, tables.CreateTable(ctx, "complaints", record.Complaint.Header()))
	require.NoError(t, tables.AppendRow(ctx, "complaints", record.Row{"ts", "C-0325-001"}))

	rows, err := tables.FetchAll(ctx, "complaints")
	require.NoError(t, err)
	rows[1][1] = "tampered"

	again, err := tables.FetchAll(ctx, "complaints")
	require.NoError(t, err)
	assert.Equal(t, "C-0325-001", again[1].RecordID())
}

func TestTable_AppendIfAbsent(t *testing.T) {
	ctx := context.Background()
	tables := store.NewTable()
	require.NoError(t, tables.CreateTable(ctx, "complaints", record.Complaint.Header()))

	require.NoError(t, tables.AppendIfAbsent(ctx, "complaints", "C-0325-001", record.Row{"ts", "C-0325-001"}))
	err := tables.AppendIfAbsent(ctx, "complaints", "C-0325-001", record.Row{"ts", "C-0325-001"})
	assert.ErrorIs(t, err, record.ErrDuplicateRecordID)

	// Unconditional appends are tracked too
	require.NoError(t, tables.AppendRow(ctx, "complaints", record.Row{"ts", "C-0325-002"}))
	err = tables.AppendIfAbsent(ctx, "complaints", "C-0325-002", record.Row{"ts", "C-0325-002"})
	assert.ErrorIs(t, err, record.ErrDuplicateRecordID)
}

func TestTable_UnknownKey(t *testing.T) {
	ctx := context.Background()
	tables := store.NewTable()

	_, err := tables.FetchAll(ctx, "nope")
	assert.ErrorIs(t, err, record.ErrTableNotFound)
	assert.ErrorIs(t, tables.AppendRow(ctx, "nope", record.Row{"x"}), record.ErrTableNotFound)
	assert.ErrorIs(t, tables.AppendIfAbsent(ctx, "nope", "x", record.Row{"x"}), record.ErrTableNotFound)
}

func TestBlob_Upload(t *testing.T) {
	blobs := store.NewBlob()

	url, err := blobs.Upload(context.Background(), "C-0325-001_my photo.jpg", strings.NewReader("bytes"), "image/jpeg")
	require.NoError(t, err)

	assert.Equal(t, "memory://blobs/C-0325-001_my%20photo.jpg", url)
	obj, ok := blobs.Get("C-0325-001_my photo.jpg")
	require.True(t, ok)
	assert.Equal(t, []byte("bytes"), obj.Data)
	assert.Equal(t, 1, blobs.Len())
}

func TestBlob_UploadIfAbsent(t *testing.T) {
	ctx := context.Background()
	blobs := store.NewBlob()

	_, err := blobs.UploadIfAbsent(ctx, "C-0325-001_a.pdf", strings.NewReader("first"), "")
	require.NoError(t, err)
	_, err = blobs.UploadIfAbsent(ctx, "C-0325-001_a.pdf", strings.NewReader("second"), "")

	assert.ErrorIs(t, err, record.ErrAttachmentExists)
	obj, ok := blobs.Get("C-0325-001_a.pdf")
	require.True(t, ok)
	assert.Equal(t, "first", string(obj.Data))

	var _ record.ConditionalUploader = blobs
}
