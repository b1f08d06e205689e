/*
store.go - Persistence interfaces for tables and attachments

PURPOSE:
  Defines the boundary between intake logic and the external stores.
  The tabular store is an append-only log of rows per record type; the
  blob store holds uploaded attachments.

APPEND-ONLY CONTRACT:
  TableStore has no Update or Delete. Rows are only ever appended and read
  back in full.

CONDITIONAL APPEND:
  Stores that can atomically reject a row whose record ID already exists
  implement ConditionalAppender. Strict allocation uses it when present.
  Blob stores that can refuse to overwrite an existing name implement
  ConditionalUploader; strict mode treats a taken name like a taken ID.

IMPLEMENTATIONS:
  - record/store: In-memory Table and Blob (tests, dev)
  - store/sqlite: SQLite tables
  - store/postgres: Postgres tables
  - store/s3: S3 / MinIO attachments

SEE ALSO:
  - cache.go: Staleness-bounded reads over a TableStore
  - submit.go: The only writer
*/
package record

import (
	"context"
	"io"
)

// TableStore reads and appends rows of one table per store key.
// IMPORTANT: append-only. No Update, no Delete.
type TableStore interface {
	// FetchAll returns every row of the table, header first, in append order.
	FetchAll(ctx context.Context, key string) ([]Row, error)

	// AppendRow adds a row at the end of the table unconditionally.
	AppendRow(ctx context.Context, key string, row Row) error
}

// ConditionalAppender is implemented by stores that can compare-and-append.
type ConditionalAppender interface {
	// AppendIfAbsent appends row unless a row carrying recordID already
	// exists, in which case it returns ErrDuplicateRecordID and writes nothing.
	AppendIfAbsent(ctx context.Context, key, recordID string, row Row) error
}

// BlobStore uploads attachments.
type BlobStore interface {
	// Upload stores the bytes under name and returns a URL the user can
	// download them from. Name collisions overwrite; callers namespace names.
	Upload(ctx context.Context, name string, r io.Reader, contentType string) (string, error)
}

// ConditionalUploader is implemented by blob stores that can refuse to
// overwrite an existing object.
type ConditionalUploader interface {
	// UploadIfAbsent stores the bytes under name unless an object already
	// exists there, in which case it returns ErrAttachmentExists.
	UploadIfAbsent(ctx context.Context, name string, r io.Reader, contentType string) (string, error)
}
