/*
submit.go - Record submission coordinator

PURPOSE:
  The write path. Validates a submission against its type's schema,
  allocates an identifier, uploads the optional attachment and appends the
  row. Returns the allocated identifier.

FLOW:
  1. Validate required fields, choices and submitter name
  2. Snapshot the type's table
  3. Allocate the next identifier from the snapshot
  4. Upload the attachment as "{recordId}_{filename}" (if any)
  5. Compose the row and append it

MODES:
  Loose (Strict=false):
    Snapshot comes from the TTL cache and the append is unconditional.
    Concurrent submissions, or two submissions inside one TTL window, can
    be handed the same identifier and both rows get written.

  Strict (Strict=true):
    A per-type mutex serializes steps 2-5 inside this process, the snapshot
    is read fresh, and the append is conditional on the identifier being
    absent when the store implements ConditionalAppender. A conflict from
    another process triggers a fresh read and re-allocation past the
    rejected serial, up to MaxAttempts. The attachment is buffered and
    uploaded under each candidate before its append, so the row always
    names its own blob. Blob stores implementing ConditionalUploader refuse
    to overwrite; a taken name counts as a conflict like a taken ID.

FAILURES:
  Nothing is rolled back. Upload failure: the identifier is burned and never
  appears in the table. Append failure after upload: the blob is orphaned,
  including the uploads of strict-mode candidates that lost a conflict.

SEE ALSO:
  - allocator.go: Identifier rules
  - errors.go: ValidationError, StoreError, BlobError
*/
package record

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"time"
)

// DefaultMaxAttempts bounds strict-mode re-allocation after conflicts.
const DefaultMaxAttempts = 3

// Attachment is an uploaded file accompanying a submission.
type Attachment struct {
	Filename    string
	ContentType string
	Body        io.Reader
}

// Submission is one filled-in form.
type Submission struct {
	Type       Type
	Fields     map[string]string
	Submitter  string
	Attachment *Attachment
}

// Receipt describes a submission that was written.
type Receipt struct {
	ID            ID
	AttachmentURL string
	Row           Row
	Attempts      int
}

// Hooks receive submission outcomes. Any of them may be nil.
type Hooks struct {
	OnSubmit   func(t Type, err error)
	OnConflict func(t Type, id ID)
}

// Config holds the coordinator's collaborators.
type Config struct {
	Tables      TableStore
	Blobs       BlobStore      // nil rejects attachments with a BlobError
	Cache       *SnapshotCache // nil builds one over Tables with DefaultTTL
	Strict      bool
	MaxAttempts int
	Now         func() time.Time
	Logger      *log.Logger
	Hooks       Hooks
}

// Coordinator is the single writer of record rows.
type Coordinator struct {
	tables      TableStore
	blobs       BlobStore
	cache       *SnapshotCache
	strict      bool
	maxAttempts int
	now         func() time.Time
	logger      *log.Logger
	hooks       Hooks

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewCoordinator wires a coordinator from cfg.
func NewCoordinator(cfg Config) *Coordinator {
	c := &Coordinator{
		tables:      cfg.Tables,
		blobs:       cfg.Blobs,
		cache:       cfg.Cache,
		strict:      cfg.Strict,
		maxAttempts: cfg.MaxAttempts,
		now:         cfg.Now,
		logger:      cfg.Logger,
		hooks:       cfg.Hooks,
		locks:       make(map[string]*sync.Mutex),
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.cache == nil {
		c.cache = NewSnapshotCache(cfg.Tables, DefaultTTL, c.now)
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = DefaultMaxAttempts
	}
	if c.logger == nil {
		c.logger = log.Default()
	}
	return c
}

// Cache returns the snapshot cache the coordinator reads through.
func (c *Coordinator) Cache() *SnapshotCache {
	return c.cache
}

// Preview returns the identifier the next submission of t would get if it
// were allocated now from the cached snapshot. Nothing is reserved.
func (c *Coordinator) Preview(ctx context.Context, t Type) (ID, error) {
	snap, err := c.cache.Fetch(ctx, t.StoreKey)
	if err != nil {
		return ID{}, err
	}
	return Allocate(snap, t.Prefix, c.now()), nil
}

// Submit validates and writes one record. On failure after allocation the
// returned Receipt still carries the identifier that was burned.
func (c *Coordinator) Submit(ctx context.Context, s Submission) (Receipt, error) {
	receipt, err := c.submit(ctx, s)
	if c.hooks.OnSubmit != nil {
		c.hooks.OnSubmit(s.Type, err)
	}
	return receipt, err
}

func (c *Coordinator) submit(ctx context.Context, s Submission) (Receipt, error) {
	if s.Type.StoreKey == "" {
		return Receipt{}, ErrUnknownType
	}
	values, err := Validate(s.Type, s.Fields, s.Submitter)
	if err != nil {
		return Receipt{}, err
	}
	submitter := strings.TrimSpace(s.Submitter)
	key := s.Type.StoreKey

	if c.strict {
		mu := c.lockFor(key)
		mu.Lock()
		defer mu.Unlock()
	}

	snap, err := c.snapshot(ctx, key)
	if err != nil {
		return Receipt{}, err
	}
	now := c.now()
	id := Allocate(snap, s.Type.Prefix, now)

	// Strict mode may upload once per candidate, so the body is read once.
	var body []byte
	if s.Attachment != nil && c.strict {
		body, err = io.ReadAll(s.Attachment.Body)
		if err != nil {
			return Receipt{ID: id}, &BlobError{Name: attachmentName(id, s.Attachment), Err: err}
		}
	}

	for attempt := 1; ; attempt++ {
		var url string
		if s.Attachment != nil {
			url, err = c.upload(ctx, id, s.Attachment, body)
			if err != nil && !errors.Is(err, ErrAttachmentExists) {
				c.logger.Printf("[Submit] %s burned: %v", id, err)
				return Receipt{ID: id, Attempts: attempt}, err
			}
		}
		if err == nil {
			row := composeRow(s.Type, now, id, values, submitter, url)
			err = c.append(ctx, key, id, row)
			if err == nil {
				c.logger.Printf("[Submit] %s appended to %s (attempt %d)", id, key, attempt)
				return Receipt{ID: id, AttachmentURL: url, Row: row, Attempts: attempt}, nil
			}
			if url != "" {
				c.logger.Printf("[Submit] %s not appended, attachment orphaned at %s: %v", id, url, err)
			}
		}
		if !IsRetryable(err) || attempt >= c.maxAttempts {
			return Receipt{ID: id, AttachmentURL: url, Attempts: attempt}, err
		}

		c.logger.Printf("[Submit] %s taken by another writer, re-allocating", id)
		if c.hooks.OnConflict != nil {
			c.hooks.OnConflict(s.Type, id)
		}
		snap, err = c.cache.Refresh(ctx, key)
		if err != nil {
			return Receipt{ID: id, Attempts: attempt}, err
		}
		id = AllocateAfter(snap, id, now)
	}
}

func (c *Coordinator) snapshot(ctx context.Context, key string) (Snapshot, error) {
	if c.strict {
		return c.cache.Refresh(ctx, key)
	}
	return c.cache.Fetch(ctx, key)
}

func (c *Coordinator) upload(ctx context.Context, id ID, a *Attachment, body []byte) (string, error) {
	name := attachmentName(id, a)
	if c.blobs == nil {
		return "", &BlobError{Name: name, Err: errors.New("no blob store configured")}
	}
	var (
		url string
		err error
	)
	if cu, ok := c.blobs.(ConditionalUploader); ok && c.strict {
		url, err = cu.UploadIfAbsent(ctx, name, bytes.NewReader(body), a.ContentType)
	} else if c.strict {
		url, err = c.blobs.Upload(ctx, name, bytes.NewReader(body), a.ContentType)
	} else {
		url, err = c.blobs.Upload(ctx, name, a.Body, a.ContentType)
	}
	if err != nil {
		return "", &BlobError{Name: name, Err: err}
	}
	return url, nil
}

func attachmentName(id ID, a *Attachment) string {
	return id.String() + "_" + a.Filename
}

func (c *Coordinator) append(ctx context.Context, key string, id ID, row Row) error {
	var err error
	if ca, ok := c.tables.(ConditionalAppender); ok && c.strict {
		err = ca.AppendIfAbsent(ctx, key, id.String(), row)
	} else {
		err = c.tables.AppendRow(ctx, key, row)
	}
	if err != nil {
		return &StoreError{Op: "append", Key: key, Err: err}
	}
	return nil
}

func (c *Coordinator) lockFor(key string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	mu, ok := c.locks[key]
	if !ok {
		mu = &sync.Mutex{}
		c.locks[key] = mu
	}
	return mu
}

// =============================================================================
// VALIDATION
// =============================================================================

// Validate checks fields against t's schema and returns the values to write:
// trimmed, with blank choice fields set to their default. Keys outside the
// schema are ignored.
func Validate(t Type, fields map[string]string, submitter string) (map[string]string, error) {
	verr := &ValidationError{Type: t.Name}
	values := make(map[string]string, len(t.Fields))

	for _, f := range t.Fields {
		v := strings.TrimSpace(fields[f.Name])
		if v == "" && f.Required && len(f.Choices) == 0 {
			verr.Missing = append(verr.Missing, f.Name)
			continue
		}
		if v == "" {
			v = f.Default()
		}
		if !f.Allows(v) {
			if verr.Invalid == nil {
				verr.Invalid = make(map[string]string)
			}
			verr.Invalid[f.Name] = v
			continue
		}
		values[f.Name] = v
	}
	if strings.TrimSpace(submitter) == "" {
		verr.Missing = append(verr.Missing, "submitter")
	}

	if !verr.empty() {
		return nil, verr
	}
	return values, nil
}
