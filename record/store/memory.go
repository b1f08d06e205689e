// Package store provides in-memory record.TableStore and record.BlobStore
// implementations.
package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"sync"

	"github.com/warp/record-intake/record"
)

// =============================================================================
// MEMORY TABLE - In-memory append-only tables (for testing/dev)
// =============================================================================

type Table struct {
	mu     sync.RWMutex
	tables map[string][]record.Row
	ids    map[string]map[string]bool
}

func NewTable() *Table {
	return &Table{
		tables: make(map[string][]record.Row),
		ids:    make(map[string]map[string]bool),
	}
}

// CreateTable provisions key with a header row. Existing tables are left alone.
func (m *Table) CreateTable(_ context.Context, key string, header record.Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tables[key]; ok {
		return nil
	}
	m.tables[key] = []record.Row{header.Clone()}
	m.ids[key] = make(map[string]bool)
	return nil
}

func (m *Table) FetchAll(_ context.Context, key string) ([]record.Row, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rows, ok := m.tables[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, record.ErrTableNotFound)
	}
	result := make([]record.Row, len(rows))
	for i, r := range rows {
		result[i] = r.Clone()
	}
	return result, nil
}

// AppendRow adds a row. Append-only.
func (m *Table) AppendRow(_ context.Context, key string, row record.Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(key, row)
}

// AppendIfAbsent adds a row unless recordID is already in the table.
func (m *Table) AppendIfAbsent(_ context.Context, key, recordID string, row record.Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tables[key]; !ok {
		return fmt.Errorf("%s: %w", key, record.ErrTableNotFound)
	}
	if m.ids[key][recordID] {
		return record.ErrDuplicateRecordID
	}
	return m.appendLocked(key, row)
}

func (m *Table) appendLocked(key string, row record.Row) error {
	rows, ok := m.tables[key]
	if !ok {
		return fmt.Errorf("%s: %w", key, record.ErrTableNotFound)
	}
	m.tables[key] = append(rows, row.Clone())
	if id := row.RecordID(); id != "" {
		m.ids[key][id] = true
	}
	return nil
}

// =============================================================================
// MEMORY BLOB STORE
// =============================================================================

// Object is an uploaded attachment held in memory.
type Object struct {
	Data        []byte
	ContentType string
}

type Blob struct {
	mu      sync.RWMutex
	objects map[string]Object
}

func NewBlob() *Blob {
	return &Blob{objects: make(map[string]Object)}
}

// Upload stores the bytes under name, overwriting any previous object.
func (b *Blob) Upload(_ context.Context, name string, r io.Reader, contentType string) (string, error) {
	return b.put(name, r, contentType, false)
}

// UploadIfAbsent stores the bytes under name unless name is already taken.
func (b *Blob) UploadIfAbsent(_ context.Context, name string, r io.Reader, contentType string) (string, error) {
	return b.put(name, r, contentType, true)
}

func (b *Blob) put(name string, r io.Reader, contentType string, ifAbsent bool) (string, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return "", err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.objects[name]; ok && ifAbsent {
		return "", record.ErrAttachmentExists
	}
	b.objects[name] = Object{Data: buf.Bytes(), ContentType: contentType}
	return "memory://blobs/" + url.PathEscape(name), nil
}

// Get returns the object stored under name.
func (b *Blob) Get(name string) (Object, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	o, ok := b.objects[name]
	return o, ok
}

// Len returns the number of stored objects.
func (b *Blob) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.objects)
}
