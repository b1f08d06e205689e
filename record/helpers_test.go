package record_test

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/warp/record-intake/record"
	"github.com/warp/record-intake/record/store"
)

// clock is a settable time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock(t time.Time) *clock { return &clock{now: t} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// provisioned returns a memory table store holding an empty table per type.
func provisioned(t *testing.T) *store.Table {
	t.Helper()
	tables := store.NewTable()
	for _, rt := range record.Types() {
		require.NoError(t, tables.CreateTable(context.Background(), rt.StoreKey, rt.Header()))
	}
	return tables
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// countingStore counts reads passing through to the wrapped store.
type countingStore struct {
	record.TableStore
	mu     sync.Mutex
	reads  int
	failOn error
}

func (c *countingStore) FetchAll(ctx context.Context, key string) ([]record.Row, error) {
	c.mu.Lock()
	c.reads++
	err := c.failOn
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return c.TableStore.FetchAll(ctx, key)
}

func (c *countingStore) Reads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads
}

// plainStore hides any ConditionalAppender implementation of the wrapped store.
type plainStore struct {
	inner record.TableStore
}

func (p plainStore) FetchAll(ctx context.Context, key string) ([]record.Row, error) {
	return p.inner.FetchAll(ctx, key)
}

func (p plainStore) AppendRow(ctx context.Context, key string, row record.Row) error {
	return p.inner.AppendRow(ctx, key, row)
}

// failingAppends reads normally but refuses every append.
type failingAppends struct {
	record.TableStore
}

var errAppendDown = errors.New("table backend unavailable")

func (f failingAppends) AppendRow(context.Context, string, record.Row) error {
	return errAppendDown
}

// failingBlob refuses every upload.
type failingBlob struct{}

var errBlobDown = errors.New("blob quota exceeded")

func (failingBlob) Upload(context.Context, string, io.Reader, string) (string, error) {
	return "", errBlobDown
}
