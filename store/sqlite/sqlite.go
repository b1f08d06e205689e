/*
Package sqlite provides a SQLite-backed record.TableStore.

PURPOSE:
  Holds one append-only table per record type. Each table is a header row
  plus data rows kept in insertion order, which is the order the allocator
  relies on when it reads the last row.

INTERFACES IMPLEMENTED:
  record.TableStore:          FetchAll, AppendRow
  record.ConditionalAppender: AppendIfAbsent

APPEND-ONLY ENFORCEMENT:
  - No UPDATE statements on record_rows
  - No DELETE statements on record_rows

KEY TABLES:
  record_tables: One line per store key with its header
  record_rows:   Every data row, ordered by seq

CONDITIONAL APPEND:
  AppendIfAbsent checks for the record ID and inserts inside one
  transaction. The connection is opened with _txlock=immediate so the write
  lock is taken at BEGIN and two processes sharing the file cannot both
  pass the check.

USAGE:
  store, err := sqlite.New("./data/records.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  err = store.CreateTable(ctx, record.Complaint.StoreKey, record.Complaint.Header())

SEE ALSO:
  - record/store.go: Interface definitions
  - record/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/record-intake/record"
)

// Store implements record.TableStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_txlock=immediate&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS record_tables (
		store_key TEXT PRIMARY KEY,
		header_json TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Rows (append-only)
	CREATE TABLE IF NOT EXISTS record_rows (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		store_key TEXT NOT NULL REFERENCES record_tables(store_key),
		record_id TEXT NOT NULL DEFAULT '',
		cells_json TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_record_rows_key_seq
		ON record_rows(store_key, seq);

	-- Not UNIQUE: unconditional appends may write duplicate IDs.
	CREATE INDEX IF NOT EXISTS idx_record_rows_key_id
		ON record_rows(store_key, record_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// CreateTable provisions key with header. An existing table keeps its header.
func (s *Store) CreateTable(ctx context.Context, key string, header record.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO record_tables (store_key, header_json, created_at) VALUES (?, ?, ?)`,
		key, string(headerJSON), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to create table %s: %w", key, err)
	}
	return nil
}

// =============================================================================
// TABLE STORE (record.TableStore interface)
// =============================================================================

// FetchAll returns the header followed by every row in insertion order.
func (s *Store) FetchAll(ctx context.Context, key string) ([]record.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var headerJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT header_json FROM record_tables WHERE store_key = ?`, key,
	).Scan(&headerJSON)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%s: %w", key, record.ErrTableNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	header, err := decodeRow(headerJSON)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT cells_json FROM record_rows WHERE store_key = ? ORDER BY seq ASC`, key,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query rows: %w", err)
	}
	defer rows.Close()

	result := []record.Row{header}
	for rows.Next() {
		var cells string
		if err := rows.Scan(&cells); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		row, err := decodeRow(cells)
		if err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// AppendRow adds a row to the end of the table.
func (s *Store) AppendRow(ctx context.Context, key string, row record.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := requireTable(ctx, tx, key); err != nil {
			return err
		}
		return insertRow(ctx, tx, key, row)
	})
}

// AppendIfAbsent adds row unless recordID already exists in the table.
func (s *Store) AppendIfAbsent(ctx context.Context, key, recordID string, row record.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := requireTable(ctx, tx, key); err != nil {
			return err
		}
		var count int
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM record_rows WHERE store_key = ? AND record_id = ?`,
			key, recordID,
		).Scan(&count)
		if err != nil {
			return fmt.Errorf("failed to check record id: %w", err)
		}
		if count > 0 {
			return record.ErrDuplicateRecordID
		}
		return insertRow(ctx, tx, key, row)
	})
}

func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func requireTable(ctx context.Context, tx *sql.Tx, key string) error {
	var count int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM record_tables WHERE store_key = ?`, key,
	).Scan(&count); err != nil {
		return fmt.Errorf("failed to look up table: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("%s: %w", key, record.ErrTableNotFound)
	}
	return nil
}

func insertRow(ctx context.Context, tx *sql.Tx, key string, row record.Row) error {
	cells, err := json.Marshal(row)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO record_rows (store_key, record_id, cells_json, created_at) VALUES (?, ?, ?, ?)`,
		key, row.RecordID(), string(cells), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to append row: %w", err)
	}
	return nil
}

func decodeRow(cells string) (record.Row, error) {
	var row record.Row
	if err := json.NewDecoder(strings.NewReader(cells)).Decode(&row); err != nil {
		return nil, fmt.Errorf("failed to decode row: %w", err)
	}
	return row, nil
}
