// Package postgres provides a Postgres-backed record.TableStore for
// deployments where several intake processes share one database.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	"github.com/warp/record-intake/record"
)

// Compile-time contract assertions.
var (
	_ record.TableStore          = (*Store)(nil)
	_ record.ConditionalAppender = (*Store)(nil)
)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/records?sslmode=disable"
)

var sqlOpen = sql.Open

// Store keeps every record table in two relations. Conditional appends take a
// transaction-scoped advisory lock on the store key, so concurrent writers on
// different hosts serialize per record type.
type Store struct {
	db *sql.DB
}

// New opens dsn (falls back to defaultDSN), pings it and applies the schema.
func New(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	db, err := sqlOpen(defaultDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// OpenFromEnv opens the store named by RECORDS_POSTGRES_DSN.
func OpenFromEnv(ctx context.Context) (*Store, error) {
	return New(ctx, os.Getenv("RECORDS_POSTGRES_DSN"))
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS record_tables (
			store_key TEXT PRIMARY KEY,
			header_json JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS record_rows (
			seq BIGSERIAL PRIMARY KEY,
			store_key TEXT NOT NULL REFERENCES record_tables(store_key),
			record_id TEXT NOT NULL DEFAULT '',
			cells_json JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_record_rows_key_seq ON record_rows(store_key, seq)`,
		`CREATE INDEX IF NOT EXISTS idx_record_rows_key_id ON record_rows(store_key, record_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// CreateTable provisions key with header. An existing table keeps its header.
func (s *Store) CreateTable(ctx context.Context, key string, header record.Row) error {
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO record_tables (store_key, header_json) VALUES ($1, $2) ON CONFLICT (store_key) DO NOTHING`,
		key, string(headerJSON),
	)
	if err != nil {
		return fmt.Errorf("create table %s: %w", key, err)
	}
	return nil
}

// FetchAll returns the header followed by every row in insertion order.
func (s *Store) FetchAll(ctx context.Context, key string) ([]record.Row, error) {
	var headerJSON []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT header_json FROM record_tables WHERE store_key = $1`, key,
	).Scan(&headerJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", key, record.ErrTableNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("select header: %w", err)
	}
	var header record.Row
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, fmt.Errorf("decode header: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT cells_json FROM record_rows WHERE store_key = $1 ORDER BY seq ASC`, key,
	)
	if err != nil {
		return nil, fmt.Errorf("select rows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := []record.Row{header}
	for rows.Next() {
		var cells []byte
		if err := rows.Scan(&cells); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		var row record.Row
		if err := json.Unmarshal(cells, &row); err != nil {
			return nil, fmt.Errorf("decode row: %w", err)
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// AppendRow adds a row to the end of the table.
func (s *Store) AppendRow(ctx context.Context, key string, row record.Row) error {
	return s.inTx(ctx, key, false, func(tx *sql.Tx) error {
		return insertRow(ctx, tx, key, row)
	})
}

// AppendIfAbsent adds row unless recordID already exists in the table.
func (s *Store) AppendIfAbsent(ctx context.Context, key, recordID string, row record.Row) error {
	return s.inTx(ctx, key, true, func(tx *sql.Tx) error {
		var exists bool
		err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM record_rows WHERE store_key = $1 AND record_id = $2)`,
			key, recordID,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check record id: %w", err)
		}
		if exists {
			return record.ErrDuplicateRecordID
		}
		return insertRow(ctx, tx, key, row)
	})
}

func (s *Store) inTx(ctx context.Context, key string, lock bool, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if lock {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
			return fmt.Errorf("lock %s: %w", key, err)
		}
	}
	var found bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM record_tables WHERE store_key = $1)`, key,
	).Scan(&found); err != nil {
		return fmt.Errorf("look up table: %w", err)
	}
	if !found {
		return fmt.Errorf("%s: %w", key, record.ErrTableNotFound)
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func insertRow(ctx context.Context, tx *sql.Tx, key string, row record.Row) error {
	cells, err := json.Marshal(row)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO record_rows (store_key, record_id, cells_json) VALUES ($1, $2, $3)`,
		key, row.RecordID(), string(cells),
	); err != nil {
		return fmt.Errorf("insert row: %w", err)
	}
	return nil
}
