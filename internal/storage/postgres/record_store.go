// Package postgres provides a Postgres-backed record store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/gazette-archiver/internal/gazette"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// DefaultTable is the table used when none is configured.
const DefaultTable = "scraped_pdfs"

// Config controls the Postgres connection pool used for document records.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxIface interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Close()
}

// RecordStore keeps document records in a Postgres table keyed by filename.
type RecordStore struct {
	pool  pgxIface
	table string
}

// New creates a Postgres-backed RecordStore using the provided config.
func New(ctx context.Context, cfg Config) (*RecordStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewWithPool(pool, cfg.Table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool pgxIface, table string) (*RecordStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &RecordStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *RecordStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the records table and its status index when missing.
func (s *RecordStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	filename TEXT PRIMARY KEY,
	url TEXT NOT NULL,
	status TEXT NOT NULL,
	found_at TIMESTAMPTZ NOT NULL,
	download_started_at TIMESTAMPTZ,
	downloaded_at TIMESTAMPTZ,
	failed_at TIMESTAMPTZ,
	error_message TEXT,
	storage_path TEXT,
	file_size BIGINT
);
CREATE INDEX IF NOT EXISTS %[1]s_status_idx ON %[1]s (status);`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

const selectColumns = `filename, url, status, found_at, download_started_at, downloaded_at,
	failed_at, error_message, storage_path, file_size`

// FindByFilename returns the record for filename or gazette.ErrNotFound.
func (s *RecordStore) FindByFilename(ctx context.Context, filename string) (gazette.Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE filename = $1`, selectColumns, s.table)
	rec, err := scanRecord(s.pool.QueryRow(ctx, query, filename))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return gazette.Record{}, fmt.Errorf("%s: %w", filename, gazette.ErrNotFound)
		}
		return gazette.Record{}, fmt.Errorf("find record: %w", err)
	}
	return rec, nil
}

// Insert adds a record. An existing filename yields gazette.ErrAlreadyExists.
func (s *RecordStore) Insert(ctx context.Context, record gazette.Record) error {
	if record.Filename == "" {
		return gazette.ErrEmptyFilename
	}
	query := fmt.Sprintf(`
INSERT INTO %s (filename, url, status, found_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (filename) DO NOTHING`, s.table)
	tag, err := s.pool.Exec(ctx, query, record.Filename, record.URL, string(record.Status), record.FoundAt)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", record.Filename, gazette.ErrAlreadyExists)
	}
	return nil
}

// UpdateStatus applies t to the row for filename.
func (s *RecordStore) UpdateStatus(ctx context.Context, filename string, t gazette.Transition) error {
	if err := t.Validate(); err != nil {
		return err
	}
	var (
		query string
		args  []any
	)
	switch t.Status {
	case gazette.StatusDownloading:
		query = `UPDATE %s SET status = $1, download_started_at = $2 WHERE filename = $3`
		args = []any{string(t.Status), t.At, filename}
	case gazette.StatusDownloaded:
		query = `UPDATE %s SET status = $1, downloaded_at = $2, storage_path = $3, file_size = $4 WHERE filename = $5`
		args = []any{string(t.Status), t.At, t.StoragePath, t.FileSize, filename}
	case gazette.StatusDownloadFailed:
		query = `UPDATE %s SET status = $1, failed_at = $2, error_message = $3 WHERE filename = $4`
		args = []any{string(t.Status), t.At, t.ErrorMessage, filename}
	}
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(query, s.table), args...)
	if err != nil {
		return fmt.Errorf("update record status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", filename, gazette.ErrNotFound)
	}
	return nil
}

// List returns records with the given status, or all records when status is empty.
func (s *RecordStore) List(ctx context.Context, status gazette.Status) ([]gazette.Record, error) {
	query := fmt.Sprintf(`
SELECT %s FROM %s
WHERE ($1 = '' OR status = $1)
ORDER BY found_at, filename`, selectColumns, s.table)
	rows, err := s.pool.Query(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	out := []gazette.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

func scanRecord(row pgx.Row) (gazette.Record, error) {
	var (
		rec          gazette.Record
		status       string
		errorMessage *string
		storagePath  *string
		fileSize     *int64
	)
	err := row.Scan(
		&rec.Filename,
		&rec.URL,
		&status,
		&rec.FoundAt,
		&rec.DownloadStartedAt,
		&rec.DownloadedAt,
		&rec.FailedAt,
		&errorMessage,
		&storagePath,
		&fileSize,
	)
	if err != nil {
		return gazette.Record{}, err
	}
	rec.Status = gazette.Status(status)
	if errorMessage != nil {
		rec.ErrorMessage = *errorMessage
	}
	if storagePath != nil {
		rec.StoragePath = *storagePath
	}
	if fileSize != nil {
		rec.FileSize = *fileSize
	}
	return rec, nil
}
