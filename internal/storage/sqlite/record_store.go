// Package sqlite provides a single-file record store for local deployments.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	// registers the "sqlite" driver
	_ "modernc.org/sqlite"

	"github.com/JakeFAU/gazette-archiver/internal/gazette"
)

const schema = `
CREATE TABLE IF NOT EXISTS scraped_pdfs (
	filename TEXT PRIMARY KEY,
	url TEXT NOT NULL,
	status TEXT NOT NULL,
	found_at TEXT NOT NULL,
	download_started_at TEXT,
	downloaded_at TEXT,
	failed_at TEXT,
	error_message TEXT,
	storage_path TEXT,
	file_size INTEGER
);
CREATE INDEX IF NOT EXISTS scraped_pdfs_status_idx ON scraped_pdfs (status);
`

// RecordStore keeps document records in an SQLite database.
type RecordStore struct {
	db *sql.DB
}

// New opens or creates the database at path and applies the schema.
func New(path string) (*RecordStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// A single connection keeps ":memory:" databases alive and serialises writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set wal mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &RecordStore{db: db}, nil
}

// Close closes the database connection.
func (s *RecordStore) Close() error {
	return s.db.Close()
}

// FindByFilename returns the record for filename or gazette.ErrNotFound.
func (s *RecordStore) FindByFilename(ctx context.Context, filename string) (gazette.Record, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT filename, url, status, found_at, download_started_at, downloaded_at,
	failed_at, error_message, storage_path, file_size
FROM scraped_pdfs WHERE filename = ?`, filename)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return gazette.Record{}, fmt.Errorf("%s: %w", filename, gazette.ErrNotFound)
	}
	if err != nil {
		return gazette.Record{}, fmt.Errorf("find record: %w", err)
	}
	return rec, nil
}

// Insert adds a record. An existing filename yields gazette.ErrAlreadyExists.
func (s *RecordStore) Insert(ctx context.Context, record gazette.Record) error {
	if record.Filename == "" {
		return gazette.ErrEmptyFilename
	}
	res, err := s.db.ExecContext(ctx, `
INSERT OR IGNORE INTO scraped_pdfs (filename, url, status, found_at)
VALUES (?, ?, ?, ?)`,
		record.Filename, record.URL, string(record.Status), formatTime(record.FoundAt))
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", record.Filename, gazette.ErrAlreadyExists)
	}
	return nil
}

// UpdateStatus applies t to the row for filename.
func (s *RecordStore) UpdateStatus(ctx context.Context, filename string, t gazette.Transition) error {
	if err := t.Validate(); err != nil {
		return err
	}
	at := formatTime(t.At)
	var (
		res sql.Result
		err error
	)
	switch t.Status {
	case gazette.StatusDownloading:
		res, err = s.db.ExecContext(ctx,
			`UPDATE scraped_pdfs SET status = ?, download_started_at = ? WHERE filename = ?`,
			string(t.Status), at, filename)
	case gazette.StatusDownloaded:
		res, err = s.db.ExecContext(ctx,
			`UPDATE scraped_pdfs SET status = ?, downloaded_at = ?, storage_path = ?, file_size = ? WHERE filename = ?`,
			string(t.Status), at, t.StoragePath, t.FileSize, filename)
	case gazette.StatusDownloadFailed:
		res, err = s.db.ExecContext(ctx,
			`UPDATE scraped_pdfs SET status = ?, failed_at = ?, error_message = ? WHERE filename = ?`,
			string(t.Status), at, t.ErrorMessage, filename)
	}
	if err != nil {
		return fmt.Errorf("update record status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update record status: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", filename, gazette.ErrNotFound)
	}
	return nil
}

// List returns records with the given status, or all records when status is empty.
func (s *RecordStore) List(ctx context.Context, status gazette.Status) ([]gazette.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT filename, url, status, found_at, download_started_at, downloaded_at,
	failed_at, error_message, storage_path, file_size
FROM scraped_pdfs
WHERE (? = '' OR status = ?)
ORDER BY found_at, filename`, string(status), string(status))
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []gazette.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (gazette.Record, error) {
	var (
		rec                         gazette.Record
		status, foundAt             string
		started, downloaded, failed sql.NullString
		errorMessage, storagePath   sql.NullString
		fileSize                    sql.NullInt64
	)
	if err := row.Scan(&rec.Filename, &rec.URL, &status, &foundAt, &started, &downloaded,
		&failed, &errorMessage, &storagePath, &fileSize); err != nil {
		return gazette.Record{}, err
	}
	rec.Status = gazette.Status(status)
	var err error
	if rec.FoundAt, err = time.Parse(time.RFC3339Nano, foundAt); err != nil {
		return gazette.Record{}, fmt.Errorf("parse found_at: %w", err)
	}
	if rec.DownloadStartedAt, err = parseNullTime(started); err != nil {
		return gazette.Record{}, err
	}
	if rec.DownloadedAt, err = parseNullTime(downloaded); err != nil {
		return gazette.Record{}, err
	}
	if rec.FailedAt, err = parseNullTime(failed); err != nil {
		return gazette.Record{}, err
	}
	rec.ErrorMessage = errorMessage.String
	rec.StoragePath = storagePath.String
	rec.FileSize = fileSize.Int64
	return rec, nil
}

// Timestamps are stored as fixed-width UTC text so lexical order matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseNullTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v.String)
	if err != nil {
		return nil, fmt.Errorf("parse timestamp %q: %w", v.String, err)
	}
	return &t, nil
}
