// Package jobrun persists trading job records: a keyed store of opaque job
// content with a processed/unprocessed flag. The job engine is an external
// consumer; this package only provides the seam it reads and writes through.
package jobrun

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// ErrNotFound reports a missing job id.
var ErrNotFound = errors.New("jobrun: job not found")

// Record is one stored job.
type Record struct {
	ID        string
	Content   string
	Processed bool
}

// Store is a sqlite-backed job record store.
type Store struct {
	db *sql.DB
}

// Open creates or opens the store at path, creating parent directories and
// running migrations as needed.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("jobrun: creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("jobrun: opening database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("jobrun: running migrations: %w", err)
	}
	return store, nil
}

func (s *Store) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			content TEXT,
			processed INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_processed ON jobs(processed)`,
	}
	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}
	return nil
}

// Save upserts a job record.
func (s *Store) Save(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, content, processed) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET content = excluded.content, processed = excluded.processed`,
		rec.ID, rec.Content, boolToInt(rec.Processed),
	)
	if err != nil {
		return fmt.Errorf("jobrun: saving job %q: %w", rec.ID, err)
	}
	return nil
}

// Get returns one job record by id.
func (s *Store) Get(ctx context.Context, id string) (Record, error) {
	var rec Record
	var processed int
	err := s.db.QueryRowContext(ctx,
		"SELECT id, content, processed FROM jobs WHERE id = ?", id,
	).Scan(&rec.ID, &rec.Content, &processed)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("jobrun: loading job %q: %w", id, err)
	}
	rec.Processed = processed != 0
	return rec, nil
}

// ListUnprocessed returns up to limit unprocessed jobs, oldest id first.
func (s *Store) ListUnprocessed(ctx context.Context, limit int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, content, processed FROM jobs WHERE processed = 0 ORDER BY id LIMIT ?", limit,
	)
	if err != nil {
		return nil, fmt.Errorf("jobrun: listing unprocessed jobs: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var processed int
		if err := rows.Scan(&rec.ID, &rec.Content, &processed); err != nil {
			return nil, fmt.Errorf("jobrun: scanning job: %w", err)
		}
		rec.Processed = processed != 0
		records = append(records, rec)
	}
	return records, rows.Err()
}

// MarkProcessed flags a job as done. Missing ids fail with ErrNotFound.
func (s *Store) MarkProcessed(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE jobs SET processed = 1 WHERE id = ?", id,
	)
	if err != nil {
		return fmt.Errorf("jobrun: marking job %q processed: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("jobrun: marking job %q processed: %w", id, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
