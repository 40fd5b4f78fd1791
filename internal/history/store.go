// Package history persists conversion job records to SQLite and exposes a
// Recorder that keeps them current from the event stream.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"bindery/internal/config"
	"bindery/internal/conversion"
)

// ErrNotFound is returned when no record matches a lookup.
var ErrNotFound = errors.New("history: record not found")

// Store manages job history persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the history database and applies
// migrations. The database lives under the configured log directory.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(filepath.Join(cfg.Paths.LogDir, "history.db"))
}

// OpenPath opens a history database at an explicit path.
func OpenPath(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// NewJob inserts a pending record for a job about to run.
func (s *Store) NewJob(ctx context.Context, jobID string, cfg conversion.Config) (*Record, error) {
	snapshot, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode config snapshot: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (
            job_id, module_id, pdf_path, config_json, status,
            progress_percent, progress_message, attempts, error_message,
            created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, 0, '', 0, '', ?, ?)`,
		jobID, cfg.ModuleID, cfg.PDFPath, string(snapshot), StatusPending, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("read insert id: %w", err)
	}
	record := &Record{
		ID:         id,
		JobID:      jobID,
		ModuleID:   cfg.ModuleID,
		PDFPath:    cfg.PDFPath,
		ConfigJSON: string(snapshot),
		Status:     StatusPending,
	}
	return record, nil
}

// SetStatus transitions a job's status, optionally recording an error.
func (s *Store) SetStatus(ctx context.Context, jobID string, status Status, errorMessage string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, error_message = ?, updated_at = ? WHERE job_id = ?`,
		status, errorMessage, now, jobID,
	)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return affectedOne(res)
}

// SetProgress updates the latest observed progress for a job.
func (s *Store) SetProgress(ctx context.Context, jobID string, percent int, message string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET progress_percent = ?, progress_message = ?, updated_at = ? WHERE job_id = ?`,
		percent, message, now, jobID,
	)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return affectedOne(res)
}

// IncrementAttempts bumps the retry counter for a job.
func (s *Store) IncrementAttempts(ctx context.Context, jobID string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET attempts = attempts + 1, updated_at = ? WHERE job_id = ?`,
		now, jobID,
	)
	if err != nil {
		return fmt.Errorf("increment attempts: %w", err)
	}
	return affectedOne(res)
}

// Get returns the record for a job ID.
func (s *Store) Get(ctx context.Context, jobID string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE job_id = ?`, jobID)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return record, err
}

// Recent returns up to limit records, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, selectColumns+` ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent jobs: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// Active returns records that have not reached a terminal status.
func (s *Store) Active(ctx context.Context) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx,
		selectColumns+` WHERE status IN (?, ?) ORDER BY id`, StatusPending, StatusRunning)
	if err != nil {
		return nil, fmt.Errorf("query active jobs: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

const selectColumns = `SELECT id, job_id, module_id, pdf_path, config_json, status,
    progress_percent, progress_message, attempts, error_message, created_at, updated_at
    FROM jobs`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var (
		record               Record
		createdAt, updatedAt string
	)
	err := row.Scan(
		&record.ID, &record.JobID, &record.ModuleID, &record.PDFPath,
		&record.ConfigJSON, &record.Status, &record.ProgressPercent,
		&record.ProgressMessage, &record.Attempts, &record.ErrorMessage,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	if t, parseErr := time.Parse(time.RFC3339Nano, createdAt); parseErr == nil {
		record.CreatedAt = t
	}
	if t, parseErr := time.Parse(time.RFC3339Nano, updatedAt); parseErr == nil {
		record.UpdatedAt = t
	}
	return &record, nil
}

func affectedOne(res sql.Result) error {
	count, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if count == 0 {
		return ErrNotFound
	}
	return nil
}

// Config decodes the stored config snapshot of a record.
func (r *Record) Config() (conversion.Config, error) {
	var cfg conversion.Config
	if err := json.Unmarshal([]byte(r.ConfigJSON), &cfg); err != nil {
		return conversion.Config{}, fmt.Errorf("decode config snapshot: %w", err)
	}
	return cfg, nil
}
