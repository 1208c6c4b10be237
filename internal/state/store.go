package state

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/xplab/imagery-node/internal/logger"
)

// Store keeps node-local operational history: capture job starts and the
// outcome of every upload attempt. It backs the status endpoint and nothing
// else; experiment records live on the aggregator side.
type Store struct {
	db     *sql.DB
	dbPath string
	logger *logger.Logger
}

// JobRecord is one capture job start
type JobRecord struct {
	ID          string
	CaptureJob  string // cj_id from the coordinator
	Experiment  string // xp_id from the coordinator
	TargetCount int
	StartedAt   time.Time
	Status      string
}

// Job status values
const (
	JobStatusRunning    = "running"
	JobStatusCompleted  = "completed"
	JobStatusSuperseded = "superseded"
	JobStatusStopped    = "stopped"
)

// UploadRecord is one upload attempt
type UploadRecord struct {
	ID         string
	JobID      string // empty for command-triggered uploads
	Filename   string
	CaptureAt  time.Time
	StatusCode int
	OK         bool
	Elapsed    time.Duration
	CreatedAt  time.Time
}

// NewStore opens (and if needed creates) the history database
func NewStore(dbPath string, log *logger.Logger) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=1")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite handles one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	store := &Store{db: db, dbPath: dbPath, logger: log}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// Close closes the database
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS capture_jobs (
		id TEXT PRIMARY KEY,
		cj_id TEXT NOT NULL,
		xp_id TEXT NOT NULL,
		target_count INTEGER NOT NULL,
		status TEXT NOT NULL,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS uploads (
		id TEXT PRIMARY KEY,
		job_id TEXT,
		filename TEXT NOT NULL,
		capture_at TIMESTAMP NOT NULL,
		status_code INTEGER NOT NULL,
		ok BOOLEAN NOT NULL,
		elapsed_ms INTEGER NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_uploads_created ON uploads(created_at);
	CREATE INDEX IF NOT EXISTS idx_uploads_job ON uploads(job_id);
	CREATE INDEX IF NOT EXISTS idx_jobs_started ON capture_jobs(started_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// RecordJob inserts a capture job start
func (s *Store) RecordJob(job JobRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO capture_jobs (id, cj_id, xp_id, target_count, status, started_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		job.ID, job.CaptureJob, job.Experiment, job.TargetCount, job.Status, job.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record job: %w", err)
	}
	return nil
}

// FinishJob marks a capture job's terminal status
func (s *Store) FinishJob(jobID, status string) error {
	_, err := s.db.Exec(
		`UPDATE capture_jobs SET status = ?, finished_at = ? WHERE id = ?`,
		status, time.Now(), jobID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish job: %w", err)
	}
	return nil
}

// RecordUpload inserts one upload attempt
func (s *Store) RecordUpload(rec UploadRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO uploads (id, job_id, filename, capture_at, status_code, ok, elapsed_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.JobID, rec.Filename, rec.CaptureAt,
		rec.StatusCode, rec.OK, rec.Elapsed.Milliseconds(), rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record upload: %w", err)
	}
	return nil
}

// RecentUploads returns the newest upload records, newest first
func (s *Store) RecentUploads(limit int) ([]UploadRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, job_id, filename, capture_at, status_code, ok, elapsed_ms, created_at
		 FROM uploads ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query uploads: %w", err)
	}
	defer rows.Close()

	var records []UploadRecord
	for rows.Next() {
		var rec UploadRecord
		var elapsedMs int64
		if err := rows.Scan(
			&rec.ID, &rec.JobID, &rec.Filename, &rec.CaptureAt,
			&rec.StatusCode, &rec.OK, &elapsedMs, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan upload: %w", err)
		}
		rec.Elapsed = time.Duration(elapsedMs) * time.Millisecond
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CountJobUploads returns the number of recorded uploads for a job
func (s *Store) CountJobUploads(jobID string) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM uploads WHERE job_id = ?`, jobID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count uploads: %w", err)
	}
	return count, nil
}

// PruneUploads deletes upload records older than the cutoff and returns the
// number removed
func (s *Store) PruneUploads(olderThan time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM uploads WHERE created_at < ?`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to prune uploads: %w", err)
	}
	return res.RowsAffected()
}
