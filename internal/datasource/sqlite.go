// Package datasource provides the SQLite-backed job archive that the tw
// demo workload reads and mutates. Every method takes a context so
// in-flight queries die with the background task that issued them.
package datasource

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// JobStatus is the lifecycle state of an archived job row.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
	JobArchived  JobStatus = "archived"
)

// Job is one row of the job archive.
type Job struct {
	ID         int64
	Name       string
	Queue      string
	Status     JobStatus
	Attempts   int
	DurationMs int64
	Payload    string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	ArchivedAt *time.Time
}

// Stats summarizes the archive.
type Stats struct {
	Total         int
	WithDuration  int
	AvgDurationMs float64
	MaxDurationMs int64
}

// Store provides access to a job archive database.
type Store struct {
	db   *sql.DB
	path string
}

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	name        TEXT NOT NULL,
	queue       TEXT NOT NULL DEFAULT 'default',
	status      TEXT NOT NULL DEFAULT 'pending',
	attempts    INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER,
	payload     TEXT,
	created_at  TIMESTAMP NOT NULL,
	updated_at  TIMESTAMP NOT NULL,
	archived_at TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_updated ON jobs(updated_at);
`

// Open opens (creating if needed) the job archive at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("cannot create database directory: %w", err)
		}
	}

	// _time_format pins how the driver writes time.Time parameters so
	// that stored timestamps stay comparable as text.
	db, err := sql.Open("sqlite", "file:"+path+"?_time_format=sqlite")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA cache_size = -64000", // 64MB cache
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		// Non-fatal: an old SQLite build just runs without the tuning.
		db.Exec(pragma)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("cannot create schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// InsertJob adds a job row and returns its assigned ID. Zero timestamps
// are filled with the current time.
func (s *Store) InsertJob(ctx context.Context, j Job) (int64, error) {
	now := time.Now().UTC()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	if j.UpdatedAt.IsZero() {
		j.UpdatedAt = j.CreatedAt
	}
	// All rows carry UTC so text-ordered timestamp comparisons hold.
	j.CreatedAt = j.CreatedAt.UTC()
	j.UpdatedAt = j.UpdatedAt.UTC()
	if j.Queue == "" {
		j.Queue = "default"
	}
	if j.Status == "" {
		j.Status = JobPending
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (name, queue, status, attempts, duration_ms, payload, created_at, updated_at, archived_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.Name, j.Queue, string(j.Status), j.Attempts, nullInt(j.DurationMs), nullStr(j.Payload),
		j.CreatedAt, j.UpdatedAt, nullTime(j.ArchivedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("insert job: %w", err)
	}
	return res.LastInsertId()
}

// ListRecent returns up to limit non-archived jobs, most recently
// updated first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, queue, status, attempts, duration_ms, payload, created_at, updated_at, archived_at
		FROM jobs
		WHERE status != ?
		ORDER BY updated_at DESC, id DESC
		LIMIT ?`, string(JobArchived), limit)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

// CountByStatus returns row counts per job status.
func (s *Store) CountByStatus(ctx context.Context) (map[JobStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[JobStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			continue
		}
		counts[JobStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating counts: %w", err)
	}
	return counts, nil
}

// Stats returns aggregate duration statistics over the whole archive.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs`).Scan(&st.Total); err != nil {
		return st, fmt.Errorf("count rows: %w", err)
	}
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(AVG(duration_ms), 0), COALESCE(MAX(duration_ms), 0)
		FROM jobs WHERE duration_ms IS NOT NULL`).
		Scan(&st.WithDuration, &st.AvgDurationMs, &st.MaxDurationMs)
	if err != nil {
		return st, fmt.Errorf("duration stats: %w", err)
	}
	return st, nil
}

// ArchivableIDs returns IDs of finished jobs last touched before the
// cutoff, oldest first. These are the candidates for a bulk archive run.
func (s *Store) ArchivableIDs(ctx context.Context, before time.Time) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM jobs
		WHERE status IN (?, ?) AND updated_at < ?
		ORDER BY updated_at, id`,
		string(JobSucceeded), string(JobFailed), before.UTC())
	if err != nil {
		return nil, fmt.Errorf("query archivable: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			continue
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating archivable: %w", err)
	}
	return ids, nil
}

// ArchiveJobs marks the given rows archived and returns how many rows
// actually changed. Called once per chunk during a bulk archive run.
func (s *Store) ArchiveJobs(ctx context.Context, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	args := make([]any, 0, len(ids)+3)
	args = append(args, string(JobArchived), now, now)
	for _, id := range ids {
		args = append(args, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")

	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, archived_at = ?, updated_at = ? WHERE id IN (`+placeholders+`)`,
		args...)
	if err != nil {
		return 0, fmt.Errorf("archive jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// LastModified returns the most recent update time across all rows, or
// the zero time for an empty archive. Selecting the column directly
// rather than MAX() keeps the declared type the driver needs to hand
// back a time.Time.
func (s *Store) LastModified(ctx context.Context) (time.Time, error) {
	var updatedAt time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT updated_at FROM jobs ORDER BY updated_at DESC LIMIT 1`).Scan(&updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return updatedAt, nil
}

func scanJobs(rows *sql.Rows) ([]Job, error) {
	var jobs []Job
	for rows.Next() {
		var (
			j          Job
			status     string
			durationMs sql.NullInt64
			payload    sql.NullString
			archivedAt sql.NullTime
		)
		err := rows.Scan(&j.ID, &j.Name, &j.Queue, &status, &j.Attempts,
			&durationMs, &payload, &j.CreatedAt, &j.UpdatedAt, &archivedAt)
		if err != nil {
			continue
		}
		j.Status = JobStatus(status)
		if durationMs.Valid {
			j.DurationMs = durationMs.Int64
		}
		if payload.Valid {
			j.Payload = payload.String
		}
		if archivedAt.Valid {
			t := archivedAt.Time
			j.ArchivedAt = &t
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating jobs: %w", err)
	}
	return jobs, nil
}

func nullInt(n int64) any {
	if n == 0 {
		return nil
	}
	return n
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
