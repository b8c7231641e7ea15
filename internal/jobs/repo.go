package jobs

import (
	"context"
	"database/sql"
	"time"
)

// Repo persists durable job history in Postgres. A nil *Repo is valid and
// turns every call into a no-op so the service can run without a database.
type Repo struct {
	db *sql.DB
}

// NewRepo wraps a Postgres connection.
func NewRepo(db *sql.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) enabled() bool {
	return r != nil && r.db != nil
}

// InsertJob records a newly accepted job.
func (r *Repo) InsertJob(ctx context.Context, job *Job) error {
	if !r.enabled() {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO jobs (id, filename, size_bytes, status, stage, progress,
		                  original_path, enhanced_path, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		job.ID, job.Filename, job.SizeBytes, job.Status, job.Stage, job.Progress,
		job.OriginalPath, job.EnhancedPath, job.CreatedAt)
	return err
}

// UpdateJob writes the job's current stage, progress and terminal state.
func (r *Repo) UpdateJob(ctx context.Context, job *Job) error {
	if !r.enabled() {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = $2,
		    stage = $3,
		    progress = $4,
		    error_message = NULLIF($5, ''),
		    started_at = $6,
		    finished_at = $7,
		    updated_at = NOW()
		WHERE id = $1`,
		job.ID, job.Status, job.Stage, job.Progress, job.Error, job.StartedAt, job.FinishedAt)
	return err
}

// GetJob loads one job record.
func (r *Repo) GetJob(ctx context.Context, id string) (*Job, error) {
	if !r.enabled() {
		return nil, sql.ErrConnDone
	}
	var (
		job      Job
		errMsg   sql.NullString
		started  sql.NullTime
		finished sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, filename, size_bytes, status, stage, progress,
		       COALESCE(error_message, ''), original_path, enhanced_path,
		       created_at, started_at, finished_at
		FROM jobs WHERE id = $1`, id).
		Scan(&job.ID, &job.Filename, &job.SizeBytes, &job.Status, &job.Stage,
			&job.Progress, &errMsg, &job.OriginalPath, &job.EnhancedPath,
			&job.CreatedAt, &started, &finished)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	job.Error = errMsg.String
	job.StartedAt = nullTimePtr(started)
	job.FinishedAt = nullTimePtr(finished)
	return &job, nil
}

// ListJobs returns the most recent jobs, newest first.
func (r *Repo) ListJobs(ctx context.Context, limit int) ([]*Job, error) {
	if !r.enabled() {
		return nil, sql.ErrConnDone
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, filename, size_bytes, status, stage, progress,
		       COALESCE(error_message, ''), original_path, enhanced_path,
		       created_at, started_at, finished_at
		FROM jobs ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		var (
			job      Job
			errMsg   sql.NullString
			started  sql.NullTime
			finished sql.NullTime
		)
		if err := rows.Scan(&job.ID, &job.Filename, &job.SizeBytes, &job.Status, &job.Stage,
			&job.Progress, &errMsg, &job.OriginalPath, &job.EnhancedPath,
			&job.CreatedAt, &started, &finished); err != nil {
			return nil, err
		}
		job.Error = errMsg.String
		job.StartedAt = nullTimePtr(started)
		job.FinishedAt = nullTimePtr(finished)
		out = append(out, &job)
	}
	return out, rows.Err()
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
