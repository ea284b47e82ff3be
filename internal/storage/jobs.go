package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Job statuses.
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

const defaultMaxAttempts = 3

const jobColumns = `id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at, last_error`

func scanJob(row rowScanner) (Job, error) {
	var j Job
	var runAfter, createdAt, updatedAt string
	var lastError sql.NullString
	if err := row.Scan(&j.ID, &j.Type, &j.PayloadJSON, &j.Status, &j.Attempts, &j.MaxAttempts,
		&runAfter, &createdAt, &updatedAt, &lastError); err != nil {
		return Job{}, err
	}
	j.LastError = lastError.String

	for _, f := range []struct {
		name string
		src  string
		dst  *time.Time
	}{
		{"run_after", runAfter, &j.RunAfter},
		{"created_at", createdAt, &j.CreatedAt},
		{"updated_at", updatedAt, &j.UpdatedAt},
	} {
		t, err := time.Parse(time.RFC3339, f.src)
		if err != nil {
			return Job{}, fmt.Errorf("parsing %s for job %s: %w", f.name, j.ID, err)
		}
		*f.dst = t
	}
	return j, nil
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func (s *Store) EnqueueJob(job Job) error {
	now := time.Now()
	runAfter := now
	if !job.RunAfter.IsZero() {
		runAfter = job.RunAfter
	}
	maxAttempts := job.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = defaultMaxAttempts
	}
	_, err := s.db.Exec(`
		INSERT INTO jobs (id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, ?, ?, ?, ?)`,
		job.ID, job.Type, job.PayloadJSON, JobPending, maxAttempts, timestamp(runAfter), timestamp(now), timestamp(now),
	)
	return err
}

// EnqueueJobOnce inserts job unless a pending or running job of the same type
// exists. It returns the id of the job that will do the work and whether job
// itself was inserted.
func (s *Store) EnqueueJobOnce(job Job) (string, bool, error) {
	now := timestamp(time.Now())
	maxAttempts := job.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = defaultMaxAttempts
	}
	res, err := s.db.Exec(`
		INSERT INTO jobs (id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at)
		SELECT ?, ?, ?, ?, 0, ?, ?, ?, ?
		WHERE NOT EXISTS (SELECT 1 FROM jobs WHERE type = ? AND status IN (?, ?))`,
		job.ID, job.Type, job.PayloadJSON, JobPending, maxAttempts, now, now, now,
		job.Type, JobPending, JobRunning,
	)
	if err != nil {
		return "", false, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return "", false, err
	} else if n == 1 {
		return job.ID, true, nil
	}

	active, err := s.ActiveJob(job.Type)
	if err != nil {
		return "", false, fmt.Errorf("looking up active %s job: %w", job.Type, err)
	}
	return active.ID, false, nil
}

// ActiveJob returns the oldest pending or running job of jobType.
func (s *Store) ActiveJob(jobType string) (Job, error) {
	j, err := scanJob(s.db.QueryRow(`SELECT `+jobColumns+` FROM jobs
		WHERE type = ? AND status IN (?, ?)
		ORDER BY created_at ASC LIMIT 1`, jobType, JobPending, JobRunning))
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	return j, err
}

// ClaimNextJob marks the next due pending job of one of types as running and
// returns it, or nil when nothing is due. The select and update run as one
// statement, so two workers never claim the same job.
func (s *Store) ClaimNextJob(types []string) (*Job, error) {
	if len(types) == 0 {
		return nil, nil
	}

	now := timestamp(time.Now())
	args := []any{JobRunning, now, JobPending, now}
	for _, t := range types {
		args = append(args, t)
	}
	query := `UPDATE jobs SET status = ?, updated_at = ?
		WHERE id = (
			SELECT id FROM jobs
			WHERE status = ? AND run_after <= ? AND type IN (?` + strings.Repeat(",?", len(types)-1) + `)
			ORDER BY run_after ASC, created_at ASC
			LIMIT 1
		)
		RETURNING ` + jobColumns

	j, err := scanJob(s.db.QueryRow(query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claiming job: %w", err)
	}
	return &j, nil
}

func (s *Store) CompleteJob(id string) error {
	res, err := s.db.Exec(`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ?`,
		JobCompleted, timestamp(time.Now()), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// FailJob records a failed attempt. The job is retried after 2^attempts
// seconds until max_attempts is reached, then marked failed.
func (s *Store) FailJob(id string, errMsg string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning fail transaction: %w", err)
	}
	defer tx.Rollback()

	var attempts, maxAttempts int
	err = tx.QueryRow(`SELECT attempts, max_attempts FROM jobs WHERE id = ?`, id).Scan(&attempts, &maxAttempts)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	now := time.Now()
	attempts++
	status, runAfter := JobPending, now.Add(time.Duration(1<<attempts)*time.Second)
	if attempts >= maxAttempts {
		status, runAfter = JobFailed, now
	}
	if _, err := tx.Exec(`UPDATE jobs SET status = ?, attempts = ?, last_error = ?, run_after = ?, updated_at = ? WHERE id = ?`,
		status, attempts, errMsg, timestamp(runAfter), timestamp(now), id); err != nil {
		return err
	}
	return tx.Commit()
}

// RequeueRunningJobs moves every running job back to pending. Call it before
// the worker starts, when no job can legitimately be running.
func (s *Store) RequeueRunningJobs() (int, error) {
	res, err := s.db.Exec(`UPDATE jobs SET status = ?, updated_at = ? WHERE status = ?`,
		JobPending, timestamp(time.Now()), JobRunning)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *Store) GetJob(id string) (Job, error) {
	j, err := scanJob(s.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	return j, err
}
