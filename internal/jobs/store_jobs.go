package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Create inserts a new job and returns its identifier. An empty ID is
// replaced with a fresh UUID; an existing ID is rejected.
func (s *Store) Create(ctx context.Context, job *Job) (string, error) {
	if job == nil {
		return "", errors.New("create job: nil job")
	}
	if strings.TrimSpace(job.ID) == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = StatusQueued
	}
	if job.Version == 0 {
		job.Version = 1
	}
	if job.CreatedAt.IsZero() || job.UpdatedAt.IsZero() {
		fresh := New(job.Input, job.Options, job.Submitter)
		job.CreatedAt, job.UpdatedAt = fresh.CreatedAt, fresh.UpdatedAt
		if len(job.History) == 0 {
			job.History = fresh.History
		}
	}

	unlock := s.locks.Lock(job.ID)
	defer unlock()

	if _, err := s.Get(ctx, job.ID); err == nil {
		return "", fmt.Errorf("%w: %s", ErrDuplicate, job.ID)
	} else if !errors.Is(err, ErrNotFound) {
		return "", err
	}

	enc, err := encodeJob(job)
	if err != nil {
		return "", err
	}
	_, err = s.execWithRetry(ctx,
		`INSERT INTO jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID,
		string(job.Status),
		enc.input,
		enc.options,
		enc.outputs,
		enc.failure,
		job.Submitter,
		job.ProgressPercent,
		job.Version,
		enc.history,
		formatTime(job.CreatedAt),
		formatTime(job.UpdatedAt),
	)
	if err != nil {
		return "", fmt.Errorf("insert job: %w", err)
	}
	return job.ID, nil
}

// Get fetches a job by identifier.
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	row := s.queryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// Update applies fn to the current job record and persists the result
// atomically. fn runs under the job's key lock and the write is
// conditional on the version read, so concurrent writers (including other
// processes sharing the database) never interleave. When fn returns an
// error nothing is written and the unmodified record is returned alongside
// that error.
func (s *Store) Update(ctx context.Context, id string, fn func(*Job) error) (*Job, error) {
	if fn == nil {
		return nil, errors.New("update job: nil transition")
	}
	unlock := s.locks.Lock(id)
	defer unlock()

	for attempt := 0; attempt < conflictRetryAttempts; attempt++ {
		current, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		next := current.Clone()
		if err := fn(next); err != nil {
			return current, err
		}
		next.ID = current.ID
		next.Version = current.Version + 1

		enc, err := encodeJob(next)
		if err != nil {
			return nil, err
		}
		res, err := s.execWithRetry(ctx,
			`UPDATE jobs SET status = ?, stage_outputs_json = ?, failure_json = ?, progress_percent = ?,
			version = ?, history_json = ?, updated_at = ? WHERE id = ? AND version = ?`,
			string(next.Status),
			enc.outputs,
			enc.failure,
			next.ProgressPercent,
			next.Version,
			enc.history,
			formatTime(next.UpdatedAt),
			id,
			current.Version,
		)
		if err != nil {
			return nil, fmt.Errorf("update job: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("update job rows affected: %w", err)
		}
		if affected == 1 {
			return next, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrConflict, id)
}

// List returns jobs matching the filter, newest first.
func (s *Store) List(ctx context.Context, filter Filter) ([]*Job, error) {
	var (
		clauses []string
		args    []any
	)
	if len(filter.Statuses) > 0 {
		clauses = append(clauses, "status IN ("+makePlaceholders(len(filter.Statuses))+")")
		for _, status := range filter.Statuses {
			args = append(args, string(status))
		}
	}
	if submitter := strings.TrimSpace(filter.Submitter); submitter != "" {
		clauses = append(clauses, "submitter = ?")
		args = append(args, submitter)
	}
	if !filter.UpdatedBefore.IsZero() {
		clauses = append(clauses, "updated_at < ?")
		args = append(args, formatTime(filter.UpdatedBefore))
	}

	query := `SELECT ` + jobColumns + ` FROM jobs`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

// ListActive returns every non-terminal job, oldest first.
func (s *Store) ListActive(ctx context.Context) ([]*Job, error) {
	jobs, err := s.List(ctx, Filter{Statuses: []Status{
		StatusQueued,
		StatusTranscribing,
		StatusDiarizing,
		StatusSynthesizing,
	}})
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(jobs)-1; i < j; i, j = i+1, j-1 {
		jobs[i], jobs[j] = jobs[j], jobs[i]
	}
	return jobs, nil
}

// Stats returns job counts keyed by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.query(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	counts := make(map[Status]int, len(allStatuses))
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[Status(status)] = count
	}
	return counts, rows.Err()
}
