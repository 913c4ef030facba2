package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/brandkit-crawler/internal/brandkit"
)

const jobColumns = `id, owner_id, target_url, status, progress, options, next_step, attempts,
	not_before, lease_until, context, note, result, error_code, error_message,
	started_at, finished_at, created_at, updated_at`

const (
	insertJobSQL = `INSERT INTO crawl_jobs (id, owner_id, target_url, status, progress, options, next_step, created_at, updated_at)
VALUES ($1, $2, $3, 'pending', 0, $4, 'fetch', $5, $5)
RETURNING ` + jobColumns

	getJobSQL = `SELECT ` + jobColumns + ` FROM crawl_jobs WHERE id = $1`

	claimPendingSQL = `UPDATE crawl_jobs
SET status = 'processing', started_at = COALESCE(started_at, $1), lease_until = $2,
	attempts = attempts + 1, updated_at = $1
WHERE id IN (
	SELECT id FROM crawl_jobs
	WHERE status = 'pending'
	ORDER BY created_at, id
	LIMIT $3
	FOR UPDATE SKIP LOCKED
) AND status = 'pending'
RETURNING ` + jobColumns

	claimDueSQL = `UPDATE crawl_jobs
SET lease_until = $2, attempts = attempts + 1, updated_at = $1
WHERE id IN (
	SELECT id FROM crawl_jobs
	WHERE status = 'processing'
		AND (lease_until IS NULL OR lease_until < $1)
		AND (not_before IS NULL OR not_before <= $1)
	ORDER BY COALESCE(not_before, created_at), id
	LIMIT $3
	FOR UPDATE SKIP LOCKED
) AND status = 'processing' AND (lease_until IS NULL OR lease_until < $1)
RETURNING ` + jobColumns

	recordProgressSQL = `UPDATE crawl_jobs
SET progress = GREATEST(progress, $2), note = $3, updated_at = now()
WHERE id = $1 AND status IN ('pending', 'processing')`

	saveStepSQL = `UPDATE crawl_jobs
SET next_step = $2, attempts = $3, not_before = $4, context = $5,
	progress = GREATEST(progress, $6), note = $7, lease_until = NULL, updated_at = now()
WHERE id = $1 AND status IN ('pending', 'processing')`

	completeJobSQL = `UPDATE crawl_jobs
SET status = 'completed', progress = 100, result = $2, finished_at = $3,
	lease_until = NULL, not_before = NULL, updated_at = $3
WHERE id = $1 AND status = 'processing'`

	failJobSQL = `UPDATE crawl_jobs
SET status = 'failed', error_code = $2, error_message = $3, finished_at = $4,
	lease_until = NULL, not_before = NULL, updated_at = $4
WHERE id = $1 AND status = 'processing'`

	failStaleSQL = `UPDATE crawl_jobs
SET status = 'failed', error_code = $2, error_message = $3, finished_at = $4,
	lease_until = NULL, not_before = NULL, updated_at = $4
WHERE status = 'processing' AND updated_at < $1
RETURNING ` + jobColumns

	findReusableSQL = `SELECT ` + jobColumns + ` FROM crawl_jobs
WHERE owner_id = $1 AND target_url = $2 AND status = 'completed' AND finished_at >= $3
ORDER BY finished_at DESC
LIMIT 1`

	reassignJobsSQL = `UPDATE crawl_jobs SET owner_id = $2, updated_at = now()
WHERE owner_id = $1 AND status IN ('pending', 'processing')`

	latestTerminalSQL = `SELECT ` + jobColumns + ` FROM crawl_jobs
WHERE owner_id = $1 AND status IN ('completed', 'failed') AND finished_at IS NOT NULL
ORDER BY finished_at DESC
LIMIT 1`
)

// JobStore persists jobs in the crawl_jobs table.
type JobStore struct {
	db DB
}

// NewJobStore wraps an open pool.
func NewJobStore(db DB) (*JobStore, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	return &JobStore{db: db}, nil
}

// Close releases the pool.
func (s *JobStore) Close() {
	if s == nil || s.db == nil {
		return
	}
	s.db.Close()
}

// Create inserts a pending job.
func (s *JobStore) Create(ctx context.Context, nj brandkit.NewJob) (brandkit.Job, error) {
	if err := brandkit.ValidateTargetURL(nj.TargetURL); err != nil {
		return brandkit.Job{}, err
	}
	opts, err := json.Marshal(nj.Options)
	if err != nil {
		return brandkit.Job{}, fmt.Errorf("marshal options: %w", err)
	}
	created := nj.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	row := s.db.QueryRow(ctx, insertJobSQL, nj.ID, nj.OwnerID, strings.TrimSpace(nj.TargetURL), opts, created)
	job, err := scanJob(row)
	if err != nil {
		return brandkit.Job{}, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

// Get fetches a job by ID.
func (s *JobStore) Get(ctx context.Context, jobID string) (brandkit.Job, error) {
	job, err := scanJob(s.db.QueryRow(ctx, getJobSQL, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return brandkit.Job{}, brandkit.ErrNotFound
	}
	if err != nil {
		return brandkit.Job{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ClaimNextPending moves the oldest pending jobs to processing. SKIP LOCKED
// keeps concurrent claimers on disjoint rows.
func (s *JobStore) ClaimNextPending(ctx context.Context, limit int, now time.Time, lease time.Duration) ([]brandkit.Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	jobs, err := s.queryJobs(ctx, claimPendingSQL, now, now.Add(lease), limit)
	if err != nil {
		return nil, fmt.Errorf("claim pending: %w", err)
	}
	sortByCreated(jobs)
	return jobs, nil
}

// ClaimDue leases processing jobs whose lease expired and retry delay elapsed.
func (s *JobStore) ClaimDue(ctx context.Context, limit int, now time.Time, lease time.Duration) ([]brandkit.Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	jobs, err := s.queryJobs(ctx, claimDueSQL, now, now.Add(lease), limit)
	if err != nil {
		return nil, fmt.Errorf("claim due: %w", err)
	}
	sortByCreated(jobs)
	return jobs, nil
}

// RecordProgress raises progress on a non-terminal job.
func (s *JobStore) RecordProgress(ctx context.Context, jobID string, progress int, note string) error {
	if _, err := s.db.Exec(ctx, recordProgressSQL, jobID, clampProgress(progress), note); err != nil {
		return fmt.Errorf("record progress: %w", err)
	}
	return nil
}

// SaveStep persists step state and releases the lease.
func (s *JobStore) SaveStep(ctx context.Context, jobID string, u brandkit.StepUpdate) (bool, error) {
	sc, err := json.Marshal(u.Context)
	if err != nil {
		return false, fmt.Errorf("marshal step context: %w", err)
	}
	tag, err := s.db.Exec(ctx, saveStepSQL, jobID, string(u.NextStep), u.Attempts, u.NotBefore, sc, clampProgress(u.Progress), u.Note)
	if err != nil {
		return false, fmt.Errorf("save step: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Complete marks a processing job completed. Terminal jobs report false.
func (s *JobStore) Complete(ctx context.Context, jobID string, result brandkit.BrandKit, at time.Time) (bool, error) {
	payload, err := json.Marshal(result)
	if err != nil {
		return false, fmt.Errorf("marshal result: %w", err)
	}
	tag, err := s.db.Exec(ctx, completeJobSQL, jobID, payload, at)
	if err != nil {
		return false, fmt.Errorf("complete job: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Fail marks a processing job failed. Terminal jobs report false.
func (s *JobStore) Fail(ctx context.Context, jobID, code, message string, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, failJobSQL, jobID, code, message, at)
	if err != nil {
		return false, fmt.Errorf("fail job: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// FailStale fails processing jobs not updated since cutoff.
func (s *JobStore) FailStale(ctx context.Context, cutoff time.Time, code, message string, at time.Time) ([]brandkit.Job, error) {
	jobs, err := s.queryJobs(ctx, failStaleSQL, cutoff, code, message, at)
	if err != nil {
		return nil, fmt.Errorf("fail stale: %w", err)
	}
	sortByCreated(jobs)
	return jobs, nil
}

// FindReusable returns the latest completed job for owner and URL.
func (s *JobStore) FindReusable(ctx context.Context, ownerID, targetURL string, since time.Time) (brandkit.Job, error) {
	job, err := scanJob(s.db.QueryRow(ctx, findReusableSQL, ownerID, targetURL, since))
	if errors.Is(err, pgx.ErrNoRows) {
		return brandkit.Job{}, brandkit.ErrNotFound
	}
	if err != nil {
		return brandkit.Job{}, fmt.Errorf("find reusable: %w", err)
	}
	return job, nil
}

// ReassignOwner re-points non-terminal jobs to a new owner.
func (s *JobStore) ReassignOwner(ctx context.Context, from, to string) (int, error) {
	tag, err := s.db.Exec(ctx, reassignJobsSQL, from, to)
	if err != nil {
		return 0, fmt.Errorf("reassign jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// LatestTerminal returns the owner's most recently finished job.
func (s *JobStore) LatestTerminal(ctx context.Context, ownerID string) (brandkit.Job, error) {
	job, err := scanJob(s.db.QueryRow(ctx, latestTerminalSQL, ownerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return brandkit.Job{}, brandkit.ErrNotFound
	}
	if err != nil {
		return brandkit.Job{}, fmt.Errorf("latest terminal: %w", err)
	}
	return job, nil
}

func (s *JobStore) queryJobs(ctx context.Context, sql string, args ...any) ([]brandkit.Job, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []brandkit.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (brandkit.Job, error) {
	var (
		job                 brandkit.Job
		status, step        string
		options, sc, result []byte
		errorCode, errorMsg *string
	)
	err := row.Scan(
		&job.ID,
		&job.OwnerID,
		&job.TargetURL,
		&status,
		&job.Progress,
		&options,
		&step,
		&job.Attempts,
		&job.NotBefore,
		&job.LeaseUntil,
		&sc,
		&job.Note,
		&result,
		&errorCode,
		&errorMsg,
		&job.StartedAt,
		&job.FinishedAt,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return brandkit.Job{}, err
	}
	job.Status = brandkit.JobStatus(status)
	job.NextStep = brandkit.Step(step)
	if len(options) > 0 {
		if err := json.Unmarshal(options, &job.Options); err != nil {
			return brandkit.Job{}, fmt.Errorf("decode options: %w", err)
		}
	}
	if len(sc) > 0 {
		if err := json.Unmarshal(sc, &job.Context); err != nil {
			return brandkit.Job{}, fmt.Errorf("decode context: %w", err)
		}
	}
	if len(result) > 0 {
		var kit brandkit.BrandKit
		if err := json.Unmarshal(result, &kit); err != nil {
			return brandkit.Job{}, fmt.Errorf("decode result: %w", err)
		}
		job.Result = &kit
	}
	if errorCode != nil {
		job.ErrorCode = *errorCode
	}
	if errorMsg != nil {
		job.ErrorMessage = *errorMsg
	}
	return job, nil
}

func sortByCreated(jobs []brandkit.Job) {
	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
		}
		return jobs[i].ID < jobs[j].ID
	})
}

func clampProgress(p int) int {
	return min(max(p, 0), 100)
}
