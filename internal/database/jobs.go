package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EnqueueJob creates a pending job on the named queue and returns its id.
func (d *Database) EnqueueJob(ctx context.Context, queue, payload string, priority, maxAttempts int) (string, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("enqueue_job", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	id := uuid.New().String()
	_, err = d.db.ExecContext(ctx, `
		INSERT INTO jobs (id, queue, payload, state, priority, max_attempts, created_at)
		VALUES (?, ?, ?, 'pending', ?, ?, ?)`,
		id, queue, payload, priority, maxAttempts, time.Now().Unix(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue job on %s: %w", queue, err)
	}
	return id, nil
}

// ClaimNextJob atomically claims the highest-priority pending job on the
// named queue, transitioning it to processing and incrementing its
// attempt count. Returns (nil, nil) when the queue has no runnable job.
//
// The claim is a single UPDATE, so two concurrent claimers can never
// receive the same job.
func (d *Database) ClaimNextJob(ctx context.Context, queue string) (*Job, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("claim_job", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	now := time.Now().Unix()
	row := d.db.QueryRowContext(ctx, `
		UPDATE jobs
		SET state = 'processing', attempts = attempts + 1, started_at = ?
		WHERE id = (
			SELECT id FROM jobs
			WHERE queue = ? AND state = 'pending' AND run_after <= ?
			ORDER BY priority ASC, created_at ASC
			LIMIT 1
		)
		RETURNING id, queue, payload, state, priority, attempts, max_attempts,
		          last_error, run_after, created_at, started_at, finished_at`,
		now, queue, now,
	)

	job, scanErr := scanJob(row)
	if errors.Is(scanErr, sql.ErrNoRows) {
		return nil, nil
	}
	if scanErr != nil {
		err = scanErr
		return nil, fmt.Errorf("failed to claim job on %s: %w", queue, scanErr)
	}
	return job, nil
}

// CompleteJob marks a processing job as completed.
func (d *Database) CompleteJob(ctx context.Context, id string) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("complete_job", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	res, err := d.db.ExecContext(ctx, `
		UPDATE jobs SET state = 'completed', finished_at = ? WHERE id = ? AND state = 'processing'`,
		time.Now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete job %s: %w", id, err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		err = fmt.Errorf("job %s is not in processing state", id)
		return err
	}
	return nil
}

// FailJob records a failed attempt. While attempts remain the job goes
// back to pending with a backoff delay; once attempts are exhausted it
// moves to dead_letter, a terminal state that preserves the error.
// Returns the resulting state.
func (d *Database) FailJob(ctx context.Context, id, errMsg string, backoff time.Duration) (JobState, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("fail_job", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	now := time.Now()
	var state string
	err = d.db.QueryRowContext(ctx, `
		UPDATE jobs
		SET state = CASE WHEN attempts >= max_attempts THEN 'dead_letter' ELSE 'pending' END,
		    last_error = ?,
		    run_after = CASE WHEN attempts >= max_attempts THEN run_after ELSE ? END,
		    finished_at = CASE WHEN attempts >= max_attempts THEN ? ELSE NULL END
		WHERE id = ? AND state = 'processing'
		RETURNING state`,
		errMsg, now.Add(backoff).Unix(), now.Unix(), id,
	).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("job %s is not in processing state", id)
	}
	if err != nil {
		return "", fmt.Errorf("failed to fail job %s: %w", id, err)
	}
	return JobState(state), nil
}

// GetJob returns the job with the given id, or (nil, nil) when absent.
func (d *Database) GetJob(ctx context.Context, id string) (*Job, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("get_job", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	row := d.db.QueryRowContext(ctx, `
		SELECT id, queue, payload, state, priority, attempts, max_attempts,
		       last_error, run_after, created_at, started_at, finished_at
		FROM jobs WHERE id = ?`, id)

	job, scanErr := scanJob(row)
	if errors.Is(scanErr, sql.ErrNoRows) {
		return nil, nil
	}
	if scanErr != nil {
		err = scanErr
		return nil, fmt.Errorf("failed to load job %s: %w", id, scanErr)
	}
	return job, nil
}

// JobQueueStats returns per-queue counts of jobs by state. FailJob
// requeues a retryable job in the same transition, so 'failed' is never
// a stored state; a pending job with a recorded attempt is a failed
// attempt awaiting retry and is reported as failed.
func (d *Database) JobQueueStats(ctx context.Context) (map[string]QueueStats, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("queue_stats", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx, `
		SELECT queue,
		       CASE WHEN state = 'pending' AND attempts > 0 THEN 'failed' ELSE state END AS bucket,
		       COUNT(*)
		FROM jobs GROUP BY queue, bucket`)
	if err != nil {
		return nil, fmt.Errorf("failed to query queue stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]QueueStats)
	for rows.Next() {
		var queue, state string
		var count int
		if err = rows.Scan(&queue, &state, &count); err != nil {
			return nil, fmt.Errorf("failed to scan queue stats: %w", err)
		}
		s := stats[queue]
		switch JobState(state) {
		case JobPending:
			s.Pending = count
		case JobProcessing:
			s.Processing = count
		case JobCompleted:
			s.Completed = count
		case JobFailed:
			s.Failed = count
		case JobDeadLetter:
			s.DeadLetter = count
		}
		stats[queue] = s
	}
	err = rows.Err()
	return stats, err
}

// RequeueOrphanedJobs returns every processing job to pending. Run
// once at startup, before any claimer exists: a graceful stop drains
// handlers to a settled state, so a job still in processing can only
// have been orphaned by a crash.
func (d *Database) RequeueOrphanedJobs(ctx context.Context) (int64, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("requeue_orphaned", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	res, err := d.db.ExecContext(ctx, `
		UPDATE jobs SET state = 'pending', started_at = NULL WHERE state = 'processing'`)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue orphaned jobs: %w", err)
	}
	return res.RowsAffected()
}

// PruneFinishedJobs deletes completed jobs older than the cutoff.
// Dead-letter jobs are kept until an operator deletes them.
func (d *Database) PruneFinishedJobs(ctx context.Context, olderThan time.Time) (int64, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("prune_jobs", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	res, err := d.db.ExecContext(ctx, `
		DELETE FROM jobs WHERE state = 'completed' AND finished_at < ?`,
		olderThan.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prune jobs: %w", err)
	}
	return res.RowsAffected()
}

func scanJob(row rowScanner) (*Job, error) {
	var j Job
	var state string
	var runAfter, createdAt int64
	var startedAt, finishedAt sql.NullInt64

	err := row.Scan(
		&j.ID, &j.Queue, &j.Payload, &state, &j.Priority, &j.Attempts, &j.MaxAttempts,
		&j.LastError, &runAfter, &createdAt, &startedAt, &finishedAt,
	)
	if err != nil {
		return nil, err
	}

	j.State = JobState(state)
	j.RunAfter = time.Unix(runAfter, 0)
	j.CreatedAt = time.Unix(createdAt, 0)
	if startedAt.Valid {
		t := time.Unix(startedAt.Int64, 0)
		j.StartedAt = &t
	}
	if finishedAt.Valid {
		t := time.Unix(finishedAt.Int64, 0)
		j.FinishedAt = &t
	}
	return &j, nil
}
