package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/meridianaudio/renderworker/internal/payload"
)

// Status is a job's lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Job is a claimed or claimable row from audio_job_queue.
type Job struct {
	ID          string
	TrackID     string
	UserID      string
	Status      Status
	Payload     payload.Payload
	Progress    int
	StageLabel  string
	Error       string
	Attempts    int
	LeasedUntil *time.Time
}

// DequeueOne atomically claims the oldest pending row, skipping rows
// currently leased by other workers, and transitions it to processing.
// Returns ErrNoPendingJob if no row was available to claim.
func (c *Client) DequeueOne(ctx context.Context) (*Job, error) {
	const q = `
		WITH next_job AS (
			SELECT id FROM audio_job_queue
			WHERE status = 'pending'
			ORDER BY created_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE audio_job_queue
		SET status = 'processing',
		    attempts = attempts + 1,
		    leased_until = now() + ($1 || ' seconds')::interval
		FROM next_job
		WHERE audio_job_queue.id = next_job.id
		RETURNING audio_job_queue.id, track_id, user_id, payload, progress, stage, attempts, leased_until`

	var job *Job
	err := c.breaker.Execute(func() error {
		rows, qErr := c.pool.Query(ctx, q, int(c.leaseTTL.Seconds()))
		if qErr != nil {
			return qErr
		}
		jobs, collectErr := pgx.CollectRows(rows, scanJob)
		if collectErr != nil {
			return collectErr
		}
		if len(jobs) == 0 {
			return nil
		}
		job = &jobs[0]
		return nil
	})
	if err != nil {
		return nil, &QueueError{Op: "dequeue_one", Cause: err}
	}
	if job == nil {
		return nil, ErrNoPendingJob
	}
	job.Status = StatusProcessing
	return job, nil
}

func scanJob(row pgx.CollectableRow) (Job, error) {
	var (
		j          Job
		rawPayload []byte
	)
	if err := row.Scan(&j.ID, &j.TrackID, &j.UserID, &rawPayload, &j.Progress, &j.StageLabel, &j.Attempts, &j.LeasedUntil); err != nil {
		return Job{}, err
	}
	if err := json.Unmarshal(rawPayload, &j.Payload); err != nil {
		return Job{}, fmt.Errorf("queue: decode payload: %w", err)
	}
	return j, nil
}

// UpdateProgress reports the job's current percent and stage label.
// Best-effort and idempotent on percent monotonicity: a percent lower
// than the row's current value is not applied.
func (c *Client) UpdateProgress(ctx context.Context, jobID string, percent int, stageLabel string) error {
	const q = `
		UPDATE audio_job_queue
		SET progress = $2, stage = $3
		WHERE id = $1 AND progress <= $2`

	err := c.breaker.Execute(func() error {
		_, execErr := c.pool.Exec(ctx, q, jobID, percent, stageLabel)
		return execErr
	})
	if err != nil {
		return &QueueError{Op: "update_progress", Cause: err}
	}
	return nil
}

// Complete marks the job completed and releases its lease. Terminal:
// called at most once per claimed job. resultJSON is not stored; the
// audio_job_queue table has no column for it.
func (c *Client) Complete(ctx context.Context, jobID string, resultJSON json.RawMessage) error {
	const q = `
		UPDATE audio_job_queue
		SET status = 'completed', progress = 100, error = '', leased_until = NULL
		WHERE id = $1`
	err := c.breaker.Execute(func() error {
		_, execErr := c.pool.Exec(ctx, q, jobID)
		return execErr
	})
	if err != nil {
		return &QueueError{Op: "complete", Cause: err}
	}
	return nil
}

// Fail marks the job failed with the given error message and releases
// its lease. Terminal: called at most once per claimed job.
func (c *Client) Fail(ctx context.Context, jobID string, errMessage string) error {
	const q = `
		UPDATE audio_job_queue
		SET status = 'failed', error = $2, leased_until = NULL
		WHERE id = $1`
	err := c.breaker.Execute(func() error {
		_, execErr := c.pool.Exec(ctx, q, jobID, errMessage)
		return execErr
	})
	if err != nil {
		return &QueueError{Op: "fail", Cause: err}
	}
	return nil
}

// FinalizeTrack sets the persisted artifact's bucket-relative storage
// path and duration, and marks the track published. storagePath is
// never a signed URL, so downstream consumers may re-sign it.
func (c *Client) FinalizeTrack(ctx context.Context, trackID, storagePath string, durationMs int64) error {
	const q = `
		UPDATE tracks
		SET audio_url = $2, duration_seconds = $3, status = 'published'
		WHERE id = $1`
	durationSec := int(durationMs / 1000)
	err := c.breaker.Execute(func() error {
		_, execErr := c.pool.Exec(ctx, q, trackID, storagePath, durationSec)
		return execErr
	})
	if err != nil {
		return &QueueError{Op: "finalize_track", Cause: err}
	}
	return nil
}
