// Package queue is a PostgreSQL-backed implementation of the render job
// queue: atomic dequeue with lease semantics, progress reporting,
// terminal transitions, storage upload/download, and insert
// notification.
package queue

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlAudioJobQueue = `
CREATE TABLE IF NOT EXISTS audio_job_queue (
    id            TEXT         PRIMARY KEY,
    track_id      TEXT         NOT NULL,
    user_id       TEXT         NOT NULL DEFAULT '',
    status        TEXT         NOT NULL DEFAULT 'pending',
    payload       JSONB        NOT NULL,
    progress      INTEGER      NOT NULL DEFAULT 0,
    stage         TEXT         NOT NULL DEFAULT '',
    error         TEXT         NOT NULL DEFAULT '',
    attempts      INTEGER      NOT NULL DEFAULT 0,
    leased_until  TIMESTAMPTZ,
    created_at    TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_audio_job_queue_status_created
    ON audio_job_queue (status, created_at);

CREATE INDEX IF NOT EXISTS idx_audio_job_queue_leased_until
    ON audio_job_queue (leased_until);
`

const ddlTracks = `
CREATE TABLE IF NOT EXISTS tracks (
    id               TEXT         PRIMARY KEY,
    audio_url        TEXT         NOT NULL DEFAULT '',
    duration_seconds INTEGER      NOT NULL DEFAULT 0,
    status           TEXT         NOT NULL DEFAULT 'pending'
);
`

// Migrate creates or ensures the audio_job_queue and tracks tables exist.
// It is idempotent and safe to call on every process start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{ddlAudioJobQueue, ddlTracks}
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("queue: migrate: %w", err)
		}
	}
	return nil
}
