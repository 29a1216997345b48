package queue

import (
	"context"
	"time"
)

// JobInserted is emitted whenever a new row lands in audio_job_queue.
// SubscribeInserts' polling loop delivers it to the dispatcher.
type JobInserted struct {
	JobID string
}

// SubscribeInserts registers callback to run whenever a new queue row is
// inserted. This implementation is poll-based — no message-broker
// dependency exists anywhere in the reference pack — ticking every
// pollInterval and comparing the newest known created_at against what it
// last saw. The returned func stops the subscription.
func (c *Client) SubscribeInserts(ctx context.Context, pollInterval time.Duration, callback func(JobInserted)) (stop func()) {
	subCtx, cancel := context.WithCancel(ctx)

	go func() {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()

		lastSeen := time.Now()
		for {
			select {
			case <-subCtx.Done():
				return
			case <-ticker.C:
				ids, newest, err := c.pollNewInserts(subCtx, lastSeen)
				if err != nil {
					continue // query failed: skip this tick without logging
				}
				if !newest.IsZero() {
					lastSeen = newest
				}
				for _, id := range ids {
					callback(JobInserted{JobID: id})
				}
			}
		}
	}()

	return cancel
}

func (c *Client) pollNewInserts(ctx context.Context, since time.Time) ([]string, time.Time, error) {
	const q = `
		SELECT id, created_at FROM audio_job_queue
		WHERE status = 'pending' AND created_at > $1
		ORDER BY created_at`

	rows, err := c.pool.Query(ctx, q, since)
	if err != nil {
		return nil, time.Time{}, err
	}
	defer rows.Close()

	var (
		ids    []string
		newest time.Time
	)
	for rows.Next() {
		var (
			id        string
			createdAt time.Time
		)
		if err := rows.Scan(&id, &createdAt); err != nil {
			return nil, time.Time{}, err
		}
		ids = append(ids, id)
		if createdAt.After(newest) {
			newest = createdAt
		}
	}
	return ids, newest, rows.Err()
}
