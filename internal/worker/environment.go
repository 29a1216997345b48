// Package worker implements the render worker's dual-environment dispatch
// loop: a DEV and an optional PROD queue binding, each polled and pushed
// into independently, with PROD always drained before DEV within one
// activation so PROD traffic is never starved by DEV traffic.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/meridianaudio/renderworker/internal/health"
	"github.com/meridianaudio/renderworker/internal/observe"
	"github.com/meridianaudio/renderworker/internal/pipeline"
	"github.com/meridianaudio/renderworker/internal/queue"
)

// Queue is the subset of *queue.Client an Environment needs: the pipeline's
// view of the store plus dequeue and insert notification. *queue.Client
// satisfies this structurally.
type Queue interface {
	pipeline.QueueStore
	DequeueOne(ctx context.Context) (*queue.Job, error)
	SubscribeInserts(ctx context.Context, pollInterval time.Duration, callback func(queue.JobInserted)) (stop func())
}

// Environment is one queue binding (DEV or PROD): its own queue client,
// pipeline, and counters. At most one process call is in flight per
// Environment at a time — a second activation arriving mid-process is
// coalesced away by the isProcessing guard, per §4.F's backpressure rule.
type Environment struct {
	Name            string
	Queue           Queue
	Pipeline        *pipeline.Pipeline
	MaxJobsPerCycle int

	mu             sync.Mutex
	processing     bool
	totalProcessed int64
	totalFailed    int64
	lastPoll       time.Time
}

func (e *Environment) tryEnter() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.processing {
		return false
	}
	e.processing = true
	return true
}

func (e *Environment) exit() {
	e.mu.Lock()
	e.processing = false
	e.mu.Unlock()
}

// snapshot returns the environment's counters as of now, for /health.
func (e *Environment) snapshot() health.EnvironmentStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return health.EnvironmentStatus{
		Enabled:        true,
		IsProcessing:   e.processing,
		TotalProcessed: e.totalProcessed,
		TotalFailed:    e.totalFailed,
		LastPoll:       e.lastPoll,
	}
}

// process drains up to MaxJobsPerCycle jobs from the queue, running each
// through Pipeline.Run. It returns immediately, without error, if another
// process call is already in flight or the queue has nothing pending.
func (e *Environment) process(ctx context.Context) {
	if !e.tryEnter() {
		return
	}
	defer e.exit()

	e.mu.Lock()
	e.lastPoll = time.Now()
	e.mu.Unlock()

	for i := 0; i < e.MaxJobsPerCycle; i++ {
		job, err := e.Queue.DequeueOne(ctx)
		if err != nil {
			if !errors.Is(err, queue.ErrNoPendingJob) {
				observe.Logger(ctx).Error("dequeue failed", "environment", e.Name, "error", err)
			}
			return
		}

		runErr := e.Pipeline.Run(ctx, job)
		e.mu.Lock()
		if runErr != nil {
			e.totalFailed++
		} else {
			e.totalProcessed++
		}
		e.mu.Unlock()
	}
}
