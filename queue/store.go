package queue

import (
	"context"
	"errors"
	"time"

	"github.com/supermarkhq/courier/id"
)

// Store defines the persistence contract for delivery jobs.
type Store interface {
	// EnqueueJob persists a pending job, deduplicated on DedupKey: if a job
	// with the same key is already pending or in flight, the existing job is
	// returned unchanged and the new one is discarded. Completed and
	// dead-lettered jobs do not block re-enqueueing.
	EnqueueJob(ctx context.Context, j *Job) (*Job, error)

	// DequeueDue atomically claims up to limit jobs whose NextAttemptAt has
	// passed, marking them in flight. A claimed job is never returned to a
	// second caller; this is what keeps retries of one dedup key strictly
	// sequential.
	DequeueDue(ctx context.Context, limit int) ([]*Job, error)

	// UpdateJob persists attempt results and state transitions. A job moved
	// back to StatePending re-enters the due set at its NextAttemptAt.
	UpdateJob(ctx context.Context, j *Job) error

	// GetJob returns a job by ID.
	GetJob(ctx context.Context, jobID id.ID) (*Job, error)

	// ListJobsByDestination returns jobs for a destination, newest first.
	ListJobsByDestination(ctx context.Context, destinationID string, opts ListOpts) ([]*Job, error)

	// PurgePending removes pending jobs for a destination, returning the
	// number removed. destinationID may be an installation ID, which purges
	// all of that installation's channel destinations too. In-flight jobs
	// are left to finish.
	PurgePending(ctx context.Context, destinationID string) (int64, error)

	// CountPending returns the number of jobs awaiting attempt.
	CountPending(ctx context.Context) (int64, error)

	// EvictCompleted drops completed jobs beyond keep or older than maxAge,
	// returning the number evicted. Zero values disable the respective bound.
	EvictCompleted(ctx context.Context, keep int, maxAge time.Duration) (int64, error)
}

// ErrJobNotFound is returned when a job cannot be found.
var ErrJobNotFound = errors.New("queue: job not found")
