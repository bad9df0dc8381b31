// Package noop provides the backend used when no queue backing service is
// configured: installations are kept in memory so the registry keeps
// working, but every enqueued delivery is logged and dropped.
//
// This makes the missing-backend failure mode explicit and observable
// instead of a silent nil path through the courier.
package noop

import (
	"context"
	"log/slog"

	"github.com/supermarkhq/courier/queue"
	"github.com/supermarkhq/courier/store"
	"github.com/supermarkhq/courier/store/memory"
)

// compile-time interface check.
var _ store.Store = (*Store)(nil)

// Store is the log-and-drop backend.
type Store struct {
	*memory.Store
	logger *slog.Logger
}

// New creates a noop store.
func New(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		Store:  memory.New(),
		logger: logger,
	}
}

// EnqueueJob logs the dropped delivery and discards the job. It returns
// store.ErrBackendUnavailable so the caller can count the drop instead of
// mistaking it for a successful enqueue.
func (s *Store) EnqueueJob(ctx context.Context, j *queue.Job) (*queue.Job, error) {
	s.logger.WarnContext(ctx, "no queue backend configured, dropping notification",
		"destination_id", j.DestinationID,
		"event_id", j.EventID,
		"event_type", j.EventType)
	return nil, store.ErrBackendUnavailable
}

// DequeueDue never returns work.
func (s *Store) DequeueDue(_ context.Context, _ int) ([]*queue.Job, error) {
	return nil, nil
}
