package dlq

import (
	"context"
	"log/slog"
	"time"

	"github.com/supermarkhq/courier/id"
	"github.com/supermarkhq/courier/internal/entity"
	"github.com/supermarkhq/courier/queue"
)

// Service manages the dead-letter set.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService creates a dead-letter service.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		logger: logger,
	}
}

// PushFailed records a job that exhausted its attempts. Implements the
// delivery engine's DeadLetterer.
func (svc *Service) PushFailed(ctx context.Context, j *queue.Job, lastError string, lastStatusCode int) error {
	entry := &Entry{
		Entity:         entity.New(),
		ID:             id.NewDLQID(),
		JobID:          j.ID,
		EventID:        j.EventID,
		DestinationID:  j.DestinationID,
		EventType:      j.EventType,
		TeamID:         j.TeamID,
		URL:            j.DestinationURL,
		Payload:        j.Payload,
		Error:          lastError,
		LastStatusCode: lastStatusCode,
		AttemptCount:   j.AttemptCount,
		FailedAt:       time.Now().UTC(),
	}

	return svc.store.PushDLQ(ctx, entry)
}

// List returns entries matching the given options.
func (svc *Service) List(ctx context.Context, opts ListOpts) ([]*Entry, error) {
	return svc.store.ListDLQ(ctx, opts)
}

// Get returns an entry by ID.
func (svc *Service) Get(ctx context.Context, entryID id.ID) (*Entry, error) {
	return svc.store.GetDLQ(ctx, entryID)
}

// Replay re-enqueues a single entry for redelivery.
func (svc *Service) Replay(ctx context.Context, entryID id.ID) error {
	return svc.store.ReplayDLQ(ctx, entryID)
}

// Purge removes entries older than before.
func (svc *Service) Purge(ctx context.Context, before time.Time) (int64, error) {
	return svc.store.PurgeDLQ(ctx, before)
}

// Trim bounds the set to at most keep entries, dropping the oldest.
func (svc *Service) Trim(ctx context.Context, keep int) (int64, error) {
	return svc.store.TrimDLQ(ctx, keep)
}

// Count returns the total number of entries.
func (svc *Service) Count(ctx context.Context) (int64, error) {
	return svc.store.CountDLQ(ctx)
}
