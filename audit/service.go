package audit

import (
	"context"
	"log/slog"
	"time"
)

// WriteFailureCounter is notified when an audit append fails, so failures
// can be alarmed on without ever blocking delivery.
type WriteFailureCounter interface {
	Inc()
}

// Service provides the delivery audit log.
type Service struct {
	store    Store
	failures WriteFailureCounter
	logger   *slog.Logger
}

// NewService creates an audit service. failures may be nil.
func NewService(store Store, failures WriteFailureCounter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		failures: failures,
		logger:   logger,
	}
}

// Record appends a delivery attempt record. It never fails the caller: a
// storage failure is logged and counted, and delivery proceeds regardless.
func (svc *Service) Record(ctx context.Context, rec *Record) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	if err := svc.store.AppendRecord(ctx, rec); err != nil {
		if svc.failures != nil {
			svc.failures.Inc()
		}
		svc.logger.ErrorContext(ctx, "audit record write failed",
			"job_id", rec.JobID, "destination_id", rec.DestinationID, "error", err)
	}
}

// QueryByDestination returns the delivery history for a destination, newest
// first.
func (svc *Service) QueryByDestination(ctx context.Context, destinationID string, opts QueryOpts) ([]*Record, error) {
	return svc.store.ListRecordsByDestination(ctx, destinationID, opts)
}

// Prune deletes records older than before.
func (svc *Service) Prune(ctx context.Context, before time.Time) (int64, error) {
	return svc.store.PruneRecords(ctx, before)
}
