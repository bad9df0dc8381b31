package audit

import (
	"context"
	"time"
)

// Store defines the persistence contract for the delivery audit log.
type Store interface {
	// AppendRecord persists a record. Records are never mutated afterwards.
	AppendRecord(ctx context.Context, rec *Record) error

	// ListRecordsByDestination returns records for a destination ordered by
	// timestamp descending. Each call is a fresh read.
	ListRecordsByDestination(ctx context.Context, destinationID string, opts QueryOpts) ([]*Record, error)

	// PruneRecords deletes records older than the cutoff, returning the
	// number deleted. Retention is an operator decision, not a courier one.
	PruneRecords(ctx context.Context, before time.Time) (int64, error)
}
