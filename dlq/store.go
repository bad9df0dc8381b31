package dlq

import (
	"context"
	"errors"
	"time"

	"github.com/supermarkhq/courier/id"
)

// Store defines the persistence contract for the dead-letter set.
type Store interface {
	// PushDLQ adds a permanently failed delivery to the set.
	PushDLQ(ctx context.Context, entry *Entry) error

	// ListDLQ returns entries, newest first, optionally filtered.
	ListDLQ(ctx context.Context, opts ListOpts) ([]*Entry, error)

	// GetDLQ returns an entry by ID.
	GetDLQ(ctx context.Context, entryID id.ID) (*Entry, error)

	// ReplayDLQ re-enqueues an entry as a fresh pending job and marks it
	// replayed.
	ReplayDLQ(ctx context.Context, entryID id.ID) error

	// PurgeDLQ deletes entries older than the cutoff.
	PurgeDLQ(ctx context.Context, before time.Time) (int64, error)

	// TrimDLQ drops the oldest entries beyond keep, bounding the set's size.
	TrimDLQ(ctx context.Context, keep int) (int64, error)

	// CountDLQ returns the total number of entries.
	CountDLQ(ctx context.Context) (int64, error)
}

// ErrNotFound is returned when a dead-letter entry cannot be found.
var ErrNotFound = errors.New("dlq: entry not found")
