// Package dlq holds delivery jobs that exhausted their retry attempts.
//
// Dead-lettered jobs are retained for operator inspection rather than
// silently dropped, and remain replayable until evicted by the retention
// sweeps.
package dlq

import (
	"time"

	"github.com/supermarkhq/courier/event"
	"github.com/supermarkhq/courier/id"
	"github.com/supermarkhq/courier/internal/entity"
)

// Entry is one permanently failed delivery in the dead-letter set.
type Entry struct {
	entity.Entity

	// ID is the unique TypeID for this entry.
	ID id.ID `json:"id"`

	// JobID references the failed delivery job.
	JobID id.ID `json:"job_id"`

	// EventID references the source activity event.
	EventID id.ID `json:"event_id"`

	// DestinationID identifies the destination that kept failing.
	DestinationID string `json:"destination_id"`

	// EventType is the source event type, kept for filtering.
	EventType event.Type `json:"event_type"`

	// TeamID identifies the owning team.
	TeamID string `json:"team_id"`

	// URL is the destination URL at the time of failure.
	URL string `json:"url"`

	// Payload is the provider-shaped message that failed to deliver.
	Payload []byte `json:"payload"`

	// Error is the error message from the final attempt.
	Error string `json:"error"`

	// LastStatusCode is the HTTP status from the final attempt.
	LastStatusCode int `json:"last_status_code,omitempty"`

	// AttemptCount is the total number of attempts made.
	AttemptCount int `json:"attempt_count"`

	// FailedAt is when the job permanently failed.
	FailedAt time.Time `json:"failed_at"`

	// ReplayedAt is set when the entry has been re-enqueued.
	ReplayedAt *time.Time `json:"replayed_at,omitempty"`
}

// ListOpts configures filtering and pagination for dead-letter listing.
type ListOpts struct {
	Offset        int
	Limit         int
	TeamID        string
	DestinationID string
	From          *time.Time
	To            *time.Time
}
