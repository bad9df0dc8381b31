// Package audit keeps the append-only record of every delivery attempt.
//
// The audit log is independent of job lifecycle state: an entry exists for
// every attempt, including the attempts of jobs that were ultimately
// dead-lettered. It is the only user-visible trace of the asynchronous
// delivery pipeline.
package audit

import (
	"time"

	"github.com/supermarkhq/courier/event"
	"github.com/supermarkhq/courier/id"
)

// Record is one delivery attempt outcome.
type Record struct {
	// ID is the unique TypeID for this record.
	ID id.ID `json:"id"`

	// EventID references the source activity event.
	EventID id.ID `json:"event_id"`

	// DestinationID identifies the destination that was attempted.
	DestinationID string `json:"destination_id"`

	// JobID references the delivery job that made the attempt.
	JobID id.ID `json:"job_id"`

	// EventType is the source event type.
	EventType event.Type `json:"event_type"`

	// URL is the destination URL at attempt time.
	URL string `json:"url"`

	// HTTPStatus is the response status, 0 on network error or timeout.
	HTTPStatus int `json:"http_status"`

	// RequestBody is the payload that was sent.
	RequestBody string `json:"request_body"`

	// ResponseBody is the response body, capped at 1KB.
	ResponseBody string `json:"response_body,omitempty"`

	// CreatedAt is when the attempt finished.
	CreatedAt time.Time `json:"created_at"`
}

// QueryOpts configures an audit query.
type QueryOpts struct {
	// Since restricts results to records created at or after this time.
	Since *time.Time

	// Limit caps the number of records returned; 0 means no cap.
	Limit int
}
