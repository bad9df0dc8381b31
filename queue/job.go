// Package queue defines the durable delivery job model and its persistence
// contract.
//
// A job is self-contained: it carries the destination URL, the provider-shaped
// payload, and the payload signature, so the worker never needs to re-resolve
// integrations or re-compose messages when it picks the job up.
package queue

import (
	"time"

	"github.com/supermarkhq/courier/event"
	"github.com/supermarkhq/courier/id"
	"github.com/supermarkhq/courier/internal/entity"
)

// State represents the current state of a delivery job.
type State string

const (
	// StatePending indicates the job is awaiting an attempt.
	StatePending State = "pending"

	// StateInFlight indicates a worker has claimed the job.
	StateInFlight State = "inflight"

	// StateCompleted indicates the destination accepted the delivery.
	StateCompleted State = "completed"

	// StateDeadLettered indicates the job exhausted its attempts and was
	// moved to the dead-letter set.
	StateDeadLettered State = "deadlettered"
)

// Terminal reports whether s is a terminal state.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateDeadLettered
}

// DedupKey derives the deterministic key that collapses duplicate enqueues
// for the same (destination, source event) pair.
func DedupKey(destinationID string, eventID id.ID) string {
	return destinationID + ":" + eventID.String()
}

// Job is one delivery attempt-chain for one (destination, event) pair.
type Job struct {
	entity.Entity

	// ID is the unique TypeID for this job.
	ID id.ID `json:"id"`

	// DedupKey collapses duplicate enqueues while the job is not terminal.
	DedupKey string `json:"dedup_key"`

	// DestinationID identifies the destination this job delivers to.
	DestinationID string `json:"destination_id"`

	// DestinationURL is the HTTP delivery target.
	DestinationURL string `json:"destination_url"`

	// Headers are provider-required headers sent with every attempt.
	Headers map[string]string `json:"headers,omitempty"`

	// Payload is the provider-shaped message body.
	Payload []byte `json:"payload"`

	// Signature is the HMAC over Payload, constant across attempts.
	Signature string `json:"signature"`

	// EventID references the source activity event.
	EventID id.ID `json:"event_id"`

	// EventType is the source event type, kept for filtering and audit.
	EventType event.Type `json:"event_type"`

	// TeamID identifies the team the source event belonged to.
	TeamID string `json:"team_id"`

	// State is the current job state.
	State State `json:"state"`

	// AttemptCount is the number of delivery attempts made so far.
	AttemptCount int `json:"attempt_count"`

	// MaxAttempts is the attempt cap before dead-lettering.
	MaxAttempts int `json:"max_attempts"`

	// NextAttemptAt is when the next delivery attempt should occur.
	NextAttemptAt time.Time `json:"next_attempt_at"`

	// LastError is the error message from the most recent failed attempt.
	LastError string `json:"last_error,omitempty"`

	// LastStatusCode is the HTTP status from the most recent attempt.
	LastStatusCode int `json:"last_status_code,omitempty"`

	// CompletedAt is when the job reached a terminal state.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ListOpts configures filtering and pagination for job listing.
type ListOpts struct {
	Offset int
	Limit  int
	State  *State
}
