// Package store defines the composite Store interface for courier
// persistence.
//
// Each subsystem defines its own store interface; the aggregate Store
// composes them all. Backends implement the whole aggregate so that one
// connection serves installations, jobs, audit records, and the dead-letter
// set together.
package store

import (
	"context"
	"errors"

	"github.com/supermarkhq/courier/audit"
	"github.com/supermarkhq/courier/dlq"
	"github.com/supermarkhq/courier/integration"
	"github.com/supermarkhq/courier/queue"
)

// ErrClosed is returned when a store operation is attempted after Close.
var ErrClosed = errors.New("store: closed")

// ErrBackendUnavailable is returned by EnqueueJob when no durable queue
// backend is configured and the delivery is dropped. Callers count the drop
// and move on; it never reaches the notifying application as a failure.
var ErrBackendUnavailable = errors.New("store: backend unavailable")

// Store is the aggregate persistence interface.
type Store interface {
	integration.Store
	queue.Store
	audit.Store
	dlq.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
