package courier

import "errors"

// Sentinel errors returned by Courier operations.
var (
	// ErrNoStore is returned when a Courier is created without a store.
	ErrNoStore = errors.New("courier: store is required")

	// ErrUnknownEventType is returned when notifying with an event type the
	// courier does not know.
	ErrUnknownEventType = errors.New("courier: unknown event type")

	// ErrNotStarted is returned by Notify before Start has been called.
	ErrNotStarted = errors.New("courier: not started")
)
