package courier

import (
	"time"

	"github.com/supermarkhq/courier/delivery"
)

// Config holds the configuration for a Courier instance.
type Config struct {
	// Concurrency is the number of delivery worker goroutines.
	Concurrency int

	// PollInterval is how often the delivery engine checks for due jobs.
	PollInterval time.Duration

	// BatchSize is the maximum number of jobs claimed per poll cycle.
	BatchSize int

	// RequestTimeout is the HTTP timeout per delivery attempt.
	RequestTimeout time.Duration

	// MaxAttempts is the attempt cap before a job dead-letters.
	MaxAttempts int

	// RetryPolicy shapes the backoff between attempts.
	RetryPolicy delivery.RetryPolicy

	// MaxConcurrentSends caps simultaneous outbound sends across all workers.
	MaxConcurrentSends int

	// MinSendSpacing is the minimum gap between outbound send starts.
	MinSendSpacing time.Duration

	// NotifyBuffer is the capacity of the asynchronous Notify queue.
	NotifyBuffer int

	// CompletedKeep is the number of most recent completed jobs retained.
	CompletedKeep int

	// CompletedMaxAge evicts completed jobs older than this.
	CompletedMaxAge time.Duration

	// DLQKeep bounds the dead-letter set to this many entries.
	DLQKeep int

	// DLQMaxAge purges dead-letter entries older than this.
	DLQMaxAge time.Duration

	// AuditRetention prunes audit records older than this. Zero keeps them
	// forever.
	AuditRetention time.Duration

	// MaintenanceSchedule is the cron spec for the retention sweeps.
	MaintenanceSchedule string

	// SigningSecret is the HMAC key for payload signatures. Generated at
	// startup when empty.
	SigningSecret string

	// DashboardURL is the base URL for deep links in composed messages.
	DashboardURL string

	// DisplayName is the sender name attached to composed messages.
	DisplayName string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:         5,
		PollInterval:        1 * time.Second,
		BatchSize:           25,
		RequestTimeout:      10 * time.Second,
		MaxAttempts:         3,
		RetryPolicy:         delivery.DefaultRetryPolicy(),
		MaxConcurrentSends:  1,
		MinSendSpacing:      100 * time.Millisecond,
		NotifyBuffer:        256,
		CompletedKeep:       100,
		CompletedMaxAge:     24 * time.Hour,
		DLQKeep:             500,
		DLQMaxAge:           7 * 24 * time.Hour,
		MaintenanceSchedule: "@every 5m",
	}
}
