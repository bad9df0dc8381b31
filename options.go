package courier

import (
	"log/slog"
	"time"

	"github.com/supermarkhq/courier/compose"
	"github.com/supermarkhq/courier/delivery"
	"github.com/supermarkhq/courier/observability"
	"github.com/supermarkhq/courier/store"
)

// Option configures a Courier instance.
type Option func(*Courier) error

// WithStore sets the persistence backend for the Courier instance.
func WithStore(s store.Store) Option {
	return func(c *Courier) error {
		c.store = s
		return nil
	}
}

// WithLogger sets the structured logger for the Courier instance.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Courier) error {
		c.logger = logger
		return nil
	}
}

// WithLookups sets the entity lookups used during message composition.
// Without lookups every entity renders its fallback name.
func WithLookups(lookups compose.Lookups) Option {
	return func(c *Courier) error {
		c.lookups = lookups
		return nil
	}
}

// WithMetrics sets the Prometheus instruments for the Courier instance.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Courier) error {
		c.metrics = m
		return nil
	}
}

// WithTracer sets the OpenTelemetry tracer for delivery attempts.
func WithTracer(t *observability.Tracer) Option {
	return func(c *Courier) error {
		c.tracer = t
		return nil
	}
}

// WithConcurrency sets the number of delivery worker goroutines.
func WithConcurrency(n int) Option {
	return func(c *Courier) error {
		c.config.Concurrency = n
		return nil
	}
}

// WithPollInterval sets how often the delivery engine checks for due jobs.
func WithPollInterval(d time.Duration) Option {
	return func(c *Courier) error {
		c.config.PollInterval = d
		return nil
	}
}

// WithBatchSize sets the maximum number of jobs claimed per poll cycle.
func WithBatchSize(n int) Option {
	return func(c *Courier) error {
		c.config.BatchSize = n
		return nil
	}
}

// WithRequestTimeout sets the HTTP timeout per delivery attempt.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Courier) error {
		c.config.RequestTimeout = d
		return nil
	}
}

// WithMaxAttempts sets the attempt cap before a job dead-letters.
func WithMaxAttempts(n int) Option {
	return func(c *Courier) error {
		c.config.MaxAttempts = n
		return nil
	}
}

// WithRetryPolicy sets the backoff shape between attempts.
func WithRetryPolicy(p delivery.RetryPolicy) Option {
	return func(c *Courier) error {
		c.config.RetryPolicy = p
		return nil
	}
}

// WithSendBudget caps simultaneous outbound sends and the minimum gap
// between send starts across all workers.
func WithSendBudget(maxConcurrent int, minSpacing time.Duration) Option {
	return func(c *Courier) error {
		c.config.MaxConcurrentSends = maxConcurrent
		c.config.MinSendSpacing = minSpacing
		return nil
	}
}

// WithSigningSecret sets the HMAC key for payload signatures.
func WithSigningSecret(secret string) Option {
	return func(c *Courier) error {
		c.config.SigningSecret = secret
		return nil
	}
}

// WithDashboardURL sets the base URL for deep links in composed messages.
func WithDashboardURL(url string) Option {
	return func(c *Courier) error {
		c.config.DashboardURL = url
		return nil
	}
}

// WithDisplayName sets the sender name attached to composed messages.
func WithDisplayName(name string) Option {
	return func(c *Courier) error {
		c.config.DisplayName = name
		return nil
	}
}

// WithRetention sets the completed-job and dead-letter retention bounds.
func WithRetention(completedKeep int, completedMaxAge time.Duration, dlqKeep int, dlqMaxAge time.Duration) Option {
	return func(c *Courier) error {
		c.config.CompletedKeep = completedKeep
		c.config.CompletedMaxAge = completedMaxAge
		c.config.DLQKeep = dlqKeep
		c.config.DLQMaxAge = dlqMaxAge
		return nil
	}
}

// WithAuditRetention prunes audit records older than d during maintenance.
// Zero keeps records forever.
func WithAuditRetention(d time.Duration) Option {
	return func(c *Courier) error {
		c.config.AuditRetention = d
		return nil
	}
}

// WithMaintenanceSchedule sets the cron spec for the retention sweeps.
func WithMaintenanceSchedule(spec string) Option {
	return func(c *Courier) error {
		c.config.MaintenanceSchedule = spec
		return nil
	}
}
