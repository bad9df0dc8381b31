package courier

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
)

// startMaintenance schedules the retention sweeps: completed-job eviction,
// dead-letter trimming and purging, and optional audit pruning.
func (c *Courier) startMaintenance(ctx context.Context) {
	if c.config.MaintenanceSchedule == "" {
		return
	}

	c.cron = cron.New()
	_, err := c.cron.AddFunc(c.config.MaintenanceSchedule, func() {
		c.runMaintenance(ctx)
	})
	if err != nil {
		c.logger.Error("invalid maintenance schedule, sweeps disabled",
			"schedule", c.config.MaintenanceSchedule, "error", err)
		c.cron = nil
		return
	}
	c.cron.Start()
}

// stopMaintenance halts the sweep scheduler.
func (c *Courier) stopMaintenance() {
	if c.cron != nil {
		c.cron.Stop()
	}
}

// runMaintenance performs one retention sweep.
func (c *Courier) runMaintenance(ctx context.Context) {
	now := time.Now().UTC()

	evicted, err := c.store.EvictCompleted(ctx, c.config.CompletedKeep, c.config.CompletedMaxAge)
	if err != nil {
		c.logger.ErrorContext(ctx, "evict completed jobs failed", "error", err)
	} else if evicted > 0 {
		c.logger.DebugContext(ctx, "evicted completed jobs", "count", evicted)
	}

	if c.config.DLQMaxAge > 0 {
		purged, err := c.dlqSvc.Purge(ctx, now.Add(-c.config.DLQMaxAge))
		if err != nil {
			c.logger.ErrorContext(ctx, "purge dead-letter set failed", "error", err)
		} else if purged > 0 {
			c.logger.InfoContext(ctx, "purged dead-letter entries", "count", purged)
		}
	}
	if c.config.DLQKeep > 0 {
		trimmed, err := c.dlqSvc.Trim(ctx, c.config.DLQKeep)
		if err != nil {
			c.logger.ErrorContext(ctx, "trim dead-letter set failed", "error", err)
		} else if trimmed > 0 {
			c.logger.InfoContext(ctx, "trimmed dead-letter entries", "count", trimmed)
		}
	}

	if c.config.AuditRetention > 0 {
		pruned, err := c.auditSvc.Prune(ctx, now.Add(-c.config.AuditRetention))
		if err != nil {
			c.logger.ErrorContext(ctx, "prune audit records failed", "error", err)
		} else if pruned > 0 {
			c.logger.DebugContext(ctx, "pruned audit records", "count", pruned)
		}
	}

	// Gauges are resynced from the store so drift from crashed workers
	// corrects itself within one sweep.
	if c.metrics != nil {
		if pending, err := c.store.CountPending(ctx); err == nil {
			c.metrics.PendingJobs.Set(float64(pending))
		}
		if size, err := c.dlqSvc.Count(ctx); err == nil {
			c.metrics.DLQSize.Set(float64(size))
		}
	}
}
