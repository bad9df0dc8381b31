package delivery

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/supermarkhq/courier/audit"
	"github.com/supermarkhq/courier/id"
	"github.com/supermarkhq/courier/observability"
	"github.com/supermarkhq/courier/queue"
)

// EngineStore is the interface the engine needs for job operations.
type EngineStore interface {
	DequeueDue(ctx context.Context, limit int) ([]*queue.Job, error)
	UpdateJob(ctx context.Context, j *queue.Job) error
}

// DeadLetterer receives jobs that exhausted their attempts.
type DeadLetterer interface {
	PushFailed(ctx context.Context, j *queue.Job, lastError string, lastStatusCode int) error
}

// Recorder appends audit records for delivery attempts.
type Recorder interface {
	Record(ctx context.Context, rec *audit.Record)
}

// Limiter gates outbound sends. Satisfied by ratelimit.Limiter.
type Limiter interface {
	Do(ctx context.Context, fn func(context.Context) error) error
}

// EngineConfig holds engine configuration.
type EngineConfig struct {
	Concurrency    int
	PollInterval   time.Duration
	BatchSize      int
	RequestTimeout time.Duration
	RetryPolicy    RetryPolicy
	Metrics        *observability.Metrics
	Tracer         *observability.Tracer
}

// Engine is the delivery worker pool: it claims due jobs, performs the
// rate-limited HTTP send, records the attempt in the audit log, and applies
// the retrier's decision.
type Engine struct {
	store   EngineStore
	sender  *Sender
	retrier *Retrier
	dlq     DeadLetterer
	auditor Recorder
	limiter Limiter
	config  EngineConfig
	logger  *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine creates a delivery engine. limiter and auditor may be nil.
func NewEngine(store EngineStore, dlq DeadLetterer, auditor Recorder, limiter Limiter, cfg EngineConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:   store,
		sender:  NewSender(cfg.RequestTimeout),
		retrier: NewRetrier(cfg.RetryPolicy),
		dlq:     dlq,
		auditor: auditor,
		limiter: limiter,
		config:  cfg,
		logger:  logger,
	}
}

// Start begins the delivery workers and poll loop.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.pollLoop(ctx)
	}()
}

// Stop cancels the poll loop and waits for in-flight attempts to complete.
func (e *Engine) Stop(_ context.Context) {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

// pollLoop periodically claims due jobs and dispatches them to workers.
func (e *Engine) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(e.config.PollInterval)
	defer ticker.Stop()

	sem := make(chan struct{}, e.config.Concurrency)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			batch, err := e.store.DequeueDue(ctx, e.config.BatchSize)
			if err != nil {
				e.logger.ErrorContext(ctx, "dequeue failed", "error", err)
				continue
			}

			for _, j := range batch {
				select {
				case <-ctx.Done():
					return
				case sem <- struct{}{}:
				}

				e.wg.Add(1)
				go func(job *queue.Job) {
					defer e.wg.Done()
					defer func() { <-sem }()
					e.process(ctx, job)
				}(j)
			}
		}
	}
}

// process handles a single claimed job: rate-limited send, audit append,
// retry decision, state update.
func (e *Engine) process(ctx context.Context, j *queue.Job) {
	var span trace.Span
	if e.config.Tracer != nil {
		ctx, span = e.config.Tracer.StartAttemptSpan(ctx, j.ID.String(), j.EventID.String(), j.DestinationID)
	}

	j.AttemptCount++

	var result Result
	send := func(ctx context.Context) error {
		result = e.sender.Send(ctx, j)
		return nil
	}

	if e.limiter != nil {
		if err := e.limiter.Do(ctx, send); err != nil {
			// The limiter only fails when it is shut down; put the claimed
			// job back without burning the attempt.
			j.AttemptCount--
			j.State = queue.StatePending
			j.NextAttemptAt = time.Now().UTC()
			if updateErr := e.store.UpdateJob(ctx, j); updateErr != nil {
				e.logger.ErrorContext(ctx, "requeue on limiter shutdown failed",
					"job_id", j.ID, "error", updateErr)
			}
			if span != nil {
				e.config.Tracer.EndAttemptSpan(span, 0, 0, err.Error())
			}
			return
		}
	} else {
		_ = send(ctx)
	}

	j.LastError = result.Error
	j.LastStatusCode = result.StatusCode

	// The audit entry exists before the job transitions state, so even a
	// job that dead-letters right after leaves a full attempt trail.
	if e.auditor != nil {
		e.auditor.Record(ctx, &audit.Record{
			ID:            id.NewRecordID(),
			EventID:       j.EventID,
			DestinationID: j.DestinationID,
			JobID:         j.ID,
			EventType:     j.EventType,
			URL:           j.DestinationURL,
			HTTPStatus:    result.StatusCode,
			RequestBody:   string(j.Payload),
			ResponseBody:  result.Response,
			CreatedAt:     time.Now().UTC(),
		})
	}

	latencySeconds := float64(result.LatencyMs) / 1000.0
	decision := e.retrier.Decide(result, j)

	switch decision {
	case Completed:
		now := time.Now().UTC()
		j.State = queue.StateCompleted
		j.CompletedAt = &now
		if e.config.Metrics != nil {
			e.config.Metrics.RecordDelivery("delivered", latencySeconds)
			e.config.Metrics.PendingJobs.Dec()
		}
		e.logger.DebugContext(ctx, "delivered",
			"job_id", j.ID, "status", result.StatusCode, "latency_ms", result.LatencyMs)

	case Retry:
		j.State = queue.StatePending
		j.NextAttemptAt = e.retrier.ComputeNextAttempt(j.AttemptCount, result.RetryAfter)
		if e.config.Metrics != nil {
			e.config.Metrics.RecordDelivery("retried", latencySeconds)
		}
		e.logger.DebugContext(ctx, "retry scheduled",
			"job_id", j.ID, "attempt", j.AttemptCount, "next_at", j.NextAttemptAt)

	case DeadLetter:
		now := time.Now().UTC()
		j.State = queue.StateDeadLettered
		j.CompletedAt = &now
		if e.dlq != nil {
			if dlqErr := e.dlq.PushFailed(ctx, j, result.Error, result.StatusCode); dlqErr != nil {
				e.logger.ErrorContext(ctx, "push to dead-letter set failed",
					"job_id", j.ID, "error", dlqErr)
			}
		}
		if e.config.Metrics != nil {
			e.config.Metrics.RecordDelivery("failed", latencySeconds)
			e.config.Metrics.PendingJobs.Dec()
			e.config.Metrics.DLQSize.Inc()
		}
		e.logger.ErrorContext(ctx, "delivery failed permanently",
			"job_id", j.ID, "destination_id", j.DestinationID,
			"status", result.StatusCode, "attempts", j.AttemptCount, "error", result.Error)
	}

	if span != nil {
		e.config.Tracer.EndAttemptSpan(span, result.StatusCode, result.LatencyMs, result.Error)
	}

	if updateErr := e.store.UpdateJob(ctx, j); updateErr != nil {
		e.logger.ErrorContext(ctx, "update job failed",
			"job_id", j.ID, "error", updateErr)
	}
}
