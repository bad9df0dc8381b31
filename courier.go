package courier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/supermarkhq/courier/audit"
	"github.com/supermarkhq/courier/compose"
	"github.com/supermarkhq/courier/delivery"
	"github.com/supermarkhq/courier/dlq"
	"github.com/supermarkhq/courier/event"
	"github.com/supermarkhq/courier/id"
	"github.com/supermarkhq/courier/integration"
	"github.com/supermarkhq/courier/internal/entity"
	"github.com/supermarkhq/courier/observability"
	"github.com/supermarkhq/courier/queue"
	"github.com/supermarkhq/courier/ratelimit"
	"github.com/supermarkhq/courier/signature"
	"github.com/supermarkhq/courier/store"
)

// Courier is the root notification delivery engine.
type Courier struct {
	config   Config
	store    store.Store
	lookups  compose.Lookups
	registry *integration.Registry
	composer *compose.Composer
	auditSvc *audit.Service
	dlqSvc   *dlq.Service
	engine   *delivery.Engine
	limiter  *ratelimit.Limiter
	metrics  *observability.Metrics
	tracer   *observability.Tracer
	logger   *slog.Logger
	cron     *cron.Cron

	notifyCh chan *event.ActivityEvent
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	mu      sync.Mutex
	started bool
}

// New creates a new Courier with the given options.
func New(opts ...Option) (*Courier, error) {
	c := &Courier{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.store == nil {
		return nil, ErrNoStore
	}
	if c.config.SigningSecret == "" {
		// Signatures stay verifiable within one deployment; restarting with
		// a generated secret invalidates nothing because payloads are
		// re-signed at enqueue.
		c.config.SigningSecret = signature.GenerateSecret()
		c.logger.Warn("no signing secret configured, generated an ephemeral one")
	}
	c.wireServices()
	return c, nil
}

// wireServices initializes the internal services after options have been
// applied.
func (c *Courier) wireServices() {
	c.registry = integration.NewRegistry(c.store, c.store, c.logger)

	c.composer = compose.NewComposer(c.lookups, compose.Config{
		DashboardURL: c.config.DashboardURL,
		DisplayName:  c.config.DisplayName,
	}, c.logger)

	var failures audit.WriteFailureCounter
	if c.metrics != nil {
		failures = c.metrics.AuditWriteFailures
	}
	c.auditSvc = audit.NewService(c.store, failures, c.logger)

	c.dlqSvc = dlq.NewService(c.store, c.logger)

	c.limiter = ratelimit.New(c.config.MaxConcurrentSends, c.config.MinSendSpacing)

	c.engine = delivery.NewEngine(c.store, c.dlqSvc, c.auditSvc, c.limiter, delivery.EngineConfig{
		Concurrency:    c.config.Concurrency,
		PollInterval:   c.config.PollInterval,
		BatchSize:      c.config.BatchSize,
		RequestTimeout: c.config.RequestTimeout,
		RetryPolicy:    c.config.RetryPolicy,
		Metrics:        c.metrics,
		Tracer:         c.tracer,
	}, c.logger)
}

// Start begins the delivery engine, the asynchronous notify dispatcher, and
// the maintenance sweeps.
func (c *Courier) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.started = true

	ctx, c.cancel = context.WithCancel(ctx)

	c.notifyCh = make(chan *event.ActivityEvent, c.config.NotifyBuffer)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.dispatchLoop(ctx)
	}()

	c.engine.Start(ctx)
	c.startMaintenance(ctx)
}

// Stop drains the notify queue, shuts down the delivery engine, and waits
// for in-flight attempts to complete.
func (c *Courier) Stop(ctx context.Context) {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	c.mu.Unlock()

	c.stopMaintenance()
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	c.engine.Stop(ctx)
	c.limiter.Close()
}

// dispatchLoop feeds asynchronous notifications into the synchronous path.
func (c *Courier) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-c.notifyCh:
			if err := c.NotifyActivity(ctx, evt); err != nil {
				c.logger.ErrorContext(ctx, "async notify failed",
					"event_id", evt.ID, "event_type", evt.Type, "error", err)
			}
		}
	}
}

// NotifyActivity resolves, composes, signs, and enqueues one delivery job
// per destination subscribed to the event. It returns once every job is
// durably queued; the sends themselves happen asynchronously.
//
// A failure on one destination never blocks the others: enqueue errors are
// collected and joined, and every other destination still gets its job.
func (c *Courier) NotifyActivity(ctx context.Context, evt *event.ActivityEvent) error {
	if !evt.Type.Valid() {
		return fmt.Errorf("%w: %s", ErrUnknownEventType, evt.Type)
	}
	if evt.ID.IsNil() {
		evt.ID = id.NewEventID()
	}

	if c.metrics != nil {
		c.metrics.EventsNotifiedTotal.Inc()
	}

	dests, err := c.registry.ResolveDestinations(ctx, evt.TeamID, evt.Type)
	if err != nil {
		return err
	}
	if len(dests) == 0 {
		return nil
	}

	msg, err := c.composer.Compose(ctx, evt)
	if err != nil || msg == nil {
		return err
	}

	now := time.Now().UTC()
	var errs []error
	var enqueued, dropped int
	for _, dest := range dests {
		payload, buildErr := dest.Provider.BuildPayload(dest.ChannelID, msg.Text, msg.DisplayName)
		if buildErr != nil {
			errs = append(errs, fmt.Errorf("build payload for %s: %w", dest.ID(), buildErr))
			continue
		}

		j := &queue.Job{
			Entity:         entity.New(),
			ID:             id.NewJobID(),
			DedupKey:       queue.DedupKey(dest.ID(), evt.ID),
			DestinationID:  dest.ID(),
			DestinationURL: dest.URL,
			Headers:        dest.Headers,
			Payload:        payload,
			Signature:      signature.Sign(payload, c.config.SigningSecret),
			EventID:        evt.ID,
			EventType:      evt.Type,
			TeamID:         evt.TeamID,
			State:          queue.StatePending,
			MaxAttempts:    c.config.MaxAttempts,
			NextAttemptAt:  now,
		}

		stored, enqueueErr := c.store.EnqueueJob(ctx, j)
		if enqueueErr != nil {
			// A missing backend drops the delivery: counted, logged by the
			// backend, and never surfaced to the notifying application.
			if errors.Is(enqueueErr, store.ErrBackendUnavailable) {
				dropped++
				continue
			}
			errs = append(errs, fmt.Errorf("enqueue for %s: %w", dest.ID(), enqueueErr))
			continue
		}
		if stored.ID.String() == j.ID.String() {
			enqueued++
		}
	}

	if c.metrics != nil {
		if enqueued > 0 {
			c.metrics.JobsEnqueuedTotal.Add(float64(enqueued))
			c.metrics.PendingJobs.Add(float64(enqueued))
		}
		if dropped > 0 {
			c.metrics.JobsDroppedTotal.Add(float64(dropped))
		}
	}

	c.logger.DebugContext(ctx, "activity notified",
		"event_id", evt.ID,
		"event_type", evt.Type,
		"destinations", len(dests),
		"enqueued", enqueued,
	)

	return errors.Join(errs...)
}

// Notify queues an event for asynchronous processing and returns
// immediately. When the buffer is full the event is dropped with a warning
// rather than blocking the caller's request path.
func (c *Courier) Notify(evt *event.ActivityEvent) error {
	c.mu.Lock()
	started := c.started
	ch := c.notifyCh
	c.mu.Unlock()
	if !started {
		return ErrNotStarted
	}

	select {
	case ch <- evt:
		return nil
	default:
		if c.metrics != nil {
			c.metrics.JobsDroppedTotal.Inc()
		}
		c.logger.Warn("notify buffer full, dropping event",
			"event_type", evt.Type, "team_id", evt.TeamID)
		return nil
	}
}

// NotifyDocumentView notifies a document view event.
func (c *Courier) NotifyDocumentView(ctx context.Context, evt *event.ActivityEvent) error {
	evt.Type = event.TypeDocumentView
	return c.NotifyActivity(ctx, evt)
}

// NotifyDataroomAccess notifies a dataroom access event.
func (c *Courier) NotifyDataroomAccess(ctx context.Context, evt *event.ActivityEvent) error {
	evt.Type = event.TypeDataroomAccess
	return c.NotifyActivity(ctx, evt)
}

// NotifyDocumentDownload notifies a document download event.
func (c *Courier) NotifyDocumentDownload(ctx context.Context, evt *event.ActivityEvent) error {
	evt.Type = event.TypeDocumentDownload
	return c.NotifyActivity(ctx, evt)
}

// Integrations returns the integration registry.
func (c *Courier) Integrations() *integration.Registry {
	return c.registry
}

// Audit returns the delivery audit service.
func (c *Courier) Audit() *audit.Service {
	return c.auditSvc
}

// DLQ returns the dead-letter service.
func (c *Courier) DLQ() *dlq.Service {
	return c.dlqSvc
}

// Store returns the underlying store.
func (c *Courier) Store() store.Store {
	return c.store
}
