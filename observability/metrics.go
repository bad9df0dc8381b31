// Package observability provides Prometheus metrics and OpenTelemetry tracing
// for the courier.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the courier's metric instruments, registered against any
// Prometheus registerer (pass prometheus.DefaultRegisterer in applications,
// a fresh registry in tests).
type Metrics struct {
	EventsNotifiedTotal prometheus.Counter
	JobsEnqueuedTotal   prometheus.Counter
	JobsDroppedTotal    prometheus.Counter
	DeliveriesTotal     *prometheus.CounterVec
	DeliveryLatency     prometheus.Histogram
	PendingJobs         prometheus.Gauge
	DLQSize             prometheus.Gauge
	AuditWriteFailures  prometheus.Counter
}

// NewMetrics creates and registers the courier metric instruments.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsNotifiedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "courier_events_notified_total",
			Help: "Activity events handed to the courier.",
		}),
		JobsEnqueuedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "courier_jobs_enqueued_total",
			Help: "Delivery jobs enqueued (after dedup).",
		}),
		JobsDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "courier_jobs_dropped_total",
			Help: "Deliveries dropped because no queue backend is configured.",
		}),
		DeliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "courier_deliveries_total",
			Help: "Delivery attempts by outcome.",
		}, []string{"status"}),
		DeliveryLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "courier_delivery_latency_seconds",
			Help:    "Latency of delivery attempts.",
			Buckets: prometheus.DefBuckets,
		}),
		PendingJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "courier_pending_jobs",
			Help: "Jobs awaiting a delivery attempt.",
		}),
		DLQSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "courier_dlq_size",
			Help: "Entries in the dead-letter set.",
		}),
		AuditWriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "courier_audit_write_failures_total",
			Help: "Audit log appends that failed and were swallowed.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.EventsNotifiedTotal,
			m.JobsEnqueuedTotal,
			m.JobsDroppedTotal,
			m.DeliveriesTotal,
			m.DeliveryLatency,
			m.PendingJobs,
			m.DLQSize,
			m.AuditWriteFailures,
		)
	}

	return m
}

// RecordDelivery records one delivery attempt outcome.
func (m *Metrics) RecordDelivery(status string, latencySeconds float64) {
	m.DeliveriesTotal.WithLabelValues(status).Inc()
	m.DeliveryLatency.Observe(latencySeconds)
}
